package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"classchat-service/internal/models"
	"classchat-service/internal/observability"
	"classchat-service/internal/presence"
	"classchat-service/internal/repositories"
	"classchat-service/internal/telemetry"
)

// Ack error strings surfaced to callers.
const (
	errForbidden    = "Forbidden"
	errUnauthorized = "Unauthorized"
	errConflict     = "Conflict"
)

const commandTimeout = 10 * time.Second

// Server executes the inbound command surface: joinGroups, sendMessage,
// typing and createGroup. Every failure is reported through the command's
// ack; nothing here terminates the connection.
type Server struct {
	hub      *Hub
	groups   repositories.GroupRepository
	messages repositories.MessageRepository
	tracker  *presence.Tracker
	validate *validator.Validate
	audit    *telemetry.AuditEmitter
}

// NewServer wires the command handler.
func NewServer(hub *Hub, groups repositories.GroupRepository, messages repositories.MessageRepository, tracker *presence.Tracker, audit *telemetry.AuditEmitter) *Server {
	return &Server{
		hub:      hub,
		groups:   groups,
		messages: messages,
		tracker:  tracker,
		validate: validator.New(),
		audit:    audit,
	}
}

// Handle dispatches one inbound frame for a client.
func (s *Server) Handle(c *Client, frame models.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	observability.IncWSEvent("chat", frame.Event)

	switch frame.Event {
	case models.EventJoinGroups:
		s.handleJoinGroups(ctx, c, frame.Data)
	case models.EventSendMessage:
		s.handleSendMessage(ctx, c, frame.Seq, frame.Data)
	case models.EventTyping:
		s.handleTyping(c, frame.Data)
	case models.EventCreateGroup:
		s.handleCreateGroup(ctx, c, frame.Seq, frame.Data)
	default:
		log.Printf("unknown event %q from user=%s", frame.Event, c.Identity.UserID)
		if frame.Seq != 0 {
			s.ack(c, frame.Seq, false, "unknown event")
		}
	}
}

// handleJoinGroups subscribes the connection to each requested group. Ids
// that do not exist, or that the caller is not a member of, are skipped
// rather than failed: the client's locally known set may be stale.
func (s *Server) handleJoinGroups(ctx context.Context, c *Client, data json.RawMessage) {
	var cmd models.JoinGroupsCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Printf("joinGroups bad payload from user=%s: %v", c.Identity.UserID, err)
		return
	}

	for _, groupID := range lo.Uniq(cmd.GroupIDs) {
		exists, err := s.groups.Exists(ctx, groupID)
		if err != nil {
			log.Printf("joinGroups exists check failed group=%s: %v", groupID, err)
			continue
		}
		if !exists {
			continue
		}
		member, err := s.groups.IsMember(ctx, groupID, c.Identity.UserID)
		if err != nil || !member {
			continue
		}
		s.hub.Subscribe(groupID, c)
	}
}

// handleSendMessage validates, persists and fans out a message. The sender's
// ack is enqueued before fan-out starts, and fan-out only ever runs after
// the message is durably stored.
func (s *Server) handleSendMessage(ctx context.Context, c *Client, seq uint64, data json.RawMessage) {
	var cmd models.SendMessageCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.ack(c, seq, false, "invalid payload")
		return
	}
	if err := s.validate.Struct(cmd); err != nil {
		s.ack(c, seq, false, "invalid payload")
		return
	}

	msg := models.Message{
		GroupID:    cmd.GroupID,
		SenderID:   c.Identity.UserID,
		SenderRole: c.Identity.Role,
		SenderName: cmd.SenderName,
		Text:       cmd.Text,
		ImageURL:   cmd.ImageURL,
	}
	if err := msg.ValidateContent(); err != nil {
		s.ack(c, seq, false, err.Error())
		return
	}

	member, err := s.groups.IsMember(ctx, cmd.GroupID, c.Identity.UserID)
	if err != nil {
		s.ack(c, seq, false, "membership check failed")
		return
	}
	if !member {
		s.emitAudit(ctx, c, "ERROR", "message rejected: sender not a member")
		s.ack(c, seq, false, errForbidden)
		return
	}

	stored, err := s.messages.CreateMessage(ctx, msg)
	if err != nil {
		s.emitAudit(ctx, c, "ERROR", "failed to store message")
		s.ack(c, seq, false, "failed to store message")
		return
	}

	s.ack(c, seq, true, "")
	s.emitAudit(ctx, c, "INFO", "Group message sent")

	go s.hub.BroadcastToGroup(stored.GroupID, models.NewFrame(models.EventMessage, 0, stored))
}

// handleTyping records the signal and fans it out. Fire and forget: no ack,
// no persistence.
func (s *Server) handleTyping(c *Client, data json.RawMessage) {
	var sig models.TypingSignal
	if err := json.Unmarshal(data, &sig); err != nil || sig.GroupID == "" {
		return
	}
	// The connection identity wins over whatever the payload claims.
	sig.UserID = c.Identity.UserID
	if sig.DisplayName == "" {
		sig.DisplayName = c.Identity.DisplayName
	}

	observability.IncTypingSignal()
	s.tracker.Signal(sig)
	s.hub.BroadcastToGroup(sig.GroupID, models.NewFrame(models.EventTyping, 0, sig))
}

// handleCreateGroup creates a group and notifies its connected members. The
// creator is acked regardless of whether it is itself a member.
func (s *Server) handleCreateGroup(ctx context.Context, c *Client, seq uint64, data json.RawMessage) {
	if c.Identity.Role != models.RoleAdmin {
		s.emitAudit(ctx, c, "ERROR", "createGroup rejected: not an admin")
		s.ack(c, seq, false, errUnauthorized)
		return
	}

	var cmd models.CreateGroupCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.ack(c, seq, false, "invalid payload")
		return
	}
	if err := s.validate.Struct(cmd); err != nil {
		s.ack(c, seq, false, "group name must not be empty")
		return
	}

	group, err := s.groups.CreateGroup(ctx, uuid.NewString(), cmd.GroupName, c.Identity.UserID, cmd.StudentIDs, cmd.InstructorIDs)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateGroup) {
			s.ack(c, seq, false, errConflict)
			return
		}
		s.emitAudit(ctx, c, "ERROR", "failed to create group")
		s.ack(c, seq, false, "could not create group")
		return
	}

	s.ack(c, seq, true, "")
	s.emitAudit(ctx, c, "INFO", "Group created")

	// groupCreated targets the new member sets, not current subscribers.
	go s.hub.BroadcastToUsers(group.MemberIDs(), models.NewFrame(models.EventGroupCreated, 0, group))
}

func (s *Server) ack(c *Client, seq uint64, success bool, errText string) {
	if seq == 0 {
		return
	}
	c.Send(models.NewFrame(models.EventAck, seq, models.AckResult{Success: success, Error: errText}))
}

func (s *Server) emitAudit(ctx context.Context, c *Client, level, text string) {
	if s.audit == nil {
		return
	}
	userID := c.Identity.UserID
	s.audit.Emit(ctx, level, text, c.RequestID, &userID)
}
