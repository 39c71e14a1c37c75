package client

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/samber/lo"

	"classchat-service/internal/models"
	"classchat-service/internal/presence"
)

// HistoryFetcher is the query side of the storage collaborator as seen from
// a client: the point-in-time reads that get merged with the live stream.
type HistoryFetcher interface {
	ListGroups(ctx context.Context) ([]models.Group, error)
	ListMessages(ctx context.Context, groupID string) ([]models.Message, error)
}

// Session owns one user's view of the messaging layer: a shared Channel, a
// normalized group store keyed by id, and one Timeline per group. The
// selected group is a lookup into the store, never a second copy.
type Session struct {
	channel *Channel
	history HistoryFetcher
	typing  *presence.Tracker

	mu         sync.Mutex
	groups     map[string]models.Group
	timelines  map[string]*Timeline
	compose    map[string]string
	joined     []string
	selectedID string

	handlerIDs []struct {
		event string
		id    HandlerID
	}
}

// NewSession wires a session over a channel and history fetcher. The typing
// tracker mirrors the server window so indicators expire locally.
func NewSession(channel *Channel, history HistoryFetcher, typing *presence.Tracker) *Session {
	return &Session{
		channel:   channel,
		history:   history,
		typing:    typing,
		groups:    make(map[string]models.Group),
		timelines: make(map[string]*Timeline),
		compose:   make(map[string]string),
	}
}

// Start connects the channel, loads the user's groups, joins them and seeds
// every timeline from history.
func (s *Session) Start(ctx context.Context) error {
	s.channel.SetOnReconnect(func() {
		if err := s.Resync(context.Background()); err != nil {
			log.Printf("session: resync after reconnect failed: %v", err)
		}
	})
	if err := s.channel.Connect(ctx); err != nil {
		return err
	}

	s.register(models.EventMessage, s.onMessage)
	s.register(models.EventGroupCreated, s.onGroupCreated)
	s.register(models.EventTyping, s.onTyping)

	return s.Resync(ctx)
}

// Stop releases the channel reference and removes handlers.
func (s *Session) Stop() {
	s.mu.Lock()
	ids := s.handlerIDs
	s.handlerIDs = nil
	s.mu.Unlock()
	for _, h := range ids {
		s.channel.Off(h.event, h.id)
	}
	s.channel.Disconnect()
}

// Resync re-joins the known group set and re-runs the point-in-time query
// for each group, treating the fresh result as authoritative. Run at start
// and after every reconnect; messages missed while offline come back here.
func (s *Session) Resync(ctx context.Context) error {
	groups, err := s.history.ListGroups(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.groups = make(map[string]models.Group, len(groups))
	for _, g := range groups {
		s.groups[g.ID] = g
	}
	s.joined = lo.Map(groups, func(g models.Group, _ int) string { return g.ID })
	joined := append([]string{}, s.joined...)
	s.mu.Unlock()

	if err := s.channel.Emit(models.EventJoinGroups, models.JoinGroupsCommand{GroupIDs: joined}, nil); err != nil {
		return err
	}

	for _, groupID := range joined {
		history, err := s.history.ListMessages(ctx, groupID)
		if err != nil {
			return err
		}
		s.timeline(groupID).Seed(history)
	}
	return nil
}

// Join subscribes to additional groups and seeds their timelines.
func (s *Session) Join(ctx context.Context, groupIDs []string) error {
	s.mu.Lock()
	s.joined = lo.Uniq(append(s.joined, groupIDs...))
	s.mu.Unlock()

	if err := s.channel.Emit(models.EventJoinGroups, models.JoinGroupsCommand{GroupIDs: groupIDs}, nil); err != nil {
		return err
	}
	for _, groupID := range groupIDs {
		history, err := s.history.ListMessages(ctx, groupID)
		if err != nil {
			return err
		}
		s.timeline(groupID).Seed(history)
	}
	return nil
}

// SetCompose records in-progress input for a group.
func (s *Session) SetCompose(groupID, text string) {
	s.mu.Lock()
	s.compose[groupID] = text
	s.mu.Unlock()
}

// Compose returns the current input for a group.
func (s *Session) Compose(groupID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compose[groupID]
}

// Send emits the compose state as a sendMessage command. The compose box is
// cleared only when the ack reports success, never on the fan-out echo: the
// ack may race the echo, and a failed send must leave the text for retry.
func (s *Session) Send(groupID, senderName string, image *string, ack AckFunc) error {
	s.mu.Lock()
	text := s.compose[groupID]
	s.mu.Unlock()

	var textPtr *string
	if text != "" {
		textPtr = &text
	}
	cmd := models.SendMessageCommand{GroupID: groupID, SenderName: senderName, Text: textPtr, ImageURL: image}

	return s.channel.Emit(models.EventSendMessage, cmd, func(res models.AckResult, err error) {
		if err == nil && res.Success {
			s.mu.Lock()
			delete(s.compose, groupID)
			s.mu.Unlock()
		}
		if ack != nil {
			ack(res, err)
		}
	})
}

// Typing emits a fire-and-forget typing signal for the group.
func (s *Session) Typing(groupID, userID, displayName string) {
	sig := models.TypingSignal{GroupID: groupID, UserID: userID, DisplayName: displayName}
	if err := s.channel.Emit(models.EventTyping, sig, nil); err != nil {
		log.Printf("session: typing emit failed: %v", err)
	}
}

// CreateGroup issues a createGroup command with an ack.
func (s *Session) CreateGroup(cmd models.CreateGroupCommand, ack AckFunc) error {
	return s.channel.Emit(models.EventCreateGroup, cmd, ack)
}

// Select marks a group as the active one.
func (s *Session) Select(groupID string) {
	s.mu.Lock()
	s.selectedID = groupID
	s.mu.Unlock()
}

// Selected returns the active group as a lookup into the normalized store.
func (s *Session) Selected() (models.Group, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[s.selectedID]
	return g, ok
}

// Groups returns the known groups keyed by id.
func (s *Session) Groups() map[string]models.Group {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.Group, len(s.groups))
	for id, g := range s.groups {
		out[id] = g
	}
	return out
}

// Messages returns the reconciled timeline for a group.
func (s *Session) Messages(groupID string) []models.Message {
	return s.timeline(groupID).Messages()
}

// TypingUsers returns who is currently composing in a group.
func (s *Session) TypingUsers(groupID string) []models.TypingSignal {
	if s.typing == nil {
		return nil
	}
	return s.typing.Active(groupID)
}

func (s *Session) timeline(groupID string) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[groupID]
	if !ok {
		t = NewTimeline(groupID)
		s.timelines[groupID] = t
	}
	return t
}

func (s *Session) register(event string, fn Handler) {
	id := s.channel.On(event, fn)
	s.mu.Lock()
	s.handlerIDs = append(s.handlerIDs, struct {
		event string
		id    HandlerID
	}{event: event, id: id})
	s.mu.Unlock()
}

func (s *Session) onMessage(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("session: bad message event: %v", err)
		return
	}
	s.timeline(msg.GroupID).Apply(msg)
}

func (s *Session) onGroupCreated(data json.RawMessage) {
	var group models.Group
	if err := json.Unmarshal(data, &group); err != nil {
		log.Printf("session: bad groupCreated event: %v", err)
		return
	}

	s.mu.Lock()
	s.groups[group.ID] = group
	s.joined = lo.Uniq(append(s.joined, group.ID))
	s.mu.Unlock()

	if err := s.channel.Emit(models.EventJoinGroups, models.JoinGroupsCommand{GroupIDs: []string{group.ID}}, nil); err != nil {
		log.Printf("session: join after groupCreated failed: %v", err)
	}
}

func (s *Session) onTyping(data json.RawMessage) {
	var sig models.TypingSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return
	}
	if s.typing != nil {
		s.typing.Signal(sig)
	}
}
