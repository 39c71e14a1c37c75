package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"classchat-service/internal/middleware"
	"classchat-service/internal/models"
	"classchat-service/internal/repositories"
	"classchat-service/internal/telemetry"
	"classchat-service/internal/ws"
)

// GroupHandler serves the query side of the messaging layer: group listing,
// point-in-time message history, and the admin console's group creation.
type GroupHandler struct {
	groupRepo   repositories.GroupRepository
	messageRepo repositories.MessageRepository
	hub         *ws.Hub
	audit       *telemetry.AuditEmitter
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groupRepo repositories.GroupRepository, messageRepo repositories.MessageRepository, hub *ws.Hub, audit *telemetry.AuditEmitter) *GroupHandler {
	return &GroupHandler{
		groupRepo:   groupRepo,
		messageRepo: messageRepo,
		hub:         hub,
		audit:       audit,
	}
}

// ListGroups returns groups the caller belongs to.
func (h *GroupHandler) ListGroups(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	groups, err := h.groupRepo.ListGroupsForUser(c.Request.Context(), identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load groups"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// GetGroup returns one group's detail with its member sets. Visible to the
// owner and members only.
func (h *GroupHandler) GetGroup(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	group, err := h.groupRepo.GetGroup(c.Request.Context(), c.Param("group_id"))
	if errors.Is(err, repositories.ErrGroupNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load group"})
		return
	}
	if !group.Includes(identity.UserID) {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"group": group})
}

// GetGroupMessages returns a group's history in server timestamp order. This
// is the point-in-time query clients merge with the live stream.
func (h *GroupHandler) GetGroupMessages(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	groupID := c.Param("group_id")

	member, err := h.groupRepo.IsMember(c.Request.Context(), groupID, identity.UserID)
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), groupID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// GetGroupMessage returns a single message by id. A message that exists but
// belongs to a different group reads as not found.
func (h *GroupHandler) GetGroupMessage(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	groupID := c.Param("group_id")

	member, err := h.groupRepo.IsMember(c.Request.Context(), groupID, identity.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member"})
		return
	}

	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load message"})
		return
	}
	if msg.GroupID != groupID {
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// CreateGroup handles POST /groups. HTTP twin of the createGroup command,
// used by the admin console; connected members get the groupCreated push.
func (h *GroupHandler) CreateGroup(c *gin.Context) {
	identity, ok := middleware.IdentityFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	if identity.Role != models.RoleAdmin {
		h.emitAudit(c, "ERROR", "createGroup rejected: not an admin")
		c.JSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
		return
	}

	var req struct {
		Name          string   `json:"name" binding:"required"`
		StudentIDs    []string `json:"student_ids"`
		InstructorIDs []string `json:"instructor_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.groupRepo.CreateGroup(c.Request.Context(), uuid.NewString(), req.Name, identity.UserID, req.StudentIDs, req.InstructorIDs)
	if err != nil {
		if errors.Is(err, repositories.ErrDuplicateGroup) {
			c.JSON(http.StatusConflict, gin.H{"error": "Conflict"})
			return
		}
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create group"})
		return
	}

	h.emitAudit(c, "INFO", "Group created")
	if h.hub != nil {
		go h.hub.BroadcastToUsers(group.MemberIDs(), models.NewFrame(models.EventGroupCreated, 0, group))
	}
	c.JSON(http.StatusCreated, gin.H{"group_id": group.ID})
}

func (h *GroupHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
