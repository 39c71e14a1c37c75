package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"classchat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions with the message store.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	ListMessages(ctx context.Context, groupID string) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
}

// MessageRepo is a sqlx-backed implementation.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage persists a message and returns it with the server-assigned
// timestamp. The caller never supplies server_ts.
func (r *MessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := msg.ValidateContent(); err != nil {
		return models.Message{}, err
	}

	var stored models.Message
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO messages (group_id, sender_id, sender_role, sender_name, body, image_url)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, group_id, sender_id, sender_role, sender_name, body, image_url, server_ts`,
		msg.GroupID, msg.SenderID, msg.SenderRole, msg.SenderName, msg.Text, msg.ImageURL).
		Scan(&stored.ID, &stored.GroupID, &stored.SenderID, &stored.SenderRole, &stored.SenderName,
			&stored.Text, &stored.ImageURL, &stored.ServerTimestamp)
	return stored, err
}

// ListMessages returns a group's history in server timestamp order.
func (r *MessageRepo) ListMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT id, group_id, sender_id, sender_role, sender_name, body, image_url, server_ts
		 FROM messages WHERE group_id=$1 ORDER BY server_ts ASC, id ASC`, groupID)
	return msgs, err
}

// GetMessage fetches a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT id, group_id, sender_id, sender_role, sender_name, body, image_url, server_ts
		 FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}
