package models

import (
	"errors"
	"time"
)

// ErrEmptyMessage is returned when a message carries neither text nor image.
// The string doubles as the ack error shown to the sender.
var ErrEmptyMessage = errors.New("Message or image must be provided")

// Message is one entry in a group's timeline. ServerTimestamp is assigned
// by the database on insert and is the only ordering key; client clocks are
// never trusted.
type Message struct {
	ID              int64     `db:"id" json:"id"`
	GroupID         string    `db:"group_id" json:"group_id"`
	SenderID        string    `db:"sender_id" json:"sender_id"`
	SenderRole      Role      `db:"sender_role" json:"sender_role"`
	SenderName      string    `db:"sender_name" json:"sender_name"`
	Text            *string   `db:"body" json:"text,omitempty"`
	ImageURL        *string   `db:"image_url" json:"image_url,omitempty"`
	ServerTimestamp time.Time `db:"server_ts" json:"server_ts"`
}

// ValidateContent enforces that at least one of text/image is present.
func (m Message) ValidateContent() error {
	if (m.Text == nil || *m.Text == "") && (m.ImageURL == nil || *m.ImageURL == "") {
		return ErrEmptyMessage
	}
	return nil
}

// TypingSignal is an ephemeral compose indicator. It is never persisted and
// expires on its own unless refreshed.
type TypingSignal struct {
	GroupID     string `json:"group_id"`
	UserID      string `json:"user_id"`
	DisplayName string `json:"user_name"`
}
