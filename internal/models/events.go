package models

import "encoding/json"

// Wire event names, identical in both directions.
const (
	EventJoinGroups   = "joinGroups"
	EventSendMessage  = "sendMessage"
	EventTyping       = "typing"
	EventCreateGroup  = "createGroup"
	EventMessage      = "message"
	EventGroupCreated = "groupCreated"
	EventAck          = "ack"
)

// Frame is the envelope every websocket frame uses. Seq correlates a
// command with its ack; zero means no ack was requested.
type Frame struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// AckResult resolves exactly one command.
type AckResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// JoinGroupsCommand subscribes the connection to fan-out for the given groups.
type JoinGroupsCommand struct {
	GroupIDs []string `json:"group_ids" validate:"required"`
}

// SendMessageCommand posts a message into a group. At least one of Text and
// ImageURL must be set.
type SendMessageCommand struct {
	GroupID    string  `json:"group_id" validate:"required"`
	SenderName string  `json:"sender" validate:"required"`
	Text       *string `json:"text,omitempty"`
	ImageURL   *string `json:"image_url,omitempty"`
}

// CreateGroupCommand creates a new group. Only admins may issue it; an empty
// member set is valid.
type CreateGroupCommand struct {
	GroupName     string   `json:"group_name" validate:"required"`
	StudentIDs    []string `json:"student_ids"`
	InstructorIDs []string `json:"instructor_ids"`
}

// NewFrame marshals data into a Frame.
func NewFrame(event string, seq uint64, data any) Frame {
	raw, _ := json.Marshal(data)
	return Frame{Event: event, Seq: seq, Data: raw}
}
