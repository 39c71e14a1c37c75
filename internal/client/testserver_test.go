package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"classchat-service/internal/models"
)

// fakeServer speaks just enough of the wire protocol to exercise the client:
// it acks sendMessage/createGroup, tracks joinGroups subscriptions, fans
// events out to subscribers, and can drop a connection on demand.
type fakeServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[*websocket.Conn]map[string]bool
	writeLock map[*websocket.Conn]*sync.Mutex
	silent    bool
}

func newFakeServer() *fakeServer {
	fs := &fakeServer{
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		conns:     make(map[*websocket.Conn]map[string]bool),
		writeLock: make(map[*websocket.Conn]*sync.Mutex),
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	return fs
}

func (fs *fakeServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) Close() {
	fs.srv.Close()
}

// setSilent makes the server swallow acks.
func (fs *fakeServer) setSilent(silent bool) {
	fs.mu.Lock()
	fs.silent = silent
	fs.mu.Unlock()
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := fs.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fs.mu.Lock()
	fs.conns[conn] = make(map[string]bool)
	fs.writeLock[conn] = &sync.Mutex{}
	fs.mu.Unlock()

	defer func() {
		fs.mu.Lock()
		delete(fs.conns, conn)
		delete(fs.writeLock, conn)
		fs.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		fs.process(conn, frame)
	}
}

func (fs *fakeServer) process(conn *websocket.Conn, frame models.Frame) {
	switch frame.Event {
	case models.EventJoinGroups:
		var cmd models.JoinGroupsCommand
		_ = json.Unmarshal(frame.Data, &cmd)
		fs.mu.Lock()
		for _, id := range cmd.GroupIDs {
			fs.conns[conn][id] = true
		}
		fs.mu.Unlock()

	case models.EventSendMessage:
		var cmd models.SendMessageCommand
		_ = json.Unmarshal(frame.Data, &cmd)

		if (cmd.Text == nil || *cmd.Text == "") && (cmd.ImageURL == nil || *cmd.ImageURL == "") {
			fs.ack(conn, frame.Seq, models.AckResult{Success: false, Error: models.ErrEmptyMessage.Error()})
			return
		}

		stored := models.Message{
			GroupID:         cmd.GroupID,
			SenderID:        "sender",
			SenderRole:      models.RoleStudent,
			SenderName:      cmd.SenderName,
			Text:            cmd.Text,
			ImageURL:        cmd.ImageURL,
			ServerTimestamp: time.Now().UTC(),
		}
		fs.ack(conn, frame.Seq, models.AckResult{Success: true})
		fs.broadcast(cmd.GroupID, models.NewFrame(models.EventMessage, 0, stored))

	case models.EventTyping:
		var sig models.TypingSignal
		_ = json.Unmarshal(frame.Data, &sig)
		fs.broadcast(sig.GroupID, models.NewFrame(models.EventTyping, 0, sig))

	case models.EventCreateGroup:
		var cmd models.CreateGroupCommand
		_ = json.Unmarshal(frame.Data, &cmd)
		group := models.Group{
			ID:            "group-" + cmd.GroupName,
			Name:          cmd.GroupName,
			OwnerID:       "admin",
			StudentIDs:    cmd.StudentIDs,
			InstructorIDs: cmd.InstructorIDs,
			CreatedAt:     time.Now().UTC(),
		}
		fs.ack(conn, frame.Seq, models.AckResult{Success: true})
		fs.broadcastAll(models.NewFrame(models.EventGroupCreated, 0, group))

	case "kick":
		conn.Close()
	}
}

func (fs *fakeServer) ack(conn *websocket.Conn, seq uint64, res models.AckResult) {
	fs.mu.Lock()
	silent := fs.silent
	fs.mu.Unlock()
	if silent || seq == 0 {
		return
	}
	fs.write(conn, models.NewFrame(models.EventAck, seq, res))
}

func (fs *fakeServer) broadcast(groupID string, frame models.Frame) {
	fs.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(fs.conns))
	for conn, subs := range fs.conns {
		if subs[groupID] {
			targets = append(targets, conn)
		}
	}
	fs.mu.Unlock()
	for _, conn := range targets {
		fs.write(conn, frame)
	}
}

func (fs *fakeServer) broadcastAll(frame models.Frame) {
	fs.mu.Lock()
	targets := make([]*websocket.Conn, 0, len(fs.conns))
	for conn := range fs.conns {
		targets = append(targets, conn)
	}
	fs.mu.Unlock()
	for _, conn := range targets {
		fs.write(conn, frame)
	}
}

func (fs *fakeServer) write(conn *websocket.Conn, frame models.Frame) {
	payload, _ := json.Marshal(frame)

	fs.mu.Lock()
	lock := fs.writeLock[conn]
	fs.mu.Unlock()
	if lock == nil {
		return
	}
	lock.Lock()
	_ = conn.WriteMessage(websocket.TextMessage, payload)
	lock.Unlock()
}

func connectedChannel(t interface {
	Fatalf(format string, args ...any)
	Cleanup(func())
}, fs *fakeServer, opts Options) *Channel {
	opts.URL = fs.URL()
	ch := NewChannel(opts)
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(ch.Disconnect)
	return ch
}
