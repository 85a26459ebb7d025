package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neighborly-app/chat-gateway/internal/auth"
	"github.com/neighborly-app/chat-gateway/internal/data"
	"github.com/neighborly-app/chat-gateway/internal/middleware"
)

// ChatsStore is the chat persistence the responders consume.
type ChatsStore interface {
	ListChats(ctx context.Context, me int64) ([]*data.ChatSummary, error)
	GetChat(ctx context.Context, me, chatID int64) (*data.ChatSummary, error)
}

// MessagesStore is the message persistence the responders and the
// change-event fanout consume.
type MessagesStore interface {
	SaveMessage(ctx context.Context, from, to int64, body string) (chatID, messageID int64, err error)
	GetMessages(ctx context.Context, me, chatID int64) ([]*data.MessageView, error)
	MessageFor(ctx context.Context, viewer, messageID int64) (*data.MessageView, error)
	MarkRead(ctx context.Context, me, messageID int64) error
}

// NeighborsStore covers the last-seen bookkeeping.
type NeighborsStore interface {
	LastSeen(ctx context.Context, neighborID int64) (*time.Time, error)
	TouchLastSeen(ctx context.Context, neighborID int64) error
}

// TokenVerifier validates the REST API's access tokens. The gateway
// always passes expectRefresh=false.
type TokenVerifier interface {
	VerifyToken(token string, expectRefresh bool) (*auth.Claims, error)
}

// Gateway ties the hub, the responder table and the collaborators
// together. One instance serves all connections of the process.
type Gateway struct {
	chats     ChatsStore
	msgs      MessagesStore
	neighbors NeighborsStore
	auth      TokenVerifier
	hub       *ConnectionHub
	limiter   *middleware.LimiterStore

	responders   map[string]Responder
	queryTimeout time.Duration
	upgrader     websocket.Upgrader
}

// newGateway returns a ready-to-use Gateway with the fixed responder
// table. The keys are the message type values sent from clients.
func newGateway(chats ChatsStore, msgs MessagesStore, neighbors NeighborsStore, verifier TokenVerifier, hub *ConnectionHub, limiter *middleware.LimiterStore) *Gateway {
	g := &Gateway{
		chats:        chats,
		msgs:         msgs,
		neighbors:    neighbors,
		auth:         verifier,
		hub:          hub,
		limiter:      limiter,
		queryTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browsers talk to the gateway from the app's origin; token
			// validation is the real gate, not the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	g.responders = map[string]Responder{
		"identify":          identifyResponder{g},          // identify yourself to the server
		"ping":              pingResponder{},               // keep the connection alive
		"send_message":      sendMessageResponder{g},       // send a message
		"get_chats":         getChatsResponder{g},          // all chats involving me
		"get_chat":          getChatResponder{g},           // a single chat (involving me)
		"get_messages":      getMessagesResponder{g},       // all messages in a chat
		"mark_message_read": markMessageReadResponder{g},   // mark a message as read
	}
	return g
}
