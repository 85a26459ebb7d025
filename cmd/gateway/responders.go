package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/neighborly-app/chat-gateway/internal/data"
)

// Responder handles one inbound message type. Responders are stateless
// values in a fixed table; everything they need arrives per call.
type Responder interface {
	// Respond runs the request and returns the reply envelope.
	Respond(ctx context.Context, connID string, req Envelope) (Envelope, error)

	// IdentificationRequired reports whether the connection must have
	// completed the identify handshake before this responder runs.
	IdentificationRequired() bool
}

// myNeighbor resolves the caller's identity. Only works once
// identification is done; dispatch gates on that, so a miss here is a
// programming error worth surfacing.
func (g *Gateway) myNeighbor(connID string) (int64, error) {
	id, ok := g.hub.UserFor(connID)
	if !ok {
		return 0, fmt.Errorf("cannot determine neighbor id for connection %s", connID)
	}
	return id, nil
}

// pingResponder answers with the current server time. No
// identification needed; clients ping to keep the connection alive.
type pingResponder struct{}

func (pingResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	return Envelope{
		"type":      "pong",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}, nil
}

func (pingResponder) IdentificationRequired() bool { return false }

// identifyResponder runs the identify handshake: validate the access
// token and bind the connection to the neighbor it names. A bad token
// is a negative result, not an error — the connection stays open and
// the client may retry.
type identifyResponder struct{ g *Gateway }

func (r identifyResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	claims, err := r.g.auth.VerifyToken(req.String("token"), false)
	if err != nil {
		log.Printf("identify failed (%s): %v", connID, err)
		return Envelope{"type": "identify_result", "result": false}, nil
	}

	if err := r.g.hub.Identify(ctx, connID, claims.NeighborID); err != nil {
		return nil, err
	}

	// Report when this neighbor was last online. Read-only; the
	// timestamp is updated on disconnect, not here.
	lastSeen, err := r.g.neighbors.LastSeen(ctx, claims.NeighborID)
	if err != nil {
		return nil, err
	}

	return Envelope{
		"type":      "identify_result",
		"last_seen": lastSeen,
		"result":    true,
	}, nil
}

func (identifyResponder) IdentificationRequired() bool { return false }

// sendMessageResponder persists a message to another neighbor, creating
// the chat between the pair if it doesn't exist yet.
type sendMessageResponder struct{ g *Gateway }

func (r sendMessageResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	me, err := r.g.myNeighbor(connID)
	if err != nil {
		return nil, err
	}

	to, ok := req.ID("to")
	if !ok {
		return nil, errors.New("send_message: missing or invalid 'to'")
	}
	body := req.String("body")
	if body == "" {
		// Older clients send the text under "message".
		body = req.String("message")
	}
	if body == "" {
		return nil, errors.New("send_message: missing message body")
	}

	chatID, messageID, err := r.g.msgs.SaveMessage(ctx, me, to, body)
	if err != nil {
		return nil, err
	}

	return Envelope{
		"type":       "send_message_result",
		"chat_id":    chatID,
		"message_id": messageID,
		"result":     true,
	}, nil
}

func (sendMessageResponder) IdentificationRequired() bool { return true }

// getChatsResponder lists every chat the caller participates in.
type getChatsResponder struct{ g *Gateway }

func (r getChatsResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	me, err := r.g.myNeighbor(connID)
	if err != nil {
		return nil, err
	}

	chats, err := r.g.chats.ListChats(ctx, me)
	if err != nil {
		return nil, err
	}
	if chats == nil {
		chats = []*data.ChatSummary{}
	}

	return Envelope{
		"type":   "get_chats_result",
		"chats":  chats,
		"result": true,
	}, nil
}

func (getChatsResponder) IdentificationRequired() bool { return true }

// getChatResponder returns a single chat. Chats the caller is not a
// member of look exactly like missing ones.
type getChatResponder struct{ g *Gateway }

func (r getChatResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	me, err := r.g.myNeighbor(connID)
	if err != nil {
		return nil, err
	}

	chatID, ok := req.ID("chat_id")
	if !ok {
		return nil, errors.New("get_chat: missing or invalid 'chat_id'")
	}

	chat, err := r.g.chats.GetChat(ctx, me, chatID)
	if errors.Is(err, data.ErrNotFound) {
		return Envelope{
			"type":    "get_chat_result",
			"chat_id": chatID,
			"result":  false,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return Envelope{
		"type":   "get_chat_result",
		"chat":   chat,
		"result": true,
	}, nil
}

func (getChatResponder) IdentificationRequired() bool { return true }

// getMessagesResponder returns all messages in a chat, newest first,
// annotated for the caller.
type getMessagesResponder struct{ g *Gateway }

func (r getMessagesResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	me, err := r.g.myNeighbor(connID)
	if err != nil {
		return nil, err
	}

	chatID, ok := req.ID("chat_id")
	if !ok {
		return nil, errors.New("get_messages: missing or invalid 'chat_id'")
	}

	messages, err := r.g.msgs.GetMessages(ctx, me, chatID)
	if errors.Is(err, data.ErrNotParticipant) {
		return Envelope{
			"type":    "get_messages_result",
			"chat_id": chatID,
			"result":  false,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []*data.MessageView{}
	}

	return Envelope{
		"type":     "get_messages_result",
		"chat_id":  chatID,
		"messages": messages,
		"result":   true,
	}, nil
}

func (getMessagesResponder) IdentificationRequired() bool { return true }

// markMessageReadResponder appends the caller to a message's read set.
// Marking twice is fine; unknown message ids match nothing and still
// succeed, matching what the REST API reports.
type markMessageReadResponder struct{ g *Gateway }

func (r markMessageReadResponder) Respond(ctx context.Context, connID string, req Envelope) (Envelope, error) {
	me, err := r.g.myNeighbor(connID)
	if err != nil {
		return nil, err
	}

	messageID, ok := req.ID("id")
	if !ok {
		return nil, errors.New("mark_message_read: missing or invalid 'id'")
	}

	if err := r.g.msgs.MarkRead(ctx, me, messageID); err != nil {
		return nil, err
	}

	return Envelope{
		"type":   "mark_message_read_result",
		"id":     messageID,
		"result": true,
	}, nil
}

func (markMessageReadResponder) IdentificationRequired() bool { return true }
