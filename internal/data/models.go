package data

import (
	"errors"
	"time"
)

// Sentinel errors returned by the stores.
var (
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("not a chat participant")
)

// ChatSummary is one row of get_chats/get_chat: the chat plus the other
// members and whether the viewer has read everything in it.
type ChatSummary struct {
	ID              int64     `json:"id"`
	StartedTS       time.Time `json:"started_ts"`
	LatestMessageTS time.Time `json:"latest_message_ts"`
	OtherMembers    []int64   `json:"other_members"`
	Read            bool      `json:"read"`
}

// MessageView is a chat_message row annotated for one viewer. ChatID is
// populated for new-message pushes and omitted in get_messages, whose
// reply already carries the chat id at the top level.
type MessageView struct {
	ID           int64     `json:"id"`
	ChatID       int64     `json:"chat_id,omitempty"`
	FromNeighbor int64     `json:"from_neighbor"`
	SendTS       time.Time `json:"send_ts"`
	Body         string    `json:"message"`
	Read         bool      `json:"read"`
	SentByMe     bool      `json:"sent_by_me"`
}
