// Package bus provides the cross-process notification channel used to
// fan out message-creation events to every gateway instance. The
// contract is a generic publish/subscribe bus; the shipped
// implementation rides on PostgreSQL LISTEN/NOTIFY so any process that
// can reach the store (the CRUD backend included) can publish.
package bus

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
)

// Event is one notification received from the bus.
type Event struct {
	Channel string
	Payload string
}

// Bus is the publish/subscribe contract the gateway depends on.
type Bus interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(channel string) (<-chan Event, error)
	Close() error
}

// ChangeEvent is the payload published when a chat message is
// persisted: the new message id plus every participant to notify.
type ChangeEvent struct {
	Message struct {
		ID int64 `json:"id"`
	} `json:"message"`
	Neighbors []EventNeighbor `json:"neighbors"`
}

// EventNeighbor is one affected participant in a ChangeEvent.
type EventNeighbor struct {
	NeighborID int64 `json:"neighbor_id"`
}

// NewChangeEvent builds the payload for a freshly persisted message.
func NewChangeEvent(messageID int64, neighborIDs []int64) ChangeEvent {
	var ev ChangeEvent
	ev.Message.ID = messageID
	for _, id := range neighborIDs {
		ev.Neighbors = append(ev.Neighbors, EventNeighbor{NeighborID: id})
	}
	return ev
}

// Encode serializes the event for the wire.
func (e ChangeEvent) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParseChangeEvent decodes a bus payload.
func ParseChangeEvent(payload string) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, fmt.Errorf("malformed change event: %w", err)
	}
	if ev.Message.ID == 0 {
		return nil, fmt.Errorf("change event missing message id")
	}
	return &ev, nil
}

// PostgresBus implements Bus on LISTEN/NOTIFY. One pq.Listener serves
// all subscriptions; notifications are routed to per-channel chans.
type PostgresBus struct {
	pool     *sql.DB
	listener *pq.Listener

	mu       sync.Mutex
	subs     map[string]chan Event
	dispatch sync.Once
	closed   bool
}

// NewPostgresBus returns a bus backed by the given database. pool is
// used for publishing; the listener opens its own connection from
// databaseURL.
func NewPostgresBus(databaseURL string, pool *sql.DB) *PostgresBus {
	listener := pq.NewListener(databaseURL, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Printf("bus listener event %d: %v", ev, err)
			}
		})
	return &PostgresBus{
		pool:     pool,
		listener: listener,
		subs:     map[string]chan Event{},
	}
}

// Publish raises a notification on the channel. When called inside a
// transaction-bound ExecContext the notification fires on commit, which
// is exactly the at-least-once semantics the listeners want.
func (b *PostgresBus) Publish(ctx context.Context, channel, payload string) error {
	_, err := b.pool.ExecContext(ctx, `SELECT pg_notify($1, $2)`, channel, payload)
	return err
}

// Subscribe starts listening on channel and returns the event stream.
// The stream is closed when the bus shuts down.
func (b *PostgresBus) Subscribe(channel string) (<-chan Event, error) {
	if err := b.listener.Listen(channel); err != nil {
		return nil, fmt.Errorf("failed to listen on %q: %w", channel, err)
	}

	b.mu.Lock()
	ch, ok := b.subs[channel]
	if !ok {
		ch = make(chan Event, 32)
		b.subs[channel] = ch
	}
	b.mu.Unlock()

	b.dispatch.Do(func() { go b.dispatchLoop() })
	return ch, nil
}

// dispatchLoop routes raw notifications to subscribers until the
// listener's Notify channel closes.
func (b *PostgresBus) dispatchLoop() {
	for n := range b.listener.Notify {
		// A nil notification signals the listener reconnected; events
		// raised while disconnected are lost, which is acceptable for a
		// best-effort delivery channel.
		if n == nil {
			continue
		}
		b.mu.Lock()
		ch := b.subs[n.Channel]
		b.mu.Unlock()
		if ch == nil {
			continue
		}
		select {
		case ch <- Event{Channel: n.Channel, Payload: n.Extra}:
		default:
			log.Printf("bus: dropping event on %q, subscriber too slow", n.Channel)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = map[string]chan Event{}
}

// Close tears down the listener connection and closes all streams.
func (b *PostgresBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	return b.listener.Close()
}
