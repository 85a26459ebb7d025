package main

import (
	"context"
	"log"

	"github.com/neighborly-app/chat-gateway/internal/bus"
)

// runListener consumes change events for the lifetime of the gateway
// process and fans each one out to the affected connections. Runs as a
// background task beside the per-connection loops.
func (g *Gateway) runListener(events <-chan bus.Event) {
	log.Printf("listening for change events")
	for ev := range events {
		g.handleChangeEvent(ev)
	}
	// The stream only closes when the bus shuts down; during normal
	// operation this is the path taken on graceful shutdown.
	log.Printf("change event stream ended")
}

// handleChangeEvent delivers one newly persisted message to every live
// connection of every affected neighbor. Best-effort: a client that is
// offline now will see the message on its next get_messages poll.
func (g *Gateway) handleChangeEvent(ev bus.Event) {
	change, err := bus.ParseChangeEvent(ev.Payload)
	if err != nil {
		log.Printf("dropping change event: %v", err)
		return
	}

	for _, n := range change.Neighbors {
		// Skip the fetch entirely for neighbors with no connections
		// on this instance.
		if len(g.hub.ConnectionsFor(n.NeighborID)) == 0 {
			continue
		}

		// Re-fetch under this viewer so read/sent_by_me are theirs.
		ctx, cancel := context.WithTimeout(context.Background(), g.queryTimeout)
		msg, err := g.msgs.MessageFor(ctx, n.NeighborID, change.Message.ID)
		cancel()
		if err != nil {
			log.Printf("change event: fetch message %d for neighbor %d failed: %v",
				change.Message.ID, n.NeighborID, err)
			continue
		}

		env := Envelope{
			"type":    "new_message_result",
			"chat_id": msg.ChatID,
			"message": msg,
			"result":  true,
		}
		if err := g.hub.SendToUser(n.NeighborID, env); err != nil {
			// One broken transport must not stop delivery to the rest.
			log.Printf("change event: delivery to neighbor %d failed: %v", n.NeighborID, err)
		}
	}
}
