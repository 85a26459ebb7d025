package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// clientConn is one live websocket session. The id is unique for the
// process lifetime; a reconnect gets a brand-new one.
type clientConn struct {
	id string
	ws *websocket.Conn

	// Writes come from both the read loop (replies) and the fanout
	// goroutine (pushes); gorilla allows one concurrent writer.
	writeMu sync.Mutex
}

// Send pushes one envelope to the client. Sending on a transport that
// already closed just returns the transport error; callers treat it as
// a no-op and log.
func (c *clientConn) Send(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(env)
}

// handleChat upgrades the HTTP request and runs the connection until
// the transport closes: register, read envelopes in order, dispatch,
// reply, tear down.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	conn := &clientConn{id: uuid.NewString(), ws: ws}
	g.hub.Register(conn.id, conn)
	log.Printf("new connection (%s) from %s", conn.id, r.RemoteAddr)
	defer g.closeConn(conn)

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			// Client went away or the network did; either way the
			// connection is done.
			return
		}

		if g.limiter != nil && !g.limiter.Allow(conn.id) {
			log.Printf("rate limit exceeded (%s); dropping envelope", conn.id)
			continue
		}

		// Malformed input from a connected client gets no reply: with
		// no type there may be no correlation id to answer to.
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		typ := env.Type()
		if typ == "" {
			continue
		}

		if typ != "ping" {
			log.Printf("incoming (%s): %s", conn.id, payload)
		}

		reply := g.dispatch(conn.id, typ, env)
		if reply == nil {
			continue
		}

		if typ != "ping" {
			if out, err := json.Marshal(reply); err == nil {
				log.Printf("outgoing (%s): %s", conn.id, out)
			}
		}
		if err := conn.Send(reply); err != nil {
			log.Printf("send to %s failed: %v", conn.id, err)
		}
	}
}

// dispatch routes one envelope to its responder and turns every failure
// into a well-formed reply. Connections are never dropped because of a
// bad request.
func (g *Gateway) dispatch(connID, typ string, env Envelope) Envelope {
	responder, known := g.responders[typ]
	neighborID, identified := g.hub.UserFor(connID)

	// Unknown type, or a gated responder on an unidentified connection.
	if !known || (responder.IdentificationRequired() && !identified) {
		reply := Envelope{"type": "unsupported"}
		if identified {
			reply["neighbor_id"] = neighborID
		} else {
			reply["neighbor_id"] = nil
		}
		return reply
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.queryTimeout)
	defer cancel()

	reply, err := responder.Respond(ctx, connID, env)
	if err != nil {
		// Full detail stays in the server log; the client gets an
		// opaque description plus its correlation id back.
		log.Printf("responder %q failed (%s): %v", typ, connID, err)
		out := Envelope{"type": "error", "error": "internal error"}
		if mu, ok := env["message_uuid"]; ok {
			out["message_uuid"] = mu
		}
		return out
	}
	return reply
}

// closeConn runs the Closed transition: record last-seen for identified
// connections, then remove the registry entries in both directions.
func (g *Gateway) closeConn(conn *clientConn) {
	ctx, cancel := context.WithTimeout(context.Background(), g.queryTimeout)
	defer cancel()

	if neighborID, ok := g.hub.UserFor(conn.id); ok {
		if err := g.neighbors.TouchLastSeen(ctx, neighborID); err != nil {
			log.Printf("failed to update last seen for neighbor %d: %v", neighborID, err)
		}
	}
	if err := g.hub.Unregister(ctx, conn.id); err != nil {
		log.Printf("failed to unregister %s: %v", conn.id, err)
	}
	if g.limiter != nil {
		g.limiter.Forget(conn.id)
	}
	_ = conn.ws.Close()
	log.Printf("connection closed: %s", conn.id)
}
