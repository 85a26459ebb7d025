package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/neighborly-app/chat-gateway/internal/auth"
	"github.com/neighborly-app/chat-gateway/internal/bus"
	"github.com/neighborly-app/chat-gateway/internal/data"
	"github.com/neighborly-app/chat-gateway/internal/db"
	"github.com/neighborly-app/chat-gateway/internal/middleware"
	"github.com/neighborly-app/chat-gateway/internal/presence"
)

func main() {
	// Read configuration from environment (optionally from .env)
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET must be set")
	}
	issuer := os.Getenv("SERVER_FQDN")
	if issuer == "" {
		log.Fatal("SERVER_FQDN must be set (token issuer)")
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Instance name scopes the shared registry rows; required to be
	// unique per gateway instance in multi-instance deployments.
	instance := os.Getenv("GATEWAY_INSTANCE")
	if instance == "" {
		if host, err := os.Hostname(); err == nil {
			instance = host
		} else {
			instance = "gateway"
		}
	}

	// RATE_LIMIT_PER_MIN controls inbound envelopes per connection.
	ratePerMin := 300
	if v := os.Getenv("RATE_LIMIT_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ratePerMin = n
		}
	}

	ctx := context.Background()

	// The store and the bus are load-bearing: without them the gateway
	// cannot offer its delivery guarantee, so failing to start beats
	// degrading silently.
	pool, err := db.Open(ctx, databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to DB: %v", err)
	}
	defer func() {
		_ = pool.Close()
	}()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatalf("failed to ensure schema: %v", err)
	}

	// Clear out registry entries left over from a previous process:
	// their connection ids belong to sockets that no longer exist.
	pres := presence.New(pool, instance)
	if err := pres.Purge(ctx); err != nil {
		log.Fatalf("failed to purge stale registry entries: %v", err)
	}

	b := bus.NewPostgresBus(databaseURL, pool)
	events, err := b.Subscribe(data.ChangeChannel)
	if err != nil {
		log.Fatalf("failed to subscribe to change events: %v", err)
	}

	// Access tokens are the same ones the REST API issues (30 days).
	jwtMgr := auth.NewJWTManager(jwtSecret, issuer, 30*24*time.Hour)

	limiter := middleware.NewLimiterStore(ratePerMin, 30, time.Minute)
	defer limiter.Stop()

	hub := NewConnectionHub(pres)
	g := newGateway(
		data.NewChatsStore(pool),
		data.NewMessagesStore(pool),
		data.NewNeighborsStore(pool),
		jwtMgr,
		hub,
		limiter,
	)

	go g.runListener(events)

	mux := http.NewServeMux()
	mux.HandleFunc("/chat", g.handleChat)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", port),
		Handler: mux,
	}

	go func() {
		log.Printf("chat gateway %q listening on %s", instance, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server exit: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down chat gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = b.Close()
}
