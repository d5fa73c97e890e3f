package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"moodcam/internal/auth"
	"moodcam/internal/config"
	"moodcam/internal/middleware"
	"moodcam/internal/pipeline"
	"moodcam/internal/stream"
	"moodcam/internal/ws"
)

// newHTTPHandler mounts the preview endpoints. Everything except /healthz and
// /auth/login goes through the JWT middleware.
func newHTTPHandler(c *config.Config, preview *stream.PreviewServer, hub *ws.DetectionHub, stats pipeline.StatsProvider) (http.Handler, error) {
	authenticator, err := auth.NewAuthenticator(auth.Config{
		Enabled:     c.Auth.Enabled,
		Username:    c.Auth.Username,
		Password:    c.Auth.Password,
		JWTSecret:   c.Auth.JWTSecret,
		TokenExpiry: c.Auth.TokenExpiry,
	})
	if err != nil {
		return nil, err
	}
	protect := middleware.AuthMiddleware(authenticator)

	mux := http.NewServeMux()
	mux.Handle("/video", protect(preview))
	mux.Handle("/snapshot", protect(preview.SnapshotHandler()))
	mux.Handle("/ws", protect(ws.NewHandler(hub, preview.PushKey)))
	mux.Handle("/stats", protect(statsHandler(stats)))
	mux.Handle("/auth/login", authenticator.LoginHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})

	if authenticator.IsEnabled() {
		log.Printf("[HTTP] Preview authentication enabled for user %s", c.Auth.Username)
	}
	return mux, nil
}

func statsHandler(stats pipeline.StatsProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(stats.Stats()); err != nil {
			log.Printf("[HTTP] Failed to encode stats: %v", err)
		}
	})
}

// handleHTTPServer binds addr and serves handler until ctx is done, then
// shuts the server down gracefully.
func handleHTTPServer(ctx context.Context, addr string, handler http.Handler, wg *sync.WaitGroup) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: handler, ReadHeaderTimeout: time.Second * 60}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf("[HTTP] Preview listening on http://%s", ln.Addr())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("[HTTP] Server error: %v", err)
			}
		}()

		<-ctx.Done()
		log.Printf("[HTTP] Shutting down preview server at %s", ln.Addr())

		// Shutdown gracefully with a 5s timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("[HTTP] Failed to shutdown: %v", err)
		}
	}()
	return nil
}
