// Package motion provides the sensor-event sources: anything that can say
// "someone is here" publishes a motion event to the bus. Debouncing is the
// sensor's job, not ours.
package motion

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/eventbus"
)

// WebhookServer is an HTTP server that turns webhook requests into motion
// events. Any PIR driver or home-automation rule that can POST can be a
// sensor.
type WebhookServer struct {
	addr       string
	path       string
	bus        *eventbus.Bus
	httpServer *http.Server
}

// NewWebhookServer creates a new webhook server.
func NewWebhookServer(host string, port int, path string, bus *eventbus.Bus) *WebhookServer {
	return &WebhookServer{
		addr: fmt.Sprintf("%s:%d", host, port),
		path: path,
		bus:  bus,
	}
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *WebhookServer) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleMotion)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	log.Info().Str("addr", s.addr).Str("path", s.path).Msg("Starting motion webhook server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// handleMotion publishes a motion event for every request to the motion path.
func (s *WebhookServer) handleMotion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	log.Debug().
		Str("method", r.Method).
		Str("remote", r.RemoteAddr).
		Msg("Received motion webhook")

	s.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeMotion,
		Data: map[string]interface{}{
			"source": "webhook",
			"remote": r.RemoteAddr,
			"at":     time.Now().UTC(),
		},
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
