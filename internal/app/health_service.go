package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/config"
	"github.com/dokzlo13/motiond/internal/controller"
	"github.com/dokzlo13/motiond/internal/ledger"
)

// historyLimit caps how many ledger entries one request returns.
const historyLimit = 100

// HealthService provides HTTP health check endpoints, a controller status
// snapshot and recent event history.
type HealthService struct {
	cfg        *config.Config
	controller *controller.Controller
	ledger     *ledger.Ledger
	server     *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, ctrl *controller.Controller, l *ledger.Ledger) *HealthService {
	return &HealthService{
		cfg:        cfg,
		controller: ctrl,
		ledger:     l,
	}
}

// Start begins the health check server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

// routes builds the HTTP handler.
func (s *HealthService) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	// Ready check endpoint
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	})

	// Controller status snapshot
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		st := s.controller.Status()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"phase":          st.Phase.String(),
			"brightness":     st.Brightness,
			"last_motion_at": st.LastMotionAt,
		})
	})

	// Recent event history, optionally filtered: /history?type=motion
	mux.HandleFunc("/history", s.handleHistory)

	return mux
}

func (s *HealthService) handleHistory(w http.ResponseWriter, r *http.Request) {
	var entries []*ledger.Entry
	var err error

	if typ := r.URL.Query().Get("type"); typ != "" {
		entries, err = s.ledger.GetByType(typ, historyLimit)
	} else {
		entries, err = s.ledger.GetRecent(historyLimit)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to query event history")
		http.Error(w, "failed to query event history", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.Host, s.cfg.Healthcheck.Port)

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.routes(),
	}

	log.Info().Str("addr", addr).Msg("Starting health check server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Health check server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Health check server error")
	}
}
