package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/bulb"
	"github.com/dokzlo13/motiond/internal/config"
	"github.com/dokzlo13/motiond/internal/controller"
	"github.com/dokzlo13/motiond/internal/db"
	"github.com/dokzlo13/motiond/internal/eventbus"
	"github.com/dokzlo13/motiond/internal/hooks"
	"github.com/dokzlo13/motiond/internal/ledger"
	"github.com/dokzlo13/motiond/internal/lifx"
	"github.com/dokzlo13/motiond/internal/motion"
	"github.com/dokzlo13/motiond/internal/thermal"
	"github.com/dokzlo13/motiond/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Bus    *eventbus.Bus

	// Bulb transport and client
	Conn *transport.Conn
	Bulb *bulb.Client

	// High-level services
	Controller *controller.Controller
	Webhook    *motion.WebhookServer
	MQTT       *motion.MQTTSource
	Thermal    *thermal.Monitor
	Hooks      *hooks.Hooks
	Health     *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Initialize ledger
	s.Ledger = ledger.New(database.DB)

	// Initialize event bus
	s.Bus = eventbus.New()

	// Connect the bulb socket
	conn, err := transport.Dial(cfg.Bulb.Address, cfg.Bulb.SocketTimeout.Duration())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Conn = conn

	var target uint64
	if cfg.Bulb.Target != "" {
		target, err = bulb.ParseTarget(cfg.Bulb.Target)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	s.Bulb = bulb.New(conn, bulb.Options{
		Target:           target,
		Ack:              cfg.Bulb.Ack,
		RoundTripTimeout: cfg.Bulb.RoundTripTimeout.Duration(),
	})

	// Initialize the dimming controller
	s.Controller = controller.New(s.Bulb, s.Bus, controller.Config{
		Schedule: controller.Schedule{
			ActiveBrightness: cfg.Dimming.ActiveBrightness,
			MinBrightness:    cfg.Dimming.MinBrightness,
			ActiveTimeout:    cfg.Dimming.ActiveTimeout.Duration(),
			DimDuration:      cfg.Dimming.DimDuration.Duration(),
		},
		TickInterval:    cfg.Dimming.TickInterval.Duration(),
		Kelvin:          cfg.Bulb.Kelvin,
		RateLimitRPS:    cfg.Dimming.RateLimitRPS,
		GetColorTimeout: cfg.Dimming.GetColorTimeout.Duration(),
	})

	// Initialize motion sources
	if cfg.Motion.Webhook.Enabled {
		s.Webhook = motion.NewWebhookServer(
			cfg.Motion.Webhook.Host,
			cfg.Motion.Webhook.Port,
			cfg.Motion.Webhook.Path,
			s.Bus,
		)
	}
	if cfg.Motion.MQTT.Enabled {
		s.MQTT = motion.NewMQTTSource(
			cfg.Motion.MQTT.Broker,
			cfg.Motion.MQTT.Topic,
			cfg.Motion.MQTT.ClientID,
			s.Bus,
		)
	}

	// Initialize the thermal trigger
	if cfg.Thermal.IsEnabled() {
		s.Thermal = thermal.New(cfg.Thermal.ZonePath, cfg.Thermal.Interval.Duration(), s.Bus)
	}

	// Load the Lua hooks script
	if cfg.Script != "" {
		s.Hooks, err = hooks.Load(cfg.Script)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Controller, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs (e.g., the
// webhook listener failing to bind).
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Register event handlers before any source can publish
	s.registerHandlers(ctx)
	s.Ledger.RecordEvents(s.Bus)
	if s.Hooks != nil {
		s.Hooks.RegisterHandlers(s.Bus)
		s.Hooks.Start(ctx)
	}

	// Start the control loop
	go func() {
		if err := s.Controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			onFatalError(err)
		}
	}()

	// Start motion sources
	if s.Webhook != nil {
		go func() {
			if err := s.Webhook.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
				onFatalError(err)
			}
		}()
	}
	if s.MQTT != nil {
		if err := s.MQTT.Start(ctx); err != nil {
			return err
		}
	}

	// Start the thermal trigger
	if s.Thermal != nil {
		go func() {
			if err := s.Thermal.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Thermal monitor stopped")
			}
		}()
	}

	s.Health.Start(ctx)

	go s.runLedgerCleanup(ctx)

	return nil
}

// registerHandlers wires bus events into the controller and the bulb.
func (s *Services) registerHandlers(ctx context.Context) {
	// Motion events re-arm the dimming window
	s.Bus.Subscribe(eventbus.EventTypeMotion, func(e eventbus.Event) {
		at, _ := e.Data["at"].(time.Time)
		s.Controller.Motion(at)
	})

	// A thermal trigger is a physical touch: apply the configured level
	// directly, then tell the controller its color belief is stale. The
	// round-trip runs on its own goroutine; the single bus worker must
	// stay free so motion events queued behind this handler are not held
	// up for the bulb timeout.
	s.Bus.Subscribe(eventbus.EventTypeThermal, func(e eventbus.Event) {
		go s.thermalTouch(ctx)
	})
}

// thermalTouch applies the configured thermal brightness as a one-shot.
func (s *Services) thermalTouch(ctx context.Context) {
	level := s.cfg.Thermal.Brightness
	opCtx, cancel := context.WithTimeout(ctx, s.cfg.Bulb.RoundTripTimeout.Duration())
	defer cancel()

	err := s.Bulb.ChangeColor(opCtx, func(c lifx.HSBK) lifx.HSBK {
		return lifx.Partial{Brightness: lifx.Uint16(level)}.Merge(c)
	}, 0)
	if err != nil {
		log.Error().Err(err).Msg("Thermal touch failed")
		return
	}
	s.Controller.MarkColorStale()
	log.Info().Uint16("brightness", level).Msg("Thermal touch applied")
}

// runLedgerCleanup periodically deletes ledger entries older than the
// retention window.
func (s *Services) runLedgerCleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Ledger.CleanupInterval.Duration())
	defer ticker.Stop()

	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.Ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Ledger cleanup failed")
				continue
			}
			if deleted > 0 {
				log.Info().Int64("deleted", deleted).Msg("Ledger cleanup completed")
			}
		}
	}
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(shutdownCtx)

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.MQTT != nil {
		s.MQTT.Close()
	}
	if s.Conn != nil {
		s.Conn.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
