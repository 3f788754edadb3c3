// Package controller implements the motion-driven dimming loop: it turns
// motion events and timer ticks into a target brightness and drives the
// bulb to match it.
package controller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/motiond/internal/eventbus"
	"github.com/dokzlo13/motiond/internal/lifx"
)

// Bulb is the slice of the bulb client the controller needs.
type Bulb interface {
	SetColor(ctx context.Context, color lifx.HSBK, duration time.Duration) error
	GetColor(ctx context.Context) (lifx.HSBK, error)
}

// Config holds the controller parameters. The zero value gets usable
// defaults from New.
type Config struct {
	Schedule

	// TickInterval is the decay clock period.
	TickInterval time.Duration
	// Kelvin is the color temperature used when the bulb's current color
	// is unknown and cannot be fetched.
	Kelvin uint16
	// RateLimitRPS bounds outgoing dimming samples.
	RateLimitRPS float64
	// GetColorTimeout bounds the cold-cache GetColor round-trip.
	GetColorTimeout time.Duration
}

// Status is a read-only snapshot of the controller state.
type Status struct {
	Phase        Phase
	Brightness   uint16
	LastMotionAt time.Time
}

// Controller is the dimming state machine. Its state is mutated only by the
// Run loop, which serializes motion events and timer ticks through one
// consumer; Motion may be called from any goroutine.
type Controller struct {
	bulb    Bulb
	bus     *eventbus.Bus
	cfg     Config
	limiter *rate.Limiter
	cache   ColorCache

	motionCh chan time.Time

	// Snapshot of the loop's belief about the bulb, guarded for Status
	// readers. The Run loop is the single writer.
	mu         sync.Mutex
	phase      Phase
	brightness uint16
	known      bool
	lastMotion time.Time
}

// New creates a Controller. The bus may be nil; phase and failure events
// are then not published.
func New(b Bulb, bus *eventbus.Bus, cfg Config) *Controller {
	if cfg.ActiveBrightness == 0 {
		cfg.ActiveBrightness = lifx.MaxBrightness
	}
	if cfg.ActiveTimeout == 0 {
		cfg.ActiveTimeout = time.Minute
	}
	if cfg.DimDuration == 0 {
		cfg.DimDuration = 30 * time.Second
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Kelvin == 0 {
		cfg.Kelvin = 3000
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 5.0
	}
	if cfg.GetColorTimeout == 0 {
		cfg.GetColorTimeout = 2 * time.Second
	}

	// Convert RPS to rate.Limiter format
	burst := int(cfg.RateLimitRPS)
	if burst < 1 {
		burst = 1
	}

	return &Controller{
		bulb:     b,
		bus:      bus,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst),
		motionCh: make(chan time.Time, 16),
		phase:    PhaseActive,
	}
}

// Motion reports a motion event. A zero timestamp means now. Never blocks:
// when the queue is full the pending event already re-arms the window.
func (c *Controller) Motion(at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	select {
	case c.motionCh <- at:
	default:
		log.Debug().Msg("Motion queue full, coalescing burst")
	}
}

// MarkColorStale invalidates the color cache after something other than the
// controller mutated the bulb. The next partial update does a fresh
// GetColor round-trip.
func (c *Controller) MarkColorStale() {
	c.cache.MarkStale()
}

// Status returns a snapshot of the controller's belief.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{Phase: c.phase, Brightness: c.brightness, LastMotionAt: c.lastMotion}
}

// Run starts the control loop and blocks until the context is cancelled.
// Startup counts as motion: the bulb is brought to the active level and the
// idle window starts fresh.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Uint16("active", c.cfg.ActiveBrightness).
		Uint16("min", c.cfg.MinBrightness).
		Dur("active_timeout", c.cfg.ActiveTimeout).
		Dur("dim_duration", c.cfg.DimDuration).
		Dur("tick", c.cfg.TickInterval).
		Msg("Dimming controller started")

	now := time.Now()
	c.mu.Lock()
	c.lastMotion = now
	c.mu.Unlock()
	c.apply(ctx, now, true)

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Dimming controller stopping")
			return nil
		case at := <-c.motionCh:
			c.handleMotion(ctx, at)
		case now := <-ticker.C:
			c.apply(ctx, now, false)
		}
	}
}

// handleMotion re-arms the idle window and restores the active level.
// Motion while already at the active level only re-arms: no duplicate
// full-brightness packet.
func (c *Controller) handleMotion(ctx context.Context, at time.Time) {
	c.mu.Lock()
	c.lastMotion = at
	settled := c.phase == PhaseActive && c.known && c.brightness == c.cfg.ActiveBrightness
	c.mu.Unlock()

	if settled {
		log.Debug().Msg("Motion while active, idle window re-armed")
		return
	}

	log.Info().Msg("Motion detected")
	c.apply(ctx, at, true)
}

// apply reconciles the bulb with the schedule at the given instant. Elapsed
// time comes from the monotonic clock carried by time.Time, so wall-clock
// adjustments cannot distort the schedule. A failed send leaves the
// in-memory belief unchanged; the next tick retries from the same schedule
// position.
func (c *Controller) apply(ctx context.Context, now time.Time, viaMotion bool) {
	c.mu.Lock()
	elapsed := now.Sub(c.lastMotion)
	phase, brightness, known := c.phase, c.brightness, c.known
	c.mu.Unlock()
	if elapsed < 0 {
		elapsed = 0
	}

	targetPhase := c.cfg.PhaseAt(elapsed)
	target := c.cfg.BrightnessAt(elapsed)

	// Idempotent rest: nothing to send when belief already matches.
	if known && phase == targetPhase && brightness == target {
		return
	}

	// Decay samples are rate-limited; motion restores always go out.
	if !viaMotion && !c.limiter.Allow() {
		log.Debug().Msg("Send rate limit hit, skipping decay sample")
		return
	}

	color := lifx.Partial{Brightness: lifx.Uint16(target)}.Merge(c.currentColor(ctx))

	if err := c.bulb.SetColor(ctx, color, 0); err != nil {
		log.Warn().Err(err).Uint16("brightness", target).Msg("Failed to set color, will retry")
		c.cache.MarkStale()
		c.publish(eventbus.EventTypeSendFailure, map[string]interface{}{
			"error":      err.Error(),
			"brightness": target,
		})
		return
	}

	c.cache.Set(color)
	c.mu.Lock()
	c.phase = targetPhase
	c.brightness = target
	c.known = true
	c.mu.Unlock()

	if phase != targetPhase || !known {
		log.Info().
			Str("phase", targetPhase.String()).
			Uint16("brightness", target).
			Msg("Phase transition")
		c.publish(eventbus.EventTypePhase, map[string]interface{}{
			"phase":      targetPhase.String(),
			"previous":   phase.String(),
			"brightness": target,
		})
	}
}

// currentColor resolves the color to merge partial updates against: the
// cache when fresh, a GetColor round-trip when stale, configured defaults
// when the bulb does not answer in time. The round-trip blocks only this
// one update.
func (c *Controller) currentColor(ctx context.Context) lifx.HSBK {
	if color, err := c.cache.Current(); err == nil {
		return color
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.GetColorTimeout)
	defer cancel()

	color, err := c.bulb.GetColor(fetchCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Cold color fetch failed, using configured defaults")
		return lifx.HSBK{
			Brightness: c.cfg.ActiveBrightness,
			Kelvin:     c.cfg.Kelvin,
		}
	}

	c.cache.Set(color)
	return color
}

func (c *Controller) publish(typ eventbus.EventType, data map[string]interface{}) {
	if c.bus == nil {
		return
	}
	data["at"] = time.Now().UTC()
	c.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
