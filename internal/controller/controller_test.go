package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/motiond/internal/lifx"
)

type setCall struct {
	color    lifx.HSBK
	duration time.Duration
}

// fakeBulb records SetColor calls and serves a canned current color.
type fakeBulb struct {
	mu      sync.Mutex
	sets    []setCall
	gets    int
	current lifx.HSBK
	setErr  error
	getErr  error
}

func (f *fakeBulb) SetColor(ctx context.Context, color lifx.HSBK, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets = append(f.sets, setCall{color: color, duration: duration})
	f.current = color
	return nil
}

func (f *fakeBulb) GetColor(ctx context.Context) (lifx.HSBK, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.getErr != nil {
		return lifx.HSBK{}, f.getErr
	}
	return f.current, nil
}

func (f *fakeBulb) setCalls() []setCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]setCall(nil), f.sets...)
}

func (f *fakeBulb) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setErr = err
}

func scenarioConfig() Config {
	return Config{
		Schedule: Schedule{
			ActiveBrightness: lifx.MaxBrightness,
			MinBrightness:    0,
			ActiveTimeout:    60 * time.Second,
			DimDuration:      30 * time.Second,
		},
		TickInterval:    time.Second,
		Kelvin:          3000,
		RateLimitRPS:    1000, // ticks are injected instantly in tests
		GetColorTimeout: 100 * time.Millisecond,
	}
}

func TestEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{current: lifx.HSBK{Kelvin: 3000}}
	c := New(fake, nil, scenarioConfig())

	base := time.Now()

	// Motion at t=0.
	c.handleMotion(ctx, base)
	if st := c.Status(); st.Phase != PhaseActive || st.Brightness != lifx.MaxBrightness {
		t.Fatalf("after motion: %+v, want active/65535", st)
	}

	// No further motion; tick once per second.
	var prev uint16 = lifx.MaxBrightness
	for sec := 1; sec <= 94; sec++ {
		now := base.Add(time.Duration(sec) * time.Second)
		c.apply(ctx, now, false)
		st := c.Status()

		if st.Brightness > prev {
			t.Fatalf("t=%ds: brightness increased %d -> %d", sec, prev, st.Brightness)
		}
		prev = st.Brightness

		switch {
		case sec < 60:
			if st.Phase != PhaseActive {
				t.Fatalf("t=%ds: phase %s, want active", sec, st.Phase)
			}
		case sec < 90:
			if st.Phase != PhaseDimming {
				t.Fatalf("t=%ds: phase %s, want dimming", sec, st.Phase)
			}
		default:
			if st.Phase != PhaseOff || st.Brightness != 0 {
				t.Fatalf("t=%ds: %+v, want off/0", sec, st)
			}
		}
	}

	// Rest state is idempotent: no sends while off.
	sent := len(fake.setCalls())
	for sec := 95; sec <= 105; sec++ {
		c.apply(ctx, base.Add(time.Duration(sec)*time.Second), false)
	}
	if got := len(fake.setCalls()); got != sent {
		t.Errorf("sends while off: %d extra packets", got-sent)
	}

	// Motion at t=95 springs straight back to active.
	motionAt := base.Add(95 * time.Second)
	c.handleMotion(ctx, motionAt)
	st := c.Status()
	if st.Phase != PhaseActive || st.Brightness != lifx.MaxBrightness {
		t.Errorf("after late motion: %+v, want active/65535", st)
	}
	if !st.LastMotionAt.Equal(motionAt) {
		t.Errorf("last motion %v, want %v", st.LastMotionAt, motionAt)
	}
}

func TestMotionDuringDimmingWins(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{current: lifx.HSBK{Kelvin: 3000}}
	c := New(fake, nil, scenarioConfig())

	base := time.Now()
	c.handleMotion(ctx, base)

	// Deep into the decay.
	c.apply(ctx, base.Add(75*time.Second), false)
	if st := c.Status(); st.Phase != PhaseDimming {
		t.Fatalf("phase %s, want dimming", st.Phase)
	}

	c.handleMotion(ctx, base.Add(75*time.Second+500*time.Millisecond))
	st := c.Status()
	if st.Phase != PhaseActive || st.Brightness != lifx.MaxBrightness {
		t.Errorf("motion did not win over decay: %+v", st)
	}
}

func TestMotionWhileActiveOnlyReArms(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{current: lifx.HSBK{Kelvin: 3000}}
	c := New(fake, nil, scenarioConfig())

	base := time.Now()
	c.handleMotion(ctx, base)
	sent := len(fake.setCalls())

	// A burst of motion inside the active window must not resend.
	for i := 1; i <= 5; i++ {
		c.handleMotion(ctx, base.Add(time.Duration(i)*time.Second))
	}
	if got := len(fake.setCalls()); got != sent {
		t.Errorf("burst caused %d extra sends", got-sent)
	}

	// But the window was re-armed: at base+64s we are still active.
	c.apply(ctx, base.Add(64*time.Second), false)
	if st := c.Status(); st.Phase != PhaseActive {
		t.Errorf("phase %s after re-arm, want active", st.Phase)
	}
}

func TestSendFailureKeepsBelief(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{current: lifx.HSBK{Kelvin: 3000}}
	c := New(fake, nil, scenarioConfig())

	base := time.Now()
	c.handleMotion(ctx, base)
	before := c.Status()

	fake.fail(errors.New("network unreachable"))
	c.apply(ctx, base.Add(70*time.Second), false)

	// Belief unchanged, no decay position advanced.
	if st := c.Status(); st.Phase != before.Phase || st.Brightness != before.Brightness {
		t.Errorf("belief changed on failed send: %+v", st)
	}

	// Next tick recomputes from the schedule and retries.
	fake.fail(nil)
	c.apply(ctx, base.Add(71*time.Second), false)
	st := c.Status()
	if st.Phase != PhaseDimming {
		t.Errorf("phase %s after retry, want dimming", st.Phase)
	}
	want := c.cfg.BrightnessAt(71 * time.Second)
	if st.Brightness != want {
		t.Errorf("brightness %d after retry, want %d", st.Brightness, want)
	}
}

func TestFailedSendMarksCacheStale(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{current: lifx.HSBK{Hue: 5000, Saturation: 1000, Brightness: 100, Kelvin: 2700}}
	c := New(fake, nil, scenarioConfig())

	base := time.Now()
	c.handleMotion(ctx, base) // cold fetch + send
	getsAfterStart := fake.gets

	fake.fail(errors.New("boom"))
	c.apply(ctx, base.Add(61*time.Second), false)
	fake.fail(nil)

	c.apply(ctx, base.Add(62*time.Second), false)
	if fake.gets <= getsAfterStart {
		t.Error("stale cache did not trigger a fresh GetColor")
	}
}

func TestColdFetchFallsBackToDefaults(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{getErr: errors.New("no reply")}
	c := New(fake, nil, scenarioConfig())

	c.handleMotion(ctx, time.Now())

	calls := fake.setCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(calls))
	}
	got := calls[0].color
	if got.Kelvin != 3000 || got.Saturation != 0 {
		t.Errorf("fallback color %+v, want configured defaults", got)
	}
	if got.Brightness != lifx.MaxBrightness {
		t.Errorf("fallback brightness %d, want active level", got.Brightness)
	}
}

func TestPartialUpdatePreservesOtherChannels(t *testing.T) {
	ctx := context.Background()
	current := lifx.HSBK{Hue: 5000, Saturation: 10000, Brightness: 40000, Kelvin: 2700}
	fake := &fakeBulb{current: current}
	c := New(fake, nil, scenarioConfig())

	c.handleMotion(ctx, time.Now())

	calls := fake.setCalls()
	if len(calls) != 1 {
		t.Fatalf("got %d sends, want 1", len(calls))
	}
	got := calls[0].color
	want := lifx.HSBK{Hue: 5000, Saturation: 10000, Brightness: lifx.MaxBrightness, Kelvin: 2700}
	if got != want {
		t.Errorf("sent %+v, want %+v", got, want)
	}
	if calls[0].duration != 0 {
		t.Errorf("motion restore sent with duration %s, want 0", calls[0].duration)
	}
}

func TestDecaySamplesRateLimited(t *testing.T) {
	ctx := context.Background()
	fake := &fakeBulb{current: lifx.HSBK{Kelvin: 3000}}
	cfg := scenarioConfig()
	cfg.RateLimitRPS = 0.001 // one token, then a very long refill
	c := New(fake, nil, cfg)

	base := time.Now()
	c.handleMotion(ctx, base) // motion restores bypass the limiter
	sent := len(fake.setCalls())

	// Two immediate decay samples: the first consumes the token, the
	// second is skipped.
	c.apply(ctx, base.Add(61*time.Second), false)
	c.apply(ctx, base.Add(62*time.Second), false)

	if got := len(fake.setCalls()) - sent; got != 1 {
		t.Errorf("got %d decay sends, want 1", got)
	}
}

func TestRunLoop(t *testing.T) {
	fake := &fakeBulb{current: lifx.HSBK{Kelvin: 3000}}
	cfg := Config{
		Schedule: Schedule{
			ActiveBrightness: lifx.MaxBrightness,
			MinBrightness:    0,
			ActiveTimeout:    150 * time.Millisecond,
			DimDuration:      150 * time.Millisecond,
		},
		TickInterval:    25 * time.Millisecond,
		RateLimitRPS:    1000,
		GetColorTimeout: 100 * time.Millisecond,
	}
	c := New(fake, nil, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	waitFor := func(name string, cond func(Status) bool) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for time.Now().Before(deadline) {
			if cond(c.Status()) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s, status %+v", name, c.Status())
	}

	// Startup counts as motion.
	waitFor("startup active", func(st Status) bool {
		return st.Phase == PhaseActive && st.Brightness == lifx.MaxBrightness
	})

	// With no motion the loop decays to off.
	waitFor("decay to off", func(st Status) bool {
		return st.Phase == PhaseOff && st.Brightness == 0
	})

	// Motion springs back to active immediately.
	c.Motion(time.Now())
	waitFor("restore after motion", func(st Status) bool {
		return st.Phase == PhaseActive && st.Brightness == lifx.MaxBrightness
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
}
