package hooks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/motiond/internal/eventbus"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hooks.lua")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingCallbacks(t *testing.T) {
	path := writeScript(t, `x = 1`)
	h, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.onMotion != nil || h.onPhase != nil {
		t.Error("expected no callbacks for a script that defines none")
	}
	h.state.Close()
}

func TestLoadBadScript(t *testing.T) {
	path := writeScript(t, `this is not lua`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestCallbacksReceiveEvents(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	path := writeScript(t, `
function on_motion()
	local f = io.open("`+out+`", "a")
	f:write("motion\n")
	f:close()
end

function on_phase(phase, brightness)
	local f = io.open("`+out+`", "a")
	f:write(phase .. " " .. brightness .. "\n")
	f:close()
end
`)
	h, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	bus := eventbus.New()
	defer bus.Close(context.Background())
	h.RegisterHandlers(bus)

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeMotion, Data: map[string]interface{}{"source": "test"}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypePhase, Data: map[string]interface{}{
		"phase":      "dimming",
		"brightness": uint16(32768),
	}})

	deadline := time.Now().Add(3 * time.Second)
	want := "motion\ndimming 32768\n"
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(out)
		if err == nil && string(data) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	data, _ := os.ReadFile(out)
	t.Fatalf("hook output = %q, want %q", data, want)
}

func TestScriptErrorIsNotFatal(t *testing.T) {
	path := writeScript(t, `
function on_motion()
	error("boom")
end
`)
	h, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)

	bus := eventbus.New()
	defer bus.Close(context.Background())
	h.RegisterHandlers(bus)

	// Two publishes: the second proves the worker survived the first error.
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeMotion})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeMotion})
	time.Sleep(100 * time.Millisecond)
}
