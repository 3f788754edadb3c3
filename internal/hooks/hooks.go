// Package hooks runs an optional user Lua script. The script may define
// on_motion() and on_phase(phase, brightness) callbacks, invoked from the
// event bus. All Lua execution happens on one goroutine that owns the
// state; callbacks are queued, never run concurrently.
package hooks

import (
	"context"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/motiond/internal/eventbus"
)

const queueSize = 32

// Hooks owns the Lua state and the callback queue.
type Hooks struct {
	state *lua.LState
	work  chan func(L *lua.LState)

	onMotion *lua.LFunction
	onPhase  *lua.LFunction
}

// Load compiles and runs the script, then looks up the callback globals.
// Missing callbacks are fine; the script may define only one.
func Load(path string) (*Hooks, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, err
	}

	h := &Hooks{
		state: L,
		work:  make(chan func(L *lua.LState), queueSize),
	}
	if fn, ok := L.GetGlobal("on_motion").(*lua.LFunction); ok {
		h.onMotion = fn
	}
	if fn, ok := L.GetGlobal("on_phase").(*lua.LFunction); ok {
		h.onPhase = fn
	}

	log.Info().
		Str("script", path).
		Bool("on_motion", h.onMotion != nil).
		Bool("on_phase", h.onPhase != nil).
		Msg("Lua hooks loaded")

	return h, nil
}

// Start runs the Lua worker until the context is cancelled.
func (h *Hooks) Start(ctx context.Context) {
	go func() {
		defer h.state.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case fn := <-h.work:
				fn(h.state)
			}
		}
	}()
}

// RegisterHandlers subscribes the script callbacks to bus events.
func (h *Hooks) RegisterHandlers(bus *eventbus.Bus) {
	if h.onMotion != nil {
		bus.Subscribe(eventbus.EventTypeMotion, func(e eventbus.Event) {
			h.enqueue(func(L *lua.LState) {
				h.call(L, h.onMotion)
			})
		})
	}
	if h.onPhase != nil {
		bus.Subscribe(eventbus.EventTypePhase, func(e eventbus.Event) {
			phase, _ := e.Data["phase"].(string)
			brightness, _ := e.Data["brightness"].(uint16)
			h.enqueue(func(L *lua.LState) {
				h.call(L, h.onPhase, lua.LString(phase), lua.LNumber(brightness))
			})
		})
	}
}

func (h *Hooks) enqueue(fn func(L *lua.LState)) {
	select {
	case h.work <- fn:
	default:
		log.Warn().Msg("Lua hook queue full, dropping callback")
	}
}

// call invokes a Lua function; script errors are logged, never fatal.
func (h *Hooks) call(L *lua.LState, fn *lua.LFunction, args ...lua.LValue) {
	L.Push(fn)
	for _, a := range args {
		L.Push(a)
	}
	if err := L.PCall(len(args), 0, nil); err != nil {
		log.Error().Err(err).Msg("Lua hook failed")
	}
}
