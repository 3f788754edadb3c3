// Package thermal watches a sysfs thermal zone and publishes an event when
// the CPU temperature drops sharply - the "finger lifted off the CPU"
// trick. It can tell a finger from ambient drift, but a heavy program
// quitting looks the same, so treat the trigger as a toy input.
package thermal

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/eventbus"
)

// bufferLen readings at the scan interval form the comparison window: with
// the 100ms default that is a 2-second history.
const bufferLen = 20

// degreeThreshold is how much colder the newest half of the window must be
// than the older half to count as a touch release.
const degreeThreshold = 1.0

// Monitor polls a thermal zone into a fixed ring of recent readings.
type Monitor struct {
	zonePath string
	interval time.Duration
	bus      *eventbus.Bus

	// Ring of the last bufferLen readings; index points at the slot the
	// next reading overwrites, so the newest value sits just after it.
	readings [bufferLen]float64
	index    int
	count    int

	triggered bool
}

// New creates a Monitor for the given sysfs zone temp file.
func New(zonePath string, interval time.Duration, bus *eventbus.Bus) *Monitor {
	return &Monitor{
		zonePath: zonePath,
		interval: interval,
		bus:      bus,
		index:    bufferLen - 1,
	}
}

// Run polls the zone until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info().Str("zone", m.zonePath).Dur("interval", m.interval).Msg("Thermal monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Thermal monitor stopping")
			return nil
		case <-ticker.C:
			temp, err := m.readTemp()
			if err != nil {
				log.Warn().Err(err).Msg("Failed to read thermal zone")
				continue
			}
			m.push(temp)
			m.evaluate(temp)
		}
	}
}

// evaluate fires at most one event per decrease episode.
func (m *Monitor) evaluate(temp float64) {
	if !m.isDecreasing() {
		m.triggered = false
		return
	}
	if m.triggered {
		return
	}
	m.triggered = true

	log.Info().Float64("temp", temp).Msg("Temperature drop detected")
	m.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeThermal,
		Data: map[string]interface{}{
			"temp": temp,
			"at":   time.Now().UTC(),
		},
	})
}

// readTemp parses the sysfs millidegree value.
func (m *Monitor) readTemp() (float64, error) {
	data, err := os.ReadFile(m.zonePath)
	if err != nil {
		return 0, err
	}
	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("bad thermal zone value: %w", err)
	}
	return float64(milli) / 1000.0, nil
}

// push adds a reading; it will appear first in temps.
func (m *Monitor) push(v float64) {
	m.readings[m.index] = v
	if m.index == 0 {
		m.index = bufferLen - 1
	} else {
		m.index--
	}
	if m.count < bufferLen {
		m.count++
	}
}

// temps returns the recorded readings, newest first.
func (m *Monitor) temps() []float64 {
	out := make([]float64, 0, m.count)
	for i := 1; i <= m.count; i++ {
		out = append(out, m.readings[(m.index+i)%bufferLen])
	}
	return out
}

// isDecreasing compares the newest half of the window against the older
// half: a gap over the threshold means the temperature fell sharply.
func (m *Monitor) isDecreasing() bool {
	values := m.temps()
	mid := bufferLen / 2
	if len(values) <= mid {
		return false
	}

	newest, older := values[:mid], values[mid:]
	newestAvg := avg(newest)
	olderAvg := avg(older)

	return newestAvg+degreeThreshold < olderAvg
}

func avg(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
