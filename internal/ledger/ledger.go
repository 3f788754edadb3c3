// Package ledger provides an append-only event history for motiond: what
// moved, when phases changed and which sends failed.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/motiond/internal/eventbus"
)

// Entry represents a single recorded event
type Entry struct {
	ID        string
	EventType string
	Timestamp time.Time
	Payload   map[string]any
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the history
func (l *Ledger) Append(eventType string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_history (id, event_type, timestamp, payload) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), eventType, time.Now().UTC().Unix(), string(payloadJSON),
	)
	return err
}

// RecordEvents subscribes the ledger to every bus event type worth keeping.
func (l *Ledger) RecordEvents(bus *eventbus.Bus) {
	for _, typ := range []eventbus.EventType{
		eventbus.EventTypeMotion,
		eventbus.EventTypePhase,
		eventbus.EventTypeThermal,
		eventbus.EventTypeSendFailure,
	} {
		typ := typ
		bus.Subscribe(typ, func(e eventbus.Event) {
			// History is best-effort; the control loop never depends on it.
			if err := l.Append(string(typ), e.Data); err != nil {
				log.Warn().Err(err).Str("event_type", string(typ)).Msg("Failed to record event")
			}
		})
	}
}

// GetByType returns entries filtered by event type, newest first
func (l *Ledger) GetByType(eventType string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload
		FROM event_history
		WHERE event_type = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// GetRecent returns the most recent entries across all types
func (l *Ledger) GetRecent(limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload
		FROM event_history
		ORDER BY timestamp DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteOlderThan removes entries older than the retention period and
// returns how many were deleted
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Unix()
	res, err := l.db.Exec(`DELETE FROM event_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var payload sql.NullString

		if err := rows.Scan(&e.ID, &e.EventType, &ts, &payload); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		if payload.Valid && payload.String != "" {
			if err := json.Unmarshal([]byte(payload.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
