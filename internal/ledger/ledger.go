// Package ledger implements the append-only incident event ledger on SQLite.
//
// Every incident is a strictly ordered event stream keyed by
// (incident_id, version). Appends are optimistically locked: the writer
// states the version it last observed and the insert fails with
// ErrConcurrentModification when another writer got there first. The current
// incident snapshot is never stored; it is reconstructed by replaying the
// stream.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/moolen/quorum/internal/logging"
	"github.com/moolen/quorum/internal/models"
)

// ErrConcurrentModification is returned by Append when the expected version
// no longer matches the stream head.
var ErrConcurrentModification = errors.New("concurrent ledger modification")

// ErrNotFound is returned when an incident has no events.
var ErrNotFound = errors.New("incident not found")

const schema = `
CREATE TABLE IF NOT EXISTS incident_events (
	incident_id TEXT    NOT NULL,
	version     INTEGER NOT NULL,
	event_id    TEXT    NOT NULL,
	event_type  TEXT    NOT NULL,
	recorded_at TEXT    NOT NULL,
	payload     BLOB    NOT NULL,
	PRIMARY KEY (incident_id, version)
);
CREATE INDEX IF NOT EXISTS idx_incident_events_type ON incident_events (event_type);
`

// terminalCacheSize bounds the reconstructed-snapshot cache for incidents
// that reached a terminal state and can no longer change.
const terminalCacheSize = 512

// Store is the SQLite-backed incident ledger. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	cache  *lru.Cache[string, *models.Incident]
	logger *logging.Logger
}

// Open opens (and migrates) a ledger at the given path. Use ":memory:" for
// an ephemeral in-process ledger.
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		// A shared cache keeps all pool connections on the same in-memory
		// database.
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate ledger schema: %w", err)
	}

	cache, err := lru.New[string, *models.Incident](terminalCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		cache:  cache,
		logger: logging.GetLogger("ledger"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append writes one event at version expectedVersion+1. expectedVersion is
// the stream head the caller last observed (zero for a new incident).
// Returns the new head version, or ErrConcurrentModification when another
// writer advanced the stream in the meantime.
func (s *Store) Append(ctx context.Context, incidentID string, expectedVersion int, ev models.Event) (int, error) {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to encode ledger event: %w", err)
	}

	next := expectedVersion + 1
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incident_events (incident_id, version, event_id, event_type, recorded_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		incidentID, next, ev.ID, string(ev.Type), ev.RecordedAt.Format(time.RFC3339Nano), payload,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return 0, fmt.Errorf("append of %s at version %d: %w", ev.Type, next, ErrConcurrentModification)
		}
		return 0, fmt.Errorf("failed to append ledger event: %w", err)
	}

	s.logger.DebugWithFields("event appended",
		logging.Field("incident_id", incidentID),
		logging.Field("version", next),
		logging.Field("type", ev.Type),
	)
	return next, nil
}

// AppendWithRetry re-reads the stream head and retries the append on version
// conflicts. Used for telemetry-grade events where strict read-modify-write
// ordering against the caller's snapshot does not matter.
func (s *Store) AppendWithRetry(ctx context.Context, incidentID string, ev models.Event, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		head, err := s.Head(ctx, incidentID)
		if err != nil {
			return 0, err
		}
		version, err := s.Append(ctx, incidentID, head, ev)
		if err == nil {
			return version, nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return 0, err
		}
		lastErr = err
	}
	return 0, lastErr
}

// Head returns the current stream head version, zero when the incident has
// no events.
func (s *Store) Head(ctx context.Context, incidentID string) (int, error) {
	var head int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM incident_events WHERE incident_id = ?`,
		incidentID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("failed to read ledger head: %w", err)
	}
	return head, nil
}

// Replay returns the incident's full event stream in version order.
func (s *Store) Replay(ctx context.Context, incidentID string) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM incident_events WHERE incident_id = ? ORDER BY version ASC`,
		incidentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to replay ledger: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var ev models.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode ledger event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("incident %s: %w", incidentID, ErrNotFound)
	}
	return events, nil
}

// Snapshot reconstructs the incident's current state by replay. Terminal
// snapshots are cached; they can never change again.
func (s *Store) Snapshot(ctx context.Context, incidentID string) (*models.Incident, error) {
	if inc, ok := s.cache.Get(incidentID); ok {
		return inc, nil
	}

	events, err := s.Replay(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	inc, err := Reconstruct(events)
	if err != nil {
		return nil, err
	}
	if inc.State.Terminal() {
		s.cache.Add(incidentID, inc)
	}
	return inc, nil
}

// ListOpen returns the IDs of incidents whose stream has no terminal event.
func (s *Store) ListOpen(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT incident_id FROM incident_events
		WHERE incident_id NOT IN (
			SELECT incident_id FROM incident_events
			WHERE event_type IN (?, ?, ?)
		)`,
		string(models.EventResolved), string(models.EventEscalated), string(models.EventAbandoned),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reconstruct folds an event stream into the incident snapshot it describes.
// The fold is deterministic: the same stream always yields the same snapshot.
func Reconstruct(events []models.Event) (*models.Incident, error) {
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	first := events[0]
	if first.Type != models.EventIncidentOpened || first.Incident == nil {
		return nil, fmt.Errorf("stream for %s does not start with an opened event", first.IncidentID)
	}

	inc := *first.Incident
	inc.Findings = append([]models.Finding(nil), first.Incident.Findings...)

	for _, ev := range events[1:] {
		switch ev.Type {
		case models.EventRoundStarted:
			inc.Round = ev.Round
			inc.State = models.StateAnalyzing
		case models.EventFindingRecorded:
			if ev.Finding != nil {
				inc.Findings = append(inc.Findings, *ev.Finding)
			}
		case models.EventDispatchFailed:
			// Telemetry detail only; no snapshot change.
		case models.EventConsensusReached:
			inc.Decision = ev.Decision
			inc.State = models.StateDeciding
		case models.EventActionExecuted:
			inc.State = models.StateExecuting
		case models.EventResolved:
			inc.State = models.StateResolved
		case models.EventEscalated:
			inc.State = models.StateEscalatedOpen
		case models.EventAbandoned:
			inc.State = models.StateAbandoned
		default:
			return nil, fmt.Errorf("unknown event type %q at incident %s", ev.Type, ev.IncidentID)
		}
		if ev.State != "" {
			inc.State = ev.State
		}
	}
	return &inc, nil
}

// isConstraintViolation detects the primary key conflict that signals a lost
// optimistic lock race. modernc.org/sqlite surfaces SQLITE_CONSTRAINT as a
// formatted error rather than a typed one.
func isConstraintViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") ||
		strings.Contains(msg, "constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT")
}
