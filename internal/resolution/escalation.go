package resolution

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/moolen/quorum/internal/models"
)

// EscalationRecord is one JSONL line in the escalation log: everything a
// human responder needs to pick up an incident the engine handed off.
type EscalationRecord struct {
	Timestamp  time.Time                 `json:"timestamp"`
	IncidentID string                    `json:"incident_id"`
	Category   models.Category           `json:"category"`
	Severity   string                    `json:"severity"`
	Round      int                       `json:"round"`
	Reason     string                    `json:"reason"`
	Detail     string                    `json:"detail,omitempty"`
	Decision   *models.ConsensusDecision `json:"decision,omitempty"`
	Findings   []models.Finding          `json:"findings,omitempty"`
}

// EscalationLog appends escalation records to a JSONL file. Writes are
// flushed immediately so the log survives a crash mid-incident.
type EscalationLog struct {
	file   *os.File
	writer *bufio.Writer
	mutex  sync.Mutex
}

// NewEscalationLog opens (or creates) the escalation log at the given path.
func NewEscalationLog(path string) (*EscalationLog, error) {
	// #nosec G304 -- escalation log path is operator configuration
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open escalation log: %w", err)
	}
	return &EscalationLog{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

// Record appends one escalation record.
func (l *EscalationLog) Record(rec EscalationRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal escalation record: %w", err)
	}
	if _, err := l.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write escalation record: %w", err)
	}
	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return l.writer.Flush()
}

// Close flushes and closes the log file.
func (l *EscalationLog) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if err := l.writer.Flush(); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to flush escalation log: %w", err)
	}
	return l.file.Close()
}
