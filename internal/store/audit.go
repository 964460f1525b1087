package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pentra-dev/pentra/internal/redact"
)

// AuditLogger appends redacted JSONL records to the run's logs directory.
// The log is append-only: it is never truncated or rewritten.
type AuditLogger struct {
	path string
	mu   sync.Mutex
}

// NewAuditLogger creates an audit logger writing to <logsDir>/audit.jsonl.
func NewAuditLogger(logsDir string) (*AuditLogger, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	return &AuditLogger{path: filepath.Join(logsDir, "audit.jsonl")}, nil
}

// Append writes one event with a UTC timestamp. Secret-looking keys and
// values are redacted before anything reaches disk. Audit failures are
// logged but never fail the operation being audited.
func (a *AuditLogger) Append(event map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()

	payload := make(map[string]any, len(event)+1)
	for k, v := range redact.Value(event).(map[string]any) {
		payload[k] = v
	}
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[store] audit marshal failed: %v", err)
		return
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[store] audit append failed: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(raw, '\n')); err != nil {
		log.Printf("[store] audit write failed: %v", err)
	}
}

// Path returns the audit log file path.
func (a *AuditLogger) Path() string {
	return a.path
}
