// Package trajectory persists per-execution step logs as JSONL files.
// Each file is header record, one record per step, footer record.
package trajectory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/praxislabs/agentd/internal/agent"
)

// JSONL record types.
const (
	RecordTypeHeader = "header" // Execution metadata (first line)
	RecordTypeStep   = "step"   // One state-machine step
	RecordTypeFooter = "footer" // Final outcome (last line)
)

// Record is one JSONL line with type discrimination.
type Record struct {
	RecordType string    `json:"_type"` // header, step, footer
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`

	// Header fields
	ExecutionID string `json:"execution_id,omitempty"`
	Task        string `json:"task,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`

	// Step fields
	Step *agent.Step `json:"step,omitempty"`

	// Footer fields
	Success *bool  `json:"success,omitempty"`
	Result  string `json:"result,omitempty"`
}

// Writer streams one execution's records to disk. All methods are safe for
// concurrent use; callers treat write failures as best-effort.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	seq    uint64
	closed bool
	path   string
}

// NewWriter creates the trajectory file and writes the header record.
func NewWriter(path, executionID, task, provider, model string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trajectory directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trajectory file: %w", err)
	}

	w := &Writer{file: f, buf: bufio.NewWriter(f), path: path}
	err = w.writeRecord(Record{
		RecordType:  RecordTypeHeader,
		ExecutionID: executionID,
		Task:        task,
		Provider:    provider,
		Model:       model,
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Path returns the trajectory file location.
func (w *Writer) Path() string {
	return w.path
}

// RecordStep appends one step record.
func (w *Writer) RecordStep(step *agent.Step) error {
	return w.writeRecord(Record{
		RecordType: RecordTypeStep,
		Step:       step,
	})
}

// Finalize appends the footer record and closes the file.
func (w *Writer) Finalize(success bool, result string) error {
	err := w.writeRecord(Record{
		RecordType: RecordTypeFooter,
		Success:    &success,
		Result:     result,
	})

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return err
	}
	w.closed = true
	if flushErr := w.buf.Flush(); err == nil {
		err = flushErr
	}
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func (w *Writer) writeRecord(record Record) error {
	record.Seq = atomic.AddUint64(&w.seq, 1)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("trajectory writer closed")
	}
	if _, err := w.buf.Write(data); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	// Flush per record so live followers see steps as they happen.
	return w.buf.Flush()
}

// Load reads every record from a trajectory file.
func Load(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trajectory file: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, fmt.Errorf("failed to parse trajectory record: %w", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Store creates trajectory writers under a base directory, one file per
// execution.
type Store struct {
	base string
}

// NewStore creates a store rooted at base.
func NewStore(base string) *Store {
	return &Store{base: base}
}

// Create opens a writer for the given execution.
func (s *Store) Create(executionID, task, provider, model string) (*Writer, error) {
	return NewWriter(s.PathFor(executionID), executionID, task, provider, model)
}

// PathFor returns the trajectory file path for an execution.
func (s *Store) PathFor(executionID string) string {
	return filepath.Join(s.base, executionID+".jsonl")
}
