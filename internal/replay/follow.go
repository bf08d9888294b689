package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/praxislabs/agentd/internal/trajectory"
)

// followDebounce lets a burst of writes settle before re-reading.
const followDebounce = 100 * time.Millisecond

// Follow renders records as the trajectory file grows, returning once the
// footer record arrives or ctx is cancelled.
func (r *Renderer) Follow(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch file: %w", err)
	}

	var offset int64
	var seen []trajectory.Record

	done, err := r.renderNew(path, &offset, &seen)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			time.Sleep(followDebounce)
			done, err := r.renderNew(path, &offset, &seen)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// Keep watching.
		}
	}
}

// renderNew reads and renders records appended since the last offset. Only
// newline-terminated lines are consumed; a partially written final line waits
// for the next event. Returns true once the footer has been rendered.
func (r *Renderer) renderNew(path string, offset *int64, seen *[]trajectory.Record) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	if _, err := f.Seek(*offset, io.SeekStart); err != nil {
		return false, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return false, err
	}

	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(data[:idx]))
		data = data[idx+1:]
		*offset += int64(idx) + 1
		if line == "" {
			continue
		}

		var record trajectory.Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return false, fmt.Errorf("failed to parse trajectory record: %w", err)
		}
		if err := r.RenderRecord(record); err != nil {
			return false, err
		}
		*seen = append(*seen, record)

		if record.RecordType == trajectory.RecordTypeFooter {
			if stats := collectStats(*seen); stats != nil {
				r.renderStats(stats)
			}
			return true, nil
		}
	}
	return false, nil
}
