// Package refreshlog writes the append-only JSON-lines audit trail at
// <home>/.agent-island/logs/usage-refresh.log, rotating it by size.
//
// Rotation here is intentionally hand-rolled rather than routed through a
// general-purpose rotating writer: spec.md §9's Open Question preserves an
// exact, unconditional rename to "usage-refresh.log.1" with no
// multi-generation retention, a naming contract no timestamp-suffixed
// rotation scheme can reproduce.
package refreshlog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// MaxSizeBytes is the rotation threshold: 5 MiB.
const MaxSizeBytes = 5 * 1024 * 1024

// Writer appends structured records to a rotating log file.
type Writer struct {
	path string
}

// New returns a Writer targeting path.
func New(path string) *Writer {
	return &Writer{path: path}
}

// Event appends one record with the given event name and fields. Fields
// whose value is empty or all-whitespace are dropped before serialization.
// Any failure is swallowed — logging must never fail the caller's
// operation.
func (w *Writer) Event(event string, fields map[string]string) {
	record := make(map[string]string, len(fields)+2)
	record["timestamp"] = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	record["event"] = event
	for k, v := range fields {
		if isBlank(v) {
			continue
		}
		record[k] = v
	}

	line, err := marshalSorted(record)
	if err != nil {
		return
	}
	line = append(line, '\n')

	w.rotateIfNeeded()

	if err := os.MkdirAll(filepath.Dir(w.path), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(line)
	_ = os.Chmod(w.path, 0600)
}

func (w *Writer) rotateIfNeeded() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	if info.Size() <= MaxSizeBytes {
		return
	}
	backup := w.path + ".1"
	_ = os.Remove(backup)
	_ = os.Rename(w.path, backup)
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}

// marshalSorted serializes record with keys in sorted order so log lines
// are deterministic and diffable across runs.
func marshalSorted(record map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]struct {
		Key   string
		Value string
	}, len(keys))
	for i, k := range keys {
		ordered[i] = struct {
			Key   string
			Value string
		}{k, record[k]}
	}

	buf := []byte{'{'}
	for i, kv := range ordered {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
