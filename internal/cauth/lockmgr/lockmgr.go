// Package lockmgr acquires a sorted, deduped set of cross-process
// exclusive file locks, with audit events for wait/acquire/release — the
// mechanism that serializes concurrent cauth processes refreshing the
// same credential file or sharing a refresh token.
package lockmgr

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/scrypt"
)

const (
	stampFileName = "integrity.stamp"
	scryptN       = 1 << 15
	scryptR       = 8
	scryptP       = 1
	scryptKeyLen  = 32
	saltLen       = 16
)

// EventSink receives the lock manager's audit events. Implementations
// typically forward to refreshlog.Writer.Event.
type EventSink interface {
	Event(event string, fields map[string]string)
}

// Manager acquires locks rooted at a locks directory.
type Manager struct {
	dir        string
	sink       EventSink
	passphrase string
}

// New returns a Manager whose lock files live under dir.
func New(dir string, sink EventSink) *Manager {
	return &Manager{dir: dir, sink: sink}
}

// WithIntegrityStamp enables the optional lock-directory integrity check:
// on the first Acquire, a scrypt-derived stamp keyed by passphrase is
// written alongside the lock files; on every later Acquire the stamp must
// verify, catching a locks directory that was seeded (e.g. synced from a
// different host's home directory) under a different passphrase. Off by
// default — an empty passphrase disables the check entirely, since most
// installs never share a locks directory across keyrings.
func (m *Manager) WithIntegrityStamp(passphrase string) *Manager {
	m.passphrase = passphrase
	return m
}

// checkIntegrityStamp verifies (or, on first run, creates) the lock
// directory's integrity stamp. A no-op when no passphrase was configured.
func (m *Manager) checkIntegrityStamp() error {
	if m.passphrase == "" {
		return nil
	}

	path := filepath.Join(m.dir, stampFileName)
	existing, found, err := readStamp(path)
	if err != nil {
		return fmt.Errorf("read lock integrity stamp: %w", err)
	}
	if !found {
		stamp, err := newStamp(m.passphrase)
		if err != nil {
			return fmt.Errorf("derive lock integrity stamp: %w", err)
		}
		if err := os.WriteFile(path, stamp, 0600); err != nil {
			return fmt.Errorf("write lock integrity stamp: %w", err)
		}
		return nil
	}

	ok, err := verifyStamp(existing, m.passphrase)
	if err != nil {
		return fmt.Errorf("verify lock integrity stamp: %w", err)
	}
	if !ok {
		return fmt.Errorf("lock directory %s was stamped under a different passphrase: refusing to share locks across keyrings", m.dir)
	}
	return nil
}

// newStamp derives a fresh salt + scrypt key for passphrase, laid out as
// salt || key.
func newStamp(passphrase string) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, err
	}
	return append(salt, key...), nil
}

// verifyStamp recomputes the scrypt key for passphrase using stamp's
// embedded salt and compares it in constant time against stamp's key.
func verifyStamp(stamp []byte, passphrase string) (bool, error) {
	if len(stamp) != saltLen+scryptKeyLen {
		return false, fmt.Errorf("malformed stamp: %d bytes", len(stamp))
	}
	salt, want := stamp[:saltLen], stamp[saltLen:]
	got, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func readStamp(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// KeyPath returns the lock file path for a raw lock key: the key is
// hashed so arbitrary strings (file paths, "claude-refresh-token:<fp>")
// become safe, fixed-length filenames.
func (m *Manager) KeyPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	hash := hex.EncodeToString(sum[:])[:24]
	return filepath.Join(m.dir, fmt.Sprintf("usage-refresh-%s.lock", hash))
}

// Held represents an acquired set of locks, released together in reverse
// acquisition order.
type Held struct {
	locks []*flock.Flock
	sink  EventSink
}

// Acquire sorts and deduplicates keys, then acquires each corresponding
// lock file in order (blocking, no timeout). On any failure, locks already
// held are released before the error is returned.
func (m *Manager) Acquire(keys []string) (*Held, error) {
	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return nil, fmt.Errorf("create locks dir: %w", err)
	}
	if err := m.checkIntegrityStamp(); err != nil {
		return nil, err
	}

	sorted := dedupeSorted(keys)

	held := &Held{sink: m.sink}
	for _, key := range sorted {
		path := m.KeyPath(key)
		m.emit("refresh_lock_wait", key, path, "")

		fl := flock.New(path)
		if err := fl.Lock(); err != nil {
			m.emit("refresh_lock_released", key, path, "error")
			held.Release()
			return nil, fmt.Errorf("acquire lock %s: %w", path, err)
		}
		if err := os.Chmod(path, 0600); err != nil {
			fl.Unlock()
			held.Release()
			return nil, fmt.Errorf("chmod lock %s: %w", path, err)
		}

		held.locks = append(held.locks, fl)
		m.emit("refresh_lock_acquired", key, path, "")
	}

	return held, nil
}

func (m *Manager) emit(event, key, path, result string) {
	if m.sink == nil {
		return
	}
	fields := map[string]string{"lock_key": key, "lock_path": path}
	if result != "" {
		fields["result"] = result
	}
	m.sink.Event(event, fields)
}

// Release unlocks every held lock in reverse acquisition order. Errors are
// swallowed per-lock; release always attempts every lock.
func (h *Held) Release() {
	for i := len(h.locks) - 1; i >= 0; i-- {
		path := h.locks[i].Path()
		err := h.locks[i].Unlock()
		result := "success"
		if err != nil {
			result = "error"
		}
		if h.sink != nil {
			h.sink.Event("refresh_lock_released", map[string]string{"lock_path": path, "result": result})
		}
	}
	h.locks = nil
}

func dedupeSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
