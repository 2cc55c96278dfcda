// Package traceid generates per-attempt trace identifiers for the refresh
// orchestrator's log records and printed output.
package traceid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

var counter uint64

// New returns SHA-256("<nanos>:<pid>:<monotonic counter>")[:16], seeded
// from wall-clock nanoseconds, the process id, and a per-process counter
// so concurrent processes don't collide.
func New() string {
	n := atomic.AddUint64(&counter, 1)
	seed := fmt.Sprintf("%d:%d:%d", time.Now().UnixNano(), os.Getpid(), n)
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:16]
}
