// Retries for transient SQLite errors.
//
// Every village process on the machine writes to the same WAL-mode journal,
// so concurrent sessions regularly collide. busy_timeout absorbs SQLITE_BUSY
// at the connection level, but SQLITE_LOCKED and IOERR_SHORT_READ (522)
// surface straight to the caller. retryOp wraps journal operations with
// exponential backoff and jitter so those collisions do not drop entries.

package journal

import (
	"math/rand"
	"strings"
	"time"
)

// retryConfig controls retry behavior for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransientSQLiteErr reports whether err is a lock or WAL contention
// error that can succeed on retry. Several village processes on one
// machine share the journal, so SQLITE_BUSY past busy_timeout does happen.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp runs fn, retrying transient errors with exponential backoff and
// jitter. Other errors return immediately.
func retryOp(cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			sleep(backoffDelay(cfg, attempt))
		}
	}
	return lastErr
}

// sleep is swapped out in tests.
var sleep = time.Sleep

// backoffDelay is baseDelay * 2^attempt, capped at maxDelay, plus jitter
// in [0, baseDelay).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	if cfg.baseDelay <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(cfg.baseDelay)))
}
