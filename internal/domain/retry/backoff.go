// Package retry provides the exponential-backoff helper used by the
// quarantine store's directory/permission retries and its .bin deletion
// schedule.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"syscall"
	"time"
)

// Policy describes an exponential backoff schedule with jitter.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration
	// Multiplier scales the delay after each attempt (e.g. 2.0).
	Multiplier float64
	// Max caps the delay regardless of how many attempts have elapsed.
	Max time.Duration
	// Jitter is the fraction (0..1) of the computed delay randomized away,
	// to avoid thundering-herd retries across processes.
	Jitter float64
	// MaxAttempts bounds the number of attempts (including the first).
	MaxAttempts int
}

// DefaultQuarantinePolicy is the schedule wrapping quarantine directory
// creation and permission setting: 200ms initial, 2x multiplier, 5s cap,
// 10% jitter, 3 attempts.
func DefaultQuarantinePolicy() Policy {
	return Policy{
		Initial:     200 * time.Millisecond,
		Multiplier:  2,
		Max:         5 * time.Second,
		Jitter:      0.10,
		MaxAttempts: 3,
	}
}

// DeleteBackoffPolicy matches the orphan-cleanup / .bin-deletion retry
// discipline: the first try plus three retries after 100/200/400ms
// (4 attempts), no jitter.
func DeleteBackoffPolicy() Policy {
	return Policy{
		Initial:     100 * time.Millisecond,
		Multiplier:  2,
		Max:         400 * time.Millisecond,
		Jitter:      0,
		MaxAttempts: 4,
	}
}

// Delay returns the backoff delay before attempt n (0-indexed: attempt 0 is
// the delay before the second try, since the first try has no delay).
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.Initial)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
	}
	if max := float64(p.Max); d > max {
		d = max
	}
	if p.Jitter > 0 {
		jitterRange := d * p.Jitter
		d += (rand.Float64()*2 - 1) * jitterRange
		if d < 0 {
			d = 0
		}
	}
	return time.Duration(d)
}

// Do runs fn up to MaxAttempts times, sleeping the computed backoff between
// attempts, retrying only while IsTransient(err) is true. It returns the
// last error encountered (transient or not) if all attempts fail, or nil on
// the first success. Respects ctx cancellation between attempts.
func Do(ctx context.Context, p Policy, fn func() error) error {
	var lastErr error
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Delay(attempt - 1)):
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return lastErr
		}
	}
	return lastErr
}

// transientErrnos are recognised as retryable.
var transientErrnos = map[syscall.Errno]bool{
	syscall.EAGAIN: true,
	syscall.EBUSY:  true,
	syscall.EINTR:  true,
	syscall.ETXTBSY: true,
}

// permanentErrnos are recognised as non-retryable.
var permanentErrnos = map[syscall.Errno]bool{
	syscall.ENOENT: true,
	syscall.EACCES: true,
	syscall.ENOSPC: true,
	syscall.EROFS:  true,
}

// IsTransient reports whether err should be retried. Network errors
// (ECONNREFUSED, ETIMEDOUT) are also treated as transient, for the
// signature-engine socket path.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if transientErrnos[errno] {
			return true
		}
		if permanentErrnos[errno] {
			return false
		}
		return errno == syscall.ECONNREFUSED || errno == syscall.ETIMEDOUT
	}
	// Unknown error types (e.g. wrapped os.PathError without a syscall
	// cause) are treated as non-transient: retrying blindly risks masking
	// a permanent condition such as a missing directory.
	return false
}

// IsPermanent reports whether err is a recognised permanent errno.
func IsPermanent(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return permanentErrnos[errno]
	}
	return false
}
