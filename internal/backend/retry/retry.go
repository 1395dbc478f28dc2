// Package retry wraps any Backend with exponential-backoff retries,
// adapted from restic's internal/backend/retry. The core imposes no
// timeouts of its own (spec §5); this is purely a policy decorator an
// operator can opt into.
package retry

import (
	"context"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/snapbox/snapbox/internal/backend"
	"github.com/snapbox/snapbox/internal/debug"
)

// Backend retries failed operations on the wrapped backend with an
// exponential backoff, up to MaxElapsedTime total.
type Backend struct {
	backend.Backend
	MaxElapsedTime time.Duration
	Report         func(msg string, err error, wait time.Duration)
}

var _ backend.Backend = (*Backend)(nil)

// New wraps be with retry logic. report, if non-nil, is called before each
// retry with a description of the failed operation.
func New(be backend.Backend, maxElapsedTime time.Duration, report func(string, error, time.Duration)) *Backend {
	return &Backend{Backend: be, MaxElapsedTime: maxElapsedTime, Report: report}
}

func (b *Backend) retry(ctx context.Context, msg string, op func() error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = b.MaxElapsedTime

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && b.Backend.IsNotExist(err) {
			// missing files will not appear by retrying
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		debug.Log("retrying %v after %v: %v", msg, d, err)
		if b.Report != nil {
			b.Report(msg, err, d)
		}
	})
}

// Save retries the wrapped Save.
func (b *Backend) Save(ctx context.Context, h backend.Handle, size int64, rd io.Reader, cacheable bool) error {
	// rd may only be consumed once per attempt; callers of Save on a
	// retrying backend must pass a reader that can be reset, such as one
	// backed by an in-memory buffer. The pack writer always does.
	type seeker interface {
		Seek(offset int64, whence int) (int64, error)
	}
	return b.retry(ctx, "save "+string(h.Type)+" "+h.Name, func() error {
		if s, ok := rd.(seeker); ok {
			if _, err := s.Seek(0, io.SeekStart); err != nil {
				return err
			}
		}
		return b.Backend.Save(ctx, h, size, rd, cacheable)
	})
}

// Load retries the wrapped Load.
func (b *Backend) Load(ctx context.Context, h backend.Handle) (data []byte, err error) {
	err = b.retry(ctx, "load "+string(h.Type)+" "+h.Name, func() error {
		var innerErr error
		data, innerErr = b.Backend.Load(ctx, h)
		return innerErr
	})
	return data, err
}

// LoadAt retries the wrapped LoadAt.
func (b *Backend) LoadAt(ctx context.Context, h backend.Handle, offset int64, length int, cacheable bool) (data []byte, err error) {
	err = b.retry(ctx, "load "+string(h.Type)+" "+h.Name, func() error {
		var innerErr error
		data, innerErr = b.Backend.LoadAt(ctx, h, offset, length, cacheable)
		return innerErr
	})
	return data, err
}

// Remove retries the wrapped Remove.
func (b *Backend) Remove(ctx context.Context, h backend.Handle, cacheable bool) error {
	return b.retry(ctx, "remove "+string(h.Type)+" "+h.Name, func() error {
		return b.Backend.Remove(ctx, h, cacheable)
	})
}
