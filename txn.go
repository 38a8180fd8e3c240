package itemdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// storeTx is one storage transaction plus the per-transaction cursor cache.
// A storeTx belongs to the goroutine that started it; containers never
// share a live cursor between transactions.
type storeTx struct {
	store   *Store
	stx     storageTx
	buckets map[string]storageBucket
	cursors map[string]storageCursor
	written int
	started time.Time
}

func (s *Store) beginTx(writable bool) (*storeTx, error) {
	stx, err := s.storage.BeginTx(writable)
	if err != nil {
		return nil, err
	}
	return &storeTx{
		store:   s,
		stx:     stx,
		buckets: make(map[string]storageBucket, 8),
		started: time.Now(),
	}, nil
}

func (tx *storeTx) bucket(name string) storageBucket {
	if b := tx.buckets[name]; b != nil {
		return b
	}
	b := tx.stx.Bucket(name)
	if b == nil {
		panic(fmt.Errorf("itemdb: missing bucket %q", name))
	}
	tx.buckets[name] = b
	return b
}

// cursor returns this transaction's cursor over the bucket, opening it on
// first use.
func (tx *storeTx) cursor(name string) (storageCursor, error) {
	if c := tx.cursors[name]; c != nil {
		return c, nil
	}
	c, err := tx.bucket(name).Cursor()
	if err != nil {
		return nil, err
	}
	if tx.cursors == nil {
		tx.cursors = make(map[string]storageCursor, 4)
	}
	tx.cursors[name] = c
	return c, nil
}

func (tx *storeTx) get(name string, key []byte) ([]byte, error) {
	return tx.bucket(name).Get(key)
}

func (tx *storeTx) put(name string, key, value []byte) error {
	tx.written += len(key) + len(value)
	return tx.bucket(name).Put(key, value)
}

func (tx *storeTx) close() {
	tx.cursors = nil
	tx.buckets = nil
	err := tx.stx.Rollback()
	if err != nil {
		panic(err)
	}
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*storeTx) error, tx *storeTx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok && errors.Is(e, ErrDeadlock) {
				err = e
				return
			}
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

// withTx runs fn inside a transaction started by this call. A deadlock
// reported while the transaction is running restarts fn from scratch in a
// fresh transaction, with exponential backoff, up to Options.DeadlockRetries
// times. Any other error, including a deadlock raised while starting the
// transaction, is returned as is.
func (s *Store) withTx(ctx context.Context, writable bool, op string, fn func(tx *storeTx) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		tx, err := s.beginTx(writable)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer tx.close()

		err = safelyCall(fn, tx)
		if err == nil && writable {
			err = tx.stx.Commit()
		}
		if err != nil {
			if errors.Is(err, ErrDeadlock) {
				return err
			}
			return backoff.Permanent(err)
		}
		if s.verbose && attempt > 1 {
			s.logger.Debug("db: tx succeeded after retry", slog.String("op", op), slog.Int("attempts", attempt))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.deadlocks.Inc()
		s.logger.LogAttrs(ctx, slog.LevelInfo, "retrying "+op+" aborted by deadlock", slog.Int("attempt", attempt), slog.Duration("wait", wait))
	}
	return backoff.RetryNotify(operation, s.newBackOff(ctx), notify)
}

func (s *Store) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.opts.RetryBackoff
	eb.MaxInterval = 64 * s.opts.RetryBackoff
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if s.opts.DeadlockRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(s.opts.DeadlockRetries))
	}
	return backoff.WithContext(b, ctx)
}
