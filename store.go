package itemdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.etcd.io/bbolt"
)

// Store is an open item store. Views are created from it; a store may be
// shared by any number of goroutines, each working through its own views.
type Store struct {
	storage storage
	mem     *memStorage
	schema  *Schema
	root    uuid.UUID
	logger  *slog.Logger
	verbose bool
	opts    Options
	metrics *metrics

	lock   chan struct{}
	heldMu sync.Mutex
	held   *Lock
	closed atomic.Bool
}

type Options struct {
	Logger    *slog.Logger
	Verbose   bool
	IsTesting bool
	MmapSize  int
	// InMemory keeps everything in B-trees in memory; the path is ignored.
	InMemory bool
	// DeadlockRetries bounds deadlock retries of one transaction; 0 means
	// no bound.
	DeadlockRetries int
	RetryBackoff    time.Duration
	// InstanceCacheSize bounds how many unloaded items a view keeps around
	// for reuse on reload.
	InstanceCacheSize int
	Registerer        prometheus.Registerer
	Schema            *Schema
	// Verify makes new views check assignments against the schema.
	Verify bool
}

func (opt Options) withDefaults() Options {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.RetryBackoff == 0 {
		opt.RetryBackoff = 5 * time.Millisecond
	}
	if opt.InstanceCacheSize <= 0 {
		opt.InstanceCacheSize = 1024
	}
	if opt.Schema == nil {
		opt.Schema = NewSchema()
	}
	return opt
}

// Open opens or creates the store at path.
func Open(path string, opt Options) (*Store, error) {
	opt = opt.withDefaults()
	s := &Store{
		schema:  opt.Schema,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		opts:    opt,
		metrics: newMetrics(opt.Registerer),
		lock:    make(chan struct{}, 1),
	}

	if opt.InMemory {
		s.mem = newMemStorage()
		s.storage = s.mem
	} else {
		bopt := &bbolt.Options{}
		*bopt = *bbolt.DefaultOptions
		bopt.Timeout = 10 * time.Second
		if opt.IsTesting {
			bopt.NoSync = true
			bopt.NoFreelistSync = true
			bopt.InitialMmapSize = 1024 * 1024 * 5
		} else {
			bopt.InitialMmapSize = 1024 * 1024 * 1024
			bopt.FreelistType = bbolt.FreelistMapType
		}
		if opt.MmapSize != 0 {
			bopt.InitialMmapSize = opt.MmapSize
		}
		bdb, err := bbolt.Open(path, 0666, bopt)
		if err != nil {
			return nil, fmt.Errorf("itemdb: %w", err)
		}
		s.storage = newBoltStorage(bdb)
	}

	err := s.withTx(context.Background(), true, "open", func(tx *storeTx) error {
		for _, name := range allBuckets {
			if tx.stx.Bucket(name) == nil {
				if _, err := tx.stx.CreateBucket(name); err != nil {
					return err
				}
			}
		}
		meta, err := loadMeta(tx)
		if err != nil {
			return err
		}
		if meta == nil {
			meta = &storeMeta{Root: uuid.New(), Format: formatVersion, Created: time.Now().UTC()}
			if err := saveMeta(tx, meta); err != nil {
				return err
			}
		} else if meta.Format != formatVersion {
			return fmt.Errorf("unsupported store format %d", meta.Format)
		}
		s.root = meta.Root
		return nil
	})
	if err != nil {
		s.storage.Close()
		return nil, fmt.Errorf("itemdb: opening %s: %w", path, err)
	}
	return s, nil
}

// Close releases the storage. A commit lock still held is released first.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.heldMu.Lock()
	if l := s.held; l != nil {
		s.logger.Warn("itemdb: releasing commit lock held at close")
		s.held = nil
		<-s.lock
	}
	s.heldMu.Unlock()
	if err := s.storage.Close(); err != nil {
		return fmt.Errorf("itemdb: closing: %w", err)
	}
	return nil
}

func (s *Store) Root() uuid.UUID      { return s.root }
func (s *Store) Schema() *Schema      { return s.schema }
func (s *Store) Logger() *slog.Logger { return s.logger }

// Version returns the latest committed version; 0 for a fresh store.
func (s *Store) Version() (uint32, error) {
	var version uint32
	err := s.withTx(context.Background(), false, "version", func(tx *storeTx) error {
		var err error
		version, err = currentVersion(tx, s.root)
		return err
	})
	return version, err
}

// NewView opens a view at the latest version.
func (s *Store) NewView(name string) (*View, error) {
	version, err := s.Version()
	if err != nil {
		return nil, err
	}
	return newView(s, name, version)
}

// ViewAt opens a view at an older version.
func (s *Store) ViewAt(name string, version uint32) (*View, error) {
	latest, err := s.Version()
	if err != nil {
		return nil, err
	}
	if version > latest {
		return nil, fmt.Errorf("itemdb: version %d is newer than the latest %d", version, latest)
	}
	return newView(s, name, version)
}

// Lock is the store's exclusive commit lock.
type Lock struct {
	store *Store
	once  sync.Once
}

func (s *Store) acquireLock(ctx context.Context) (*Lock, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("itemdb: store closed")
	}
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	l := &Lock{store: s}
	s.heldMu.Lock()
	s.held = l
	s.heldMu.Unlock()
	return l, nil
}

// Put releases the lock; extra calls do nothing.
func (l *Lock) Put() {
	l.once.Do(func() {
		s := l.store
		s.heldMu.Lock()
		defer s.heldMu.Unlock()
		if s.held == l {
			s.held = nil
			<-s.lock
		}
	})
}
