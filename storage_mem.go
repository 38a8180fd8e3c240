package itemdb

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

const memBTreeDegree = 16

type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*btree.BTreeG[memKV]
	closed  bool
	writer  bool

	deadlocks      atomic.Int64
	beginDeadlocks atomic.Int64
}

// newMemStorage returns a transient in-memory storage. Transactions work on
// copy-on-write clones of the trees, so readers never block the writer.
func newMemStorage() *memStorage {
	s := &memStorage{buckets: make(map[string]*btree.BTreeG[memKV])}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// injectDeadlocks makes the next n Get or Cursor calls, in any transaction,
// fail with ErrDeadlock.
func (s *memStorage) injectDeadlocks(n int) {
	s.deadlocks.Store(int64(n))
}

// injectBeginDeadlocks makes the next n BeginTx calls fail with ErrDeadlock
// before any transaction exists.
func (s *memStorage) injectBeginDeadlocks(n int) {
	s.beginDeadlocks.Store(int64(n))
}

func (s *memStorage) takeDeadlock() error {
	return takeInjected(&s.deadlocks)
}

func takeInjected(counter *atomic.Int64) error {
	for {
		n := counter.Load()
		if n <= 0 {
			return nil
		}
		if counter.CompareAndSwap(n, n-1) {
			return ErrDeadlock
		}
	}
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	if err := takeInjected(&s.beginDeadlocks); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("storage closed")
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, fmt.Errorf("storage closed")
		}
		s.writer = true
	}

	snap := make(map[string]*btree.BTreeG[memKV], len(s.buckets))
	for k, t := range s.buckets {
		snap[k] = t.Clone()
	}
	return &memTx{
		writable: writable,
		base:     s,
		buckets:  snap,
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*btree.BTreeG[memKV]
	closed   bool
}

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	t := tx.buckets[name]
	if t == nil {
		return nil
	}
	return memBucket{tx: tx, t: t}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	t := tx.buckets[name]
	if t == nil {
		t = btree.NewG(memBTreeDegree, memLess)
		tx.buckets[name] = t
	}
	return memBucket{tx: tx, t: t}, nil
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return fmt.Errorf("storage closed")
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memKV struct {
	key   []byte
	value []byte
}

func memLess(a, b memKV) bool {
	return bytes.Compare(a.key, b.key) < 0
}

type memBucket struct {
	tx *memTx
	t  *btree.BTreeG[memKV]
}

func (b memBucket) Get(key []byte) ([]byte, error) {
	if err := b.tx.base.takeDeadlock(); err != nil {
		return nil, err
	}
	kv, ok := b.t.Get(memKV{key: key})
	if !ok {
		return nil, nil
	}
	return kv.value, nil
}

func (b memBucket) Put(key, value []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.t.ReplaceOrInsert(memKV{key: slices.Clone(key), value: slices.Clone(value)})
	return nil
}

func (b memBucket) Delete(key []byte) error {
	if !b.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b.t.Delete(memKV{key: key})
	return nil
}

func (b memBucket) Cursor() (storageCursor, error) {
	if err := b.tx.base.takeDeadlock(); err != nil {
		return nil, err
	}
	return &memCursor{b: b}, nil
}

func (b memBucket) Stats() bucketStats {
	var inuse int64
	b.t.Ascend(func(kv memKV) bool {
		inuse += int64(len(kv.key) + len(kv.value))
		return true
	})
	return bucketStats{
		KeyN:      b.t.Len(),
		LeafInuse: inuse,
		LeafAlloc: inuse,
	}
}

// memCursor remembers the current key and re-descends the tree on every
// move, which keeps it valid across Put and Delete.
type memCursor struct {
	b   memBucket
	cur *memKV
}

func (c *memCursor) at(kv memKV, ok bool) ([]byte, []byte) {
	if !ok {
		c.cur = nil
		return nil, nil
	}
	c.cur = &kv
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	return c.at(c.b.t.Min())
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	var found memKV
	var ok bool
	c.b.t.AscendGreaterOrEqual(memKV{key: seek}, func(kv memKV) bool {
		found, ok = kv, true
		return false
	})
	return c.at(found, ok)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.cur == nil {
		return nil, nil
	}
	key := c.cur.key
	var found memKV
	var ok bool
	c.b.t.AscendGreaterOrEqual(memKV{key: key}, func(kv memKV) bool {
		if bytes.Equal(kv.key, key) {
			return true
		}
		found, ok = kv, true
		return false
	})
	return c.at(found, ok)
}
