package itemdb

import (
	"context"
)

type ContainerStats struct {
	Name  string
	Rows  int
	Size  int64
	Alloc int64
}

type Stats struct {
	Version    uint32
	Containers []ContainerStats
}

func (st *Stats) TotalSize() int64 {
	var n int64
	for _, c := range st.Containers {
		n += c.Size
	}
	return n
}

func (st *Stats) TotalAlloc() int64 {
	var n int64
	for _, c := range st.Containers {
		n += c.Alloc
	}
	return n
}

func (st *Stats) Container(name string) ContainerStats {
	for _, c := range st.Containers {
		if c.Name == name {
			return c
		}
	}
	return ContainerStats{Name: name}
}

// Stats reports the row counts and sizes of every container.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := new(Stats)
	err := s.withTx(ctx, false, "stats", func(tx *storeTx) error {
		var err error
		st.Version, err = currentVersion(tx, s.root)
		if err != nil {
			return err
		}
		st.Containers = st.Containers[:0]
		for _, name := range allBuckets {
			bs := tx.bucket(name).Stats()
			st.Containers = append(st.Containers, ContainerStats{
				Name:  name,
				Rows:  bs.KeyN,
				Size:  bs.LeafInuse,
				Alloc: bs.TotalAlloc(),
			})
		}
		return nil
	})
	return st, err
}
