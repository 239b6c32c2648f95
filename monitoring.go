package refstore

import (
	"go.etcd.io/bbolt"
)

type StoreStats struct {
	Keys int

	DataSize  int
	DataAlloc int
	Depth     int

	Reads uint64
	Scans uint64
}

// Stats reports the page usage of the data bucket and the read counters.
func (s *Store) Stats() (StoreStats, error) {
	var result StoreStats
	err := s.bdb.View(func(btx *bbolt.Tx) error {
		bs := btx.Bucket(dataBucket).Stats()
		result.Keys = bs.KeyN
		result.DataSize = bs.LeafInuse + bs.BranchInuse
		result.DataAlloc = bs.BranchAlloc + bs.LeafAlloc
		result.Depth = bs.Depth
		return nil
	})
	if err != nil {
		return result, s.wrapErr(err)
	}
	result.Reads = s.ReadCount.Load()
	result.Scans = s.ScanCount.Load()
	return result, nil
}

// Utilization is the share of allocated pages actually used.
func (ss StoreStats) Utilization() float64 {
	if ss.DataAlloc == 0 {
		return 0
	}
	return float64(ss.DataSize) / float64(ss.DataAlloc)
}

type ManagerStats struct {
	Cached int

	Opens  uint64
	Closes uint64
	Hits   uint64

	Materialized    uint64
	MaterializeHits uint64
	Published       uint64
}

func (m *ConnectionManager) Stats() ManagerStats {
	m.mu.Lock()
	cached := len(m.cache)
	m.mu.Unlock()
	return ManagerStats{
		Cached:          cached,
		Opens:           m.OpenCount.Load(),
		Closes:          m.CloseCount.Load(),
		Hits:            m.HitCount.Load(),
		Materialized:    m.dist.MaterializeCount.Load(),
		MaterializeHits: m.dist.MaterializeHits.Load(),
		Published:       m.dist.PublishCount.Load(),
	}
}
