package heap

import "time"

// Stats accumulates the counters the OME_GC_STATS block in
// OME_thread_main prints at process exit: collection count and the
// mark/compact time split. Recording is always-on (unlike OME_GC_STATS,
// which compiles the counters out entirely) because time.Since is cheap
// enough in Go that there is no reason to make callers recompile to get
// numbers back; Context.Stats() is the accessor a hosting interpreter
// polls instead.
type Stats struct {
	Collections  uint64
	FullCollections uint64
	MarkTime     time.Duration
	CompactTime  time.Duration
}

func (s *Stats) recordMark(d time.Duration)    { s.MarkTime += d }
func (s *Stats) recordCompact(d time.Duration) { s.CompactTime += d }
