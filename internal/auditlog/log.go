package auditlog

// Log is a fixed-capacity FIFO of sealed audit entries. Appending beyond
// capacity evicts the oldest entry, trading long-run completeness for
// constant memory per session.
//
// Log is not safe for concurrent use; the owning session manager serializes
// access.
type Log struct {
	capacity int
	entries  [][]byte
	evicted  uint64
}

func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = 1
	}
	return &Log{capacity: capacity}
}

// Append adds a sealed entry, evicting the oldest if the log is full.
func (l *Log) Append(entry []byte) {
	if len(l.entries) >= l.capacity {
		drop := len(l.entries) - l.capacity + 1
		l.entries = append(l.entries[:0], l.entries[drop:]...)
		l.evicted += uint64(drop)
	}
	l.entries = append(l.entries, entry)
}

func (l *Log) Len() int { return len(l.entries) }

// Evicted reports how many entries have been dropped to the capacity bound.
func (l *Log) Evicted() uint64 { return l.evicted }

// Entries returns the retained entries, oldest first. The caller owns the
// returned slice.
func (l *Log) Entries() [][]byte {
	out := make([][]byte, len(l.entries))
	copy(out, l.entries)
	return out
}
