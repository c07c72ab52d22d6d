package feed

import (
	"sync/atomic"
	"time"
)

// Snapshot is an immutable, fully loaded set of records. It is shared by
// reference between concurrent matchers and must not be modified.
type Snapshot struct {
	Records  []CVERecord
	Sources  []string
	LoadedAt time.Time
}

// Corpus holds the current snapshot. Swapping in a refreshed snapshot does not
// affect matches already running against the previous one.
type Corpus struct {
	current atomic.Pointer[Snapshot]
}

// NewCorpus creates a Corpus holding s, or an empty snapshot when s is nil.
func NewCorpus(s *Snapshot) *Corpus {
	c := &Corpus{}
	if s == nil {
		s = &Snapshot{}
	}
	c.current.Store(s)
	return c
}

// Load returns the current snapshot. It is never nil.
func (c *Corpus) Load() *Snapshot {
	return c.current.Load()
}

// Swap installs s and returns the snapshot it replaced. A nil s is ignored.
func (c *Corpus) Swap(s *Snapshot) *Snapshot {
	if s == nil {
		return c.current.Load()
	}
	return c.current.Swap(s)
}
