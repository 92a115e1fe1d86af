package ingest

import (
	"hash/fnv"
	"sync"
)

// lockStripeSize is the number of stripes; writes to distinct doc_ids
// rarely contend at this width.
const lockStripeSize = 64

// lockStripe serializes concurrent writes to the same doc_id. The
// backend does not serialize them, and without this two racing writes
// can briefly leave two active records.
type lockStripe struct {
	stripes [lockStripeSize]sync.Mutex
}

// Lock acquires the stripe owning key and returns its unlock func.
func (l *lockStripe) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	m := &l.stripes[h.Sum32()%lockStripeSize]
	m.Lock()
	return m.Unlock
}
