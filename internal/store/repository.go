package store

import (
	"sort"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// Repository is the in-memory item table, a partition-key -> item-list map
// guarded by one mutex. Every read and mutation goes through it; the
// configured Driver only sees whole-document loads and saves.
type Repository struct {
	mu    sync.Mutex
	items map[string][]Item

	drv Driver
	log logx.Logger

	now func() time.Time
}

func NewRepository(drv Driver, log logx.Logger) *Repository {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Repository{
		items: map[string][]Item{},
		drv:   drv,
		log:   log,
		now:   time.Now,
	}
}

// Load restores the persisted document and sweeps expired one-shots.
func (r *Repository) Load() error {
	doc, err := r.drv.Load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = doc
	if r.items == nil {
		r.items = map[string][]Item{}
	}
	r.pruneLocked()
	return nil
}

// Save sweeps expired one-shots and empty partitions, then persists the
// whole document.
func (r *Repository) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return r.drv.Save(r.items)
}

// pruneLocked drops one-shot items whose time already passed and removes
// partitions left empty.
func (r *Repository) pruneLocked() {
	now := r.now()
	for key, items := range r.items {
		kept := items[:0]
		for _, it := range items {
			if it.Expired(now) {
				r.log.Debug("pruning expired item",
					logx.String("partition", key), logx.String("at", it.At))
				continue
			}
			kept = append(kept, it)
		}
		if len(kept) == 0 {
			delete(r.items, key)
			continue
		}
		r.items[key] = kept
	}
}

// Partitions returns the current partition keys, sorted.
func (r *Repository) Partitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.items))
	for k := range r.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// List returns a copy of a partition's items in insertion order.
func (r *Repository) List(partition string) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[partition]
	out := make([]Item, len(items))
	copy(out, items)
	return out
}

// Snapshot deep-copies the whole document, for scheduler rebuilds.
func (r *Repository) Snapshot() map[string][]Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc := make(map[string][]Item, len(r.items))
	for k, items := range r.items {
		cp := make([]Item, len(items))
		copy(cp, items)
		doc[k] = cp
	}
	return doc
}

// Append adds an item and returns its index within the partition.
func (r *Repository) Append(partition string, it Item) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[partition] = append(r.items[partition], it)
	return len(r.items[partition]) - 1
}

// AppendIfUnder adds an item only while the current count is below max,
// counting the partition alone or the whole table. Check and append share
// the lock, so concurrent appends cannot overshoot the cap. max <= 0
// disables the cap. Returns the new index and whether the item was added.
func (r *Repository) AppendIfUnder(partition string, it Item, max int, perPartition bool) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if max > 0 {
		n := len(r.items[partition])
		if !perPartition {
			n = 0
			for _, items := range r.items {
				n += len(items)
			}
		}
		if n >= max {
			return 0, false
		}
	}
	r.items[partition] = append(r.items[partition], it)
	return len(r.items[partition]) - 1, true
}

// Get returns the item at an index.
func (r *Repository) Get(partition string, idx int) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[partition]
	if idx < 0 || idx >= len(items) {
		return Item{}, ErrNotFound
	}
	return items[idx], nil
}

// RemoveAt deletes and returns the item at an index. The partition is
// dropped when it becomes empty.
func (r *Repository) RemoveAt(partition string, idx int) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[partition]
	if idx < 0 || idx >= len(items) {
		return Item{}, ErrNotFound
	}
	it := items[idx]
	items = append(items[:idx], items[idx+1:]...)
	if len(items) == 0 {
		delete(r.items, partition)
	} else {
		r.items[partition] = items
	}
	return it, nil
}

// RemoveWhere deletes every item in the partition matching the predicate
// and returns the removed items.
func (r *Repository) RemoveWhere(partition string, match func(Item) bool) []Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[partition]
	var removed []Item
	kept := items[:0]
	for _, it := range items {
		if match(it) {
			removed = append(removed, it)
			continue
		}
		kept = append(kept, it)
	}
	if len(removed) == 0 {
		return nil
	}
	if len(kept) == 0 {
		delete(r.items, partition)
	} else {
		r.items[partition] = kept
	}
	return removed
}

// SetJobID links the item at an index to its scheduler job.
func (r *Repository) SetJobID(partition string, idx int, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[partition]
	if idx < 0 || idx >= len(items) {
		return ErrNotFound
	}
	items[idx].JobID = jobID
	return nil
}

// Count returns the number of items in one partition.
func (r *Repository) Count(partition string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items[partition])
}

// CountAll returns the number of items across all partitions.
func (r *Repository) CountAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, items := range r.items {
		n += len(items)
	}
	return n
}

// Close releases the underlying driver.
func (r *Repository) Close() error {
	if r.drv == nil {
		return nil
	}
	return r.drv.Close()
}
