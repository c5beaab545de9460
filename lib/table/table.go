package table

import (
	"bytes"
	"errors"
	"math"
	"sync"

	"github.com/ValentinKolb/ugKV/lib/util"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("table")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultInitialCapacity = 4096 // Number of slots of a fresh table
	defaultGrowthIncrement = 3    // Slots added per growth step
	defaultLoadFactor      = 0.65 // count/capacity ratio that triggers growth
)

var (
	// ErrKeyTooLarge is returned if a key does not fit a 32-bit length prefix
	ErrKeyTooLarge = errors.New("table: key too large")
	// ErrValueTooLarge is returned if a value does not fit a 32-bit length prefix
	ErrValueTooLarge = errors.New("table: value too large")
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// entry is one key/value pair in a slot's collision chain.
// An entry is owned by exactly one chain.
type entry struct {
	key   []byte
	value []byte
	next  *entry
}

// Options configures a Table
type Options struct {
	InitialCapacity int     // Number of slots at creation (0 = default)
	GrowthIncrement int     // Slots added per growth step (0 = default)
	LoadFactor      float64 // Growth trigger as count/capacity (0 = default)
}

// DefaultOptions returns the default table options
func DefaultOptions() *Options {
	return &Options{
		InitialCapacity: defaultInitialCapacity,
		GrowthIncrement: defaultGrowthIncrement,
		LoadFactor:      defaultLoadFactor,
	}
}

// Table is an in-memory hash table with chained collision resolution.
//
// The table grows by a fixed number of slots whenever the number of live
// entries reaches LoadFactor*capacity. Growth is checked before every insert
// and rehashes all entries into a freshly allocated slot array.
//
// Locking: Get takes the shared lock, Put, Delete and the resize they trigger
// take the exclusive lock for their whole duration.
type Table struct {
	mu         sync.RWMutex
	slots      []*entry
	count      int
	threshold  int
	growth     int
	loadFactor float64
	resizes    uint64
}

// New creates a new table with the given options (optional)
func New(opts *Options) *Table {
	if opts == nil {
		opts = DefaultOptions()
	}

	capacity := opts.InitialCapacity
	if capacity <= 0 {
		capacity = defaultInitialCapacity
	}
	growth := opts.GrowthIncrement
	if growth <= 0 {
		growth = defaultGrowthIncrement
	}
	loadFactor := opts.LoadFactor
	if loadFactor <= 0 || loadFactor > 1 {
		loadFactor = defaultLoadFactor
	}

	return &Table{
		slots:      make([]*entry, capacity),
		threshold:  thresholdFor(capacity, loadFactor),
		growth:     growth,
		loadFactor: loadFactor,
	}
}

// thresholdFor returns the entry count at which a table of the given capacity grows
func thresholdFor(capacity int, loadFactor float64) int {
	return int(float64(capacity) * loadFactor)
}

// slotFor maps a key onto a slot index for the given capacity
func slotFor(key []byte, capacity int) int {
	return int(util.HashBytes(key) % uint32(capacity))
}

// --------------------------------------------------------------------------
// Write Operations
// --------------------------------------------------------------------------

// Put inserts or overwrites the value stored for key.
// The table keeps its own copies of key and value. When the key already
// exists only the value is replaced, the stored key bytes are kept.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Put(key, value []byte) error {
	if uint64(len(key)) > math.MaxUint32 {
		return ErrKeyTooLarge
	}
	if uint64(len(value)) > math.MaxUint32 {
		return ErrValueTooLarge
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	t.mu.Lock()
	defer t.mu.Unlock()

	// grow before inserting so the new entry lands in the final slot array
	if t.count >= t.threshold {
		t.resize()
	}

	idx := slotFor(key, len(t.slots))

	// overwrite in place if the key is already present
	for e := t.slots[idx]; e != nil; e = e.next {
		if bytes.Equal(e.key, key) {
			e.value = valueCopy
			return nil
		}
	}

	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	// head insertion
	t.slots[idx] = &entry{
		key:   keyCopy,
		value: valueCopy,
		next:  t.slots[idx],
	}
	t.count++

	return nil
}

// Delete removes the entry for key.
// It returns false if the key was not present.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Delete(key []byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := slotFor(key, len(t.slots))

	var prev *entry
	for e := t.slots[idx]; e != nil; e = e.next {
		if !bytes.Equal(e.key, key) {
			prev = e
			continue
		}

		if prev == nil {
			t.slots[idx] = e.next
		} else {
			prev.next = e.next
		}
		e.next = nil
		t.count--
		return true
	}

	return false
}

// resize grows the slot array until the live count is below the new threshold
// and moves every entry into it. The new array is fully built before it
// replaces the old one.
//
// Thread-safety: The caller must hold the exclusive lock.
func (t *Table) resize() {
	oldCapacity := len(t.slots)

	newCapacity := oldCapacity
	for t.count >= thresholdFor(newCapacity, t.loadFactor) {
		newCapacity += t.growth
	}

	slots := make([]*entry, newCapacity)
	for _, head := range t.slots {
		for e := head; e != nil; {
			next := e.next
			idx := slotFor(e.key, newCapacity)
			e.next = slots[idx]
			slots[idx] = e
			e = next
		}
	}

	t.slots = slots
	t.threshold = thresholdFor(newCapacity, t.loadFactor)
	t.resizes++

	Logger.Debugf("resized table from %d to %d slots (%d entries)", oldCapacity, newCapacity, t.count)
}

// --------------------------------------------------------------------------
// Read Operations
// --------------------------------------------------------------------------

// Get returns a copy of the value stored for key.
// The boolean is false if the key is not present. Get never mutates the table.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (t *Table) Get(key []byte) ([]byte, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for e := t.slots[slotFor(key, len(t.slots))]; e != nil; e = e.next {
		if bytes.Equal(e.key, key) {
			value := make([]byte, len(e.value))
			copy(value, e.value)
			return value, true
		}
	}

	return nil, false
}

// Len returns the number of live entries
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Capacity returns the current number of slots
func (t *Table) Capacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.slots)
}

// Resizes returns how often the table has grown since creation
func (t *Table) Resizes() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resizes
}

// --------------------------------------------------------------------------
// Metadata
// --------------------------------------------------------------------------

// Info describes the shape of a table at one point in time
type Info struct {
	Capacity     int                    `json:"capacity"`
	Count        int                    `json:"count"`
	Threshold    int                    `json:"threshold"`
	LoadFactor   float64                `json:"load_factor"`
	Resizes      uint64                 `json:"resizes"`
	UsedSlots    int                    `json:"used_slots"`
	LongestChain int                    `json:"longest_chain"`
	Chains       util.DistributionStats `json:"chains"`
}

// Info walks all slots and reports the table's shape.
// This is O(capacity + count) and holds the shared lock while running.
func (t *Table) Info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()

	info := Info{
		Capacity:  len(t.slots),
		Count:     t.count,
		Threshold: t.threshold,
		Resizes:   t.resizes,
	}
	if info.Capacity > 0 {
		info.LoadFactor = float64(t.count) / float64(info.Capacity)
	}

	lengths := make([]float64, len(t.slots))
	for i, head := range t.slots {
		n := 0
		for e := head; e != nil; e = e.next {
			n++
		}
		if n > 0 {
			info.UsedSlots++
		}
		if n > info.LongestChain {
			info.LongestChain = n
		}
		lengths[i] = float64(n)
	}
	info.Chains = util.NewDistributionStats(lengths)

	return info
}
