// Package table implements the hash table that holds every key and value of
// the store.
//
// Keys and values are arbitrary byte strings. Keys are placed with the 32-bit
// FNV-1a hash of their raw bytes modulo the current capacity, collisions are
// resolved with singly linked chains (new entries are inserted at the head).
//
// Growth:
//   - The table grows when the number of live entries reaches
//     LoadFactor*capacity (0.65 by default). The check runs before each insert.
//   - Each growth step adds a small fixed number of slots (3 by default)
//     instead of doubling. This keeps a single rehash cheap but makes growth
//     frequent.
//   - A resize allocates the new slot array, moves every entry into it and
//     only then replaces the old array.
//
// Thread Safety:
//
//	One table-wide sync.RWMutex guards all state. Get runs under the shared
//	lock so lookups proceed in parallel; Put, Delete and resizing run under
//	the exclusive lock.
package table
