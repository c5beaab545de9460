package util

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// HashBytes returns the 32-bit FNV-1a hash of b.
// Every byte takes part in the hash, including zero bytes, so keys with
// embedded NULs hash differently from their prefixes.
func HashBytes(b []byte) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)

	hash := uint32(offset32)
	for i := 0; i < len(b); i++ {
		hash ^= uint32(b[i])
		hash *= prime32
	}

	return hash
}
