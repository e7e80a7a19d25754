// Package cache provides a bounded, TTL-aware ordered cache used by the
// storage engine to front reads against the string table.
//
// The underlying structure is an AVL tree keyed by the cache key, which
// gives ordered eviction by minimum key rather than recency. This is a
// deliberate, retained deviation from LRU — see Tree's doc comment.
package cache
