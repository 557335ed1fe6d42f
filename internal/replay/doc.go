// ABOUTME: Package replay remembers recently used ECDH request nonces
// ABOUTME: A nonce seen again within the TTL is rejected as a replay

// Package replay provides a bounded, TTL-based guard against reuse of
// (caller, public key, nonce) triples in ECDH requests. Entries are kept in
// insertion order so the oldest can be evicted in O(1) when the guard is
// full.
package replay
