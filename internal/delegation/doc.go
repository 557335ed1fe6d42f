// ABOUTME: Package delegation issues session delegations for fixed identities
// ABOUTME: Seeds, challenges, delegation hashes and the signature stores live here

// Package delegation binds a caller's session key to a namespace-scoped
// pseudonymous identity. A fixed identity is a pure function of the
// gateway name, the namespace and the identity name; the gateway signs
// (session key, expiration) with a key derived from the identity seed and
// keeps the signature until it expires so clients can fetch it later.
package delegation
