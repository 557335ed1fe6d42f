// Package keyring is the boundary to the key derivation oracle.
//
// The gateway never stores key-encryption keys. Each one is recomputed on
// demand from a DeterministicSigner: the signature over a tenant scoped
// derivation path is MACed down to 32 bytes of key material. A VetKD
// provider hands out encrypted derived keys for client-side decryption.
//
// Two adapters exist for both capabilities: Local* derive everything from a
// root seed held by the process, Remote* forward to an HTTP signing service.
package keyring
