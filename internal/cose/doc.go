// Package cose implements the wire envelope used for setting payloads and
// key delivery: COSE_Encrypt0 (AES-256-GCM), symmetric COSE_Key, COSE_Sign1
// CWT tokens, X25519 key agreement and the hash/MAC helpers used to derive
// key material.
//
// All encrypted items bind the subject principal as external AAD, so a
// ciphertext produced for one subject does not decrypt for another even
// when both share a namespace and setting key.
package cose
