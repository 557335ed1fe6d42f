// ABOUTME: Package service implements namespace, setting, crypto and delegation operations
// ABOUTME: It is the only layer that evaluates permissions and mutates tenant state

// Package service is the core of the gateway. Every exported method takes
// the caller principal explicitly, evaluates the namespace and setting
// predicates from package store, and commits through a store.Repository.
//
// Operations are serialized by a single mutex. Calls to the key oracle and
// the delegation signer run with the mutex released, so an operation that
// commits after such a call re-reads the namespace and re-checks its
// preconditions first.
package service
