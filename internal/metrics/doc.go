// Package metrics exposes Prometheus collectors for the gateway.
//
// A *Metrics value is passed to service.WithObserver and keyring.WithObserver
// so operation and oracle outcomes are counted without either package
// importing Prometheus. Operation outcomes use service.Kind, which keeps the
// label set bounded.
package metrics
