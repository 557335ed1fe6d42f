// Package rpc exposes gateway operations over gRPC.
//
// Messages are JSON rather than protobuf: the codec registered under the
// "json" content subtype marshals the service input and output types
// directly. Every operation is one unary method of cose.v1.CoseService whose
// name is the CamelCase form of the operation name, so setting_get becomes
// /cose.v1.CoseService/SettingGet.
//
// The same method table backs the HTTP API in the gateway package.
//
// Service errors travel as status codes with the error kind as a message
// prefix; Client restores the sentinel so callers can use errors.Is.
package rpc
