// Package auth resolves request credentials to gateway principals.
//
// # Authentication Methods
//
//   - SSH Signatures: the caller signs "timestamp|nonce" with an SSH key and
//     sends the x-ssh-* headers. The principal is "ssh-" followed by the hex
//     SHA256 fingerprint of the key.
//
//   - JWT Tokens: an HS256 bearer token whose "sub" claim names the principal.
//     Tokens are signed with the configured jwt_secret.
//
// Requests that carry neither are served as the anonymous principal. The
// service layer decides what anonymous callers may read; RequireCaller and
// RequireCallerHTTP reject them outright on mutating routes.
//
// The same Authenticator backs the gRPC interceptors and the HTTP middleware,
// so both transports see identical principals.
package auth
