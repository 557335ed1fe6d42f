// ABOUTME: Request and response envelopes for gateway operations
// ABOUTME: Shared by the gRPC service, the HTTP API and the typed client

package rpc

import (
	"github.com/2389/cose-gateway/internal/service"
	"github.com/2389/cose-gateway/internal/store"
)

// Empty is the request or response of operations without fields.
type Empty struct{}

// Result wraps a scalar response.
type Result[T any] struct {
	Result T `json:"result"`
}

// PathInput addresses a setting and carries an operation input.
type PathInput[T any] struct {
	Path  service.SettingPath `json:"path"`
	Input T                   `json:"input"`
}

// PathRequest addresses a setting.
type PathRequest struct {
	Path service.SettingPath `json:"path"`
}

// PrincipalsRequest carries a principal set for the global admin operations.
type PrincipalsRequest struct {
	Principals []store.Principal `json:"principals"`
}

// APIsRequest changes the allow-list.
type APIsRequest struct {
	APIs []string `json:"apis"`
}

// ListNamespacesRequest pages through namespaces in descending name order.
type ListNamespacesRequest struct {
	Prev string `json:"prev,omitempty"`
	Take int    `json:"take,omitempty"`
}

// NamespaceRequest names a namespace.
type NamespaceRequest struct {
	NS string `json:"ns"`
}

// MembersRequest changes one of a namespace's principal sets.
type MembersRequest struct {
	NS         string            `json:"ns"`
	Principals []store.Principal `json:"principals"`
}

// IsMemberRequest asks whether Principal belongs to the Kind set of NS.
type IsMemberRequest struct {
	NS        string             `json:"ns"`
	Kind      service.MemberKind `json:"kind"`
	Principal store.Principal    `json:"principal"`
}

// ListSettingKeysRequest lists the settings of a namespace.
type ListSettingKeysRequest struct {
	NS        string           `json:"ns"`
	UserOwned bool             `json:"user_owned"`
	Subject   *store.Principal `json:"subject,omitempty"`
}

// TopUpRequest credits a namespace's gas balance.
type TopUpRequest struct {
	NS     string `json:"ns"`
	Amount uint64 `json:"amount"`
}

// FixedIdentityRequest names a fixed identity within a namespace.
type FixedIdentityRequest struct {
	NS   string `json:"ns"`
	Name string `json:"name"`
}
