// ABOUTME: Operation table mapping method names to service calls
// ABOUTME: Each entry decodes its request envelope and invokes the service as the caller

package rpc

import (
	"context"
	"sort"
	"strings"

	"github.com/2389/cose-gateway/internal/delegation"
	"github.com/2389/cose-gateway/internal/service"
	"github.com/2389/cose-gateway/internal/store"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "cose.v1.CoseService"

// Method is one gateway operation.
type Method struct {
	// Name is the operation name, e.g. "setting_get".
	Name string
	// Update marks operations that change state. Anonymous callers are
	// rejected before the request is decoded.
	Update bool

	newRequest func() any
	call       func(ctx context.Context, svc *service.Service, caller store.Principal, req any) (any, error)
}

// RPCName is the gRPC method name, e.g. "SettingGet".
func (m Method) RPCName() string {
	parts := strings.Split(m.Name, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "")
}

// FullMethod is the gRPC full method name.
func (m Method) FullMethod() string {
	return "/" + ServiceName + "/" + m.RPCName()
}

// Invoke decodes a request with decode and calls the service.
func (m Method) Invoke(ctx context.Context, svc *service.Service, caller store.Principal, decode func(any) error) (any, error) {
	req := m.newRequest()
	if err := decode(req); err != nil {
		return nil, err
	}
	return m.call(ctx, svc, caller, req)
}

func unary[Req, Resp any](name string, update bool, fn func(context.Context, *service.Service, store.Principal, *Req) (Resp, error)) Method {
	return Method{
		Name:       name,
		Update:     update,
		newRequest: func() any { return new(Req) },
		call: func(ctx context.Context, svc *service.Service, caller store.Principal, req any) (any, error) {
			resp, err := fn(ctx, svc, caller, req.(*Req))
			if err != nil {
				return nil, err
			}
			return resp, nil
		},
	}
}

func empty(err error) (*Empty, error) {
	if err != nil {
		return nil, err
	}
	return &Empty{}, nil
}

func result[T any](v T, err error) (*Result[T], error) {
	if err != nil {
		return nil, err
	}
	return &Result[T]{Result: v}, nil
}

func members(name string, kind service.MemberKind, add bool) Method {
	return unary(name, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *MembersRequest) (*Empty, error) {
		if add {
			return empty(svc.NamespaceAddMembers(ctx, caller, req.NS, kind, req.Principals))
		}
		return empty(svc.NamespaceRemoveMembers(ctx, caller, req.NS, kind, req.Principals))
	})
}

func globalPrincipals(name string, fn func(*service.Service, context.Context, store.Principal, []store.Principal) error) Method {
	return unary(name, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PrincipalsRequest) (*Empty, error) {
		return empty(fn(svc, ctx, caller, req.Principals))
	})
}

var methods = []Method{
	unary(service.MethodStateGetInfo, false, func(ctx context.Context, svc *service.Service, caller store.Principal, _ *Empty) (*service.StateInfo, error) {
		return svc.StateGetInfo(ctx, caller)
	}),
	globalPrincipals(service.MethodAdminAddManagers, (*service.Service).AdminAddManagers),
	globalPrincipals(service.MethodAdminRemoveManagers, (*service.Service).AdminRemoveManagers),
	globalPrincipals(service.MethodAdminAddAuditors, (*service.Service).AdminAddAuditors),
	globalPrincipals(service.MethodAdminRemoveAuditors, (*service.Service).AdminRemoveAuditors),
	unary(service.MethodAdminAddAPIs, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *APIsRequest) (*Empty, error) {
		return empty(svc.AdminAddAllowedAPIs(ctx, caller, req.APIs))
	}),
	unary(service.MethodAdminRemoveAPIs, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *APIsRequest) (*Empty, error) {
		return empty(svc.AdminRemoveAllowedAPIs(ctx, caller, req.APIs))
	}),
	unary(service.MethodAdminListNamespaces, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *ListNamespacesRequest) (*Result[[]*service.NamespaceInfo], error) {
		return result(svc.AdminListNamespaces(ctx, caller, req.Prev, req.Take))
	}),
	unary(service.MethodAuditList, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *store.AuditFilter) (*Result[[]store.AuditEntry], error) {
		return result(svc.ListAuditLog(ctx, caller, *req))
	}),

	unary(service.MethodNamespaceCreate, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.CreateNamespaceInput) (*service.NamespaceInfo, error) {
		return svc.AdminCreateNamespace(ctx, caller, req)
	}),
	unary(service.MethodNamespaceGetInfo, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *NamespaceRequest) (*service.NamespaceInfo, error) {
		return svc.NamespaceGetInfo(ctx, caller, req.NS)
	}),
	unary(service.MethodNamespaceUpdateInfo, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.UpdateNamespaceInput) (*Empty, error) {
		return empty(svc.NamespaceUpdateInfo(ctx, caller, req))
	}),
	unary(service.MethodNamespaceDelete, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *NamespaceRequest) (*Empty, error) {
		return empty(svc.NamespaceDelete(ctx, caller, req.NS))
	}),
	members(service.MethodNamespaceAddManagers, service.MemberManager, true),
	members(service.MethodNamespaceRemoveManagers, service.MemberManager, false),
	members(service.MethodNamespaceAddAuditors, service.MemberAuditor, true),
	members(service.MethodNamespaceRemoveAuditors, service.MemberAuditor, false),
	members(service.MethodNamespaceAddUsers, service.MemberUser, true),
	members(service.MethodNamespaceRemoveUsers, service.MemberUser, false),
	unary(service.MethodNamespaceIsMember, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *IsMemberRequest) (*Result[bool], error) {
		return result(svc.NamespaceIsMember(ctx, caller, req.NS, req.Kind, req.Principal))
	}),
	unary(service.MethodNamespaceListSettingKeys, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *ListSettingKeysRequest) (*Result[[]service.SettingKey], error) {
		return result(svc.NamespaceListSettingKeys(ctx, caller, req.NS, req.UserOwned, req.Subject))
	}),
	unary(service.MethodNamespaceTopUp, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *TopUpRequest) (*Result[uint64], error) {
		return result(svc.NamespaceTopUp(ctx, caller, req.NS, req.Amount))
	}),

	unary(service.MethodNamespaceAddDelegators, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.NamespaceDelegatorsInput) (*Empty, error) {
		return empty(svc.NamespaceAddDelegators(ctx, caller, req))
	}),
	unary(service.MethodNamespaceRemoveDelegators, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.NamespaceDelegatorsInput) (*Empty, error) {
		return empty(svc.NamespaceRemoveDelegators(ctx, caller, req))
	}),
	unary(service.MethodNamespaceGetDelegators, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *FixedIdentityRequest) (*Result[store.Principals], error) {
		return result(svc.NamespaceGetDelegators(ctx, caller, req.NS, req.Name))
	}),
	unary(service.MethodNamespaceFixedIdentity, false, func(ctx context.Context, svc *service.Service, _ store.Principal, req *FixedIdentityRequest) (*delegation.Identity, error) {
		return svc.NamespaceGetFixedIdentity(ctx, req.NS, req.Name)
	}),
	unary(service.MethodNamespaceSignDelegation, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.SignDelegationInput) (*delegation.SignInResponse, error) {
		return svc.NamespaceSignDelegation(ctx, caller, req)
	}),
	unary(service.MethodGetDelegation, false, func(ctx context.Context, svc *service.Service, _ store.Principal, req *service.GetDelegationInput) (*delegation.SignedDelegation, error) {
		return svc.GetDelegation(ctx, req)
	}),

	unary(service.MethodSettingCreate, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[service.CreateSettingInput]) (*service.CreateSettingOutput, error) {
		return svc.SettingCreate(ctx, caller, req.Path, &req.Input)
	}),
	unary(service.MethodSettingGet, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathRequest) (*service.SettingInfo, error) {
		return svc.SettingGet(ctx, caller, req.Path)
	}),
	unary(service.MethodSettingGetInfo, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathRequest) (*service.SettingInfo, error) {
		return svc.SettingGetInfo(ctx, caller, req.Path)
	}),
	unary(service.MethodSettingGetArchived, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathRequest) (*service.SettingArchivedPayload, error) {
		return svc.SettingGetArchivedPayload(ctx, caller, req.Path)
	}),
	unary(service.MethodSettingUpdateInfo, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[service.UpdateSettingInfoInput]) (*service.UpdateSettingOutput, error) {
		return svc.SettingUpdateInfo(ctx, caller, req.Path, &req.Input)
	}),
	unary(service.MethodSettingUpdatePayload, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[service.UpdateSettingPayloadInput]) (*service.UpdateSettingOutput, error) {
		return svc.SettingUpdatePayload(ctx, caller, req.Path, &req.Input)
	}),
	unary(service.MethodSettingAddReaders, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[[]store.Principal]) (*Empty, error) {
		return empty(svc.SettingAddReaders(ctx, caller, req.Path, req.Input))
	}),
	unary(service.MethodSettingRemoveReaders, true, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[[]store.Principal]) (*Empty, error) {
		return empty(svc.SettingRemoveReaders(ctx, caller, req.Path, req.Input))
	}),

	unary(service.MethodECDHSettingGet, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[service.ECDHInput]) (*service.ECDHOutput[*service.SettingInfo], error) {
		return svc.ECDHSettingGet(ctx, caller, req.Path, &req.Input)
	}),
	unary(service.MethodECDHCoseEncryptedKey, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[service.ECDHInput]) (*service.ECDHOutput[[]byte], error) {
		return svc.ECDHCoseEncryptedKey(ctx, caller, req.Path, &req.Input)
	}),
	unary(service.MethodVetKDPublicKey, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathRequest) (*Result[[]byte], error) {
		return result(svc.VetKDPublicKey(ctx, caller, req.Path))
	}),
	unary(service.MethodVetKDEncryptedKey, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *PathInput[service.VetKDInput]) (*Result[[]byte], error) {
		return result(svc.VetKDEncryptedKey(ctx, caller, req.Path, &req.Input))
	}),
	unary(service.MethodNamespacePublicKey, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.PublicKeyInput) (*service.PublicKeyOutput, error) {
		return svc.NamespacePublicKey(ctx, caller, req)
	}),
	unary(service.MethodNamespaceSign, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.SignInput) (*Result[[]byte], error) {
		return result(svc.NamespaceSign(ctx, caller, req))
	}),
	unary(service.MethodSignIdentity, false, func(ctx context.Context, svc *service.Service, caller store.Principal, req *service.SignIdentityInput) (*Result[[]byte], error) {
		return result(svc.SignIdentity(ctx, caller, req))
	}),
	unary(service.MethodIdentityPublicKey, false, func(ctx context.Context, svc *service.Service, _ store.Principal, _ *Empty) (*Result[[]byte], error) {
		return result(svc.IdentityPublicKey(ctx))
	}),
}

var (
	byName      = make(map[string]Method, len(methods))
	byFull      = make(map[string]Method, len(methods))
	sortedNames []string
)

func init() {
	for _, m := range methods {
		byName[m.Name] = m
		byFull[m.FullMethod()] = m
		sortedNames = append(sortedNames, m.Name)
	}
	sort.Strings(sortedNames)
}

// Lookup returns the method named name.
func Lookup(name string) (Method, bool) {
	m, ok := byName[name]
	return m, ok
}

// Names returns every operation name in sorted order.
func Names() []string {
	return append([]string(nil), sortedNames...)
}

// IsUpdate reports whether a gRPC full method name is a state-changing
// operation. It is the filter passed to auth.RequireCaller.
func IsUpdate(fullMethod string) bool {
	m, ok := byFull[fullMethod]
	return ok && m.Update
}
