// ABOUTME: Typed gRPC client for the gateway operations
// ABOUTME: Supports bearer-token and SSH-signature per-call credentials

package rpc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/cose-gateway/internal/auth"
	"github.com/2389/cose-gateway/internal/delegation"
	"github.com/2389/cose-gateway/internal/service"
	"github.com/2389/cose-gateway/internal/store"
)

// Client calls gateway operations over a gRPC connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to a gateway. creds may be nil for anonymous access.
// The connection uses plaintext transport, as the gateway expects to be
// reached over a tailnet or loopback.
func Dial(target string, creds credentials.PerRPCCredentials) (*Client, *grpc.ClientConn, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if creds != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(creds))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %w", target, err)
	}
	return NewClient(conn), conn, nil
}

// Call invokes the named operation. Errors carry the service sentinels.
func (c *Client) Call(ctx context.Context, name string, req, resp any) error {
	m, ok := Lookup(name)
	if !ok {
		return fmt.Errorf("%w: unknown method %q", service.ErrInvalidArgument, name)
	}
	err := c.conn.Invoke(ctx, m.FullMethod(), req, resp, grpc.CallContentSubtype(CodecName))
	return FromStatus(err)
}

func call[Resp any](ctx context.Context, c *Client, name string, req any) (*Resp, error) {
	resp := new(Resp)
	if err := c.Call(ctx, name, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func scalar[T any](ctx context.Context, c *Client, name string, req any) (T, error) {
	resp, err := call[Result[T]](ctx, c, name, req)
	if err != nil {
		var zero T
		return zero, err
	}
	return resp.Result, nil
}

func (c *Client) StateGetInfo(ctx context.Context) (*service.StateInfo, error) {
	return call[service.StateInfo](ctx, c, service.MethodStateGetInfo, &Empty{})
}

// AdminChange calls one of the admin_add/remove_* principal operations.
func (c *Client) AdminChange(ctx context.Context, method string, ps []store.Principal) error {
	return c.Call(ctx, method, &PrincipalsRequest{Principals: ps}, &Empty{})
}

// AdminChangeAPIs calls admin_add_allowed_apis or admin_remove_allowed_apis.
func (c *Client) AdminChangeAPIs(ctx context.Context, method string, apis []string) error {
	return c.Call(ctx, method, &APIsRequest{APIs: apis}, &Empty{})
}

func (c *Client) AdminListNamespaces(ctx context.Context, prev string, take int) ([]*service.NamespaceInfo, error) {
	return scalar[[]*service.NamespaceInfo](ctx, c, service.MethodAdminListNamespaces, &ListNamespacesRequest{Prev: prev, Take: take})
}

func (c *Client) ListAuditLog(ctx context.Context, f store.AuditFilter) ([]store.AuditEntry, error) {
	return scalar[[]store.AuditEntry](ctx, c, service.MethodAuditList, &f)
}

func (c *Client) CreateNamespace(ctx context.Context, in *service.CreateNamespaceInput) (*service.NamespaceInfo, error) {
	return call[service.NamespaceInfo](ctx, c, service.MethodNamespaceCreate, in)
}

func (c *Client) NamespaceGetInfo(ctx context.Context, ns string) (*service.NamespaceInfo, error) {
	return call[service.NamespaceInfo](ctx, c, service.MethodNamespaceGetInfo, &NamespaceRequest{NS: ns})
}

func (c *Client) NamespaceUpdateInfo(ctx context.Context, in *service.UpdateNamespaceInput) error {
	return c.Call(ctx, service.MethodNamespaceUpdateInfo, in, &Empty{})
}

func (c *Client) NamespaceDelete(ctx context.Context, ns string) error {
	return c.Call(ctx, service.MethodNamespaceDelete, &NamespaceRequest{NS: ns}, &Empty{})
}

// NamespaceChangeMembers calls one of the namespace_add/remove_* member operations.
func (c *Client) NamespaceChangeMembers(ctx context.Context, method, ns string, ps []store.Principal) error {
	return c.Call(ctx, method, &MembersRequest{NS: ns, Principals: ps}, &Empty{})
}

func (c *Client) NamespaceIsMember(ctx context.Context, ns string, kind service.MemberKind, p store.Principal) (bool, error) {
	return scalar[bool](ctx, c, service.MethodNamespaceIsMember, &IsMemberRequest{NS: ns, Kind: kind, Principal: p})
}

func (c *Client) NamespaceListSettingKeys(ctx context.Context, ns string, userOwned bool, subject *store.Principal) ([]service.SettingKey, error) {
	return scalar[[]service.SettingKey](ctx, c, service.MethodNamespaceListSettingKeys, &ListSettingKeysRequest{NS: ns, UserOwned: userOwned, Subject: subject})
}

func (c *Client) NamespaceTopUp(ctx context.Context, ns string, amount uint64) (uint64, error) {
	return scalar[uint64](ctx, c, service.MethodNamespaceTopUp, &TopUpRequest{NS: ns, Amount: amount})
}

func (c *Client) NamespaceChangeDelegators(ctx context.Context, method string, in *service.NamespaceDelegatorsInput) error {
	return c.Call(ctx, method, in, &Empty{})
}

func (c *Client) NamespaceGetDelegators(ctx context.Context, ns, name string) (store.Principals, error) {
	return scalar[store.Principals](ctx, c, service.MethodNamespaceGetDelegators, &FixedIdentityRequest{NS: ns, Name: name})
}

func (c *Client) NamespaceGetFixedIdentity(ctx context.Context, ns, name string) (*delegation.Identity, error) {
	return call[delegation.Identity](ctx, c, service.MethodNamespaceFixedIdentity, &FixedIdentityRequest{NS: ns, Name: name})
}

func (c *Client) NamespaceSignDelegation(ctx context.Context, in *service.SignDelegationInput) (*delegation.SignInResponse, error) {
	return call[delegation.SignInResponse](ctx, c, service.MethodNamespaceSignDelegation, in)
}

func (c *Client) GetDelegation(ctx context.Context, in *service.GetDelegationInput) (*delegation.SignedDelegation, error) {
	return call[delegation.SignedDelegation](ctx, c, service.MethodGetDelegation, in)
}

func (c *Client) SettingCreate(ctx context.Context, path service.SettingPath, in service.CreateSettingInput) (*service.CreateSettingOutput, error) {
	return call[service.CreateSettingOutput](ctx, c, service.MethodSettingCreate, &PathInput[service.CreateSettingInput]{Path: path, Input: in})
}

func (c *Client) SettingGet(ctx context.Context, path service.SettingPath) (*service.SettingInfo, error) {
	return call[service.SettingInfo](ctx, c, service.MethodSettingGet, &PathRequest{Path: path})
}

func (c *Client) SettingGetInfo(ctx context.Context, path service.SettingPath) (*service.SettingInfo, error) {
	return call[service.SettingInfo](ctx, c, service.MethodSettingGetInfo, &PathRequest{Path: path})
}

func (c *Client) SettingGetArchivedPayload(ctx context.Context, path service.SettingPath) (*service.SettingArchivedPayload, error) {
	return call[service.SettingArchivedPayload](ctx, c, service.MethodSettingGetArchived, &PathRequest{Path: path})
}

func (c *Client) SettingUpdateInfo(ctx context.Context, path service.SettingPath, in service.UpdateSettingInfoInput) (*service.UpdateSettingOutput, error) {
	return call[service.UpdateSettingOutput](ctx, c, service.MethodSettingUpdateInfo, &PathInput[service.UpdateSettingInfoInput]{Path: path, Input: in})
}

func (c *Client) SettingUpdatePayload(ctx context.Context, path service.SettingPath, in service.UpdateSettingPayloadInput) (*service.UpdateSettingOutput, error) {
	return call[service.UpdateSettingOutput](ctx, c, service.MethodSettingUpdatePayload, &PathInput[service.UpdateSettingPayloadInput]{Path: path, Input: in})
}

// SettingChangeReaders calls setting_add_readers or setting_remove_readers.
func (c *Client) SettingChangeReaders(ctx context.Context, method string, path service.SettingPath, readers []store.Principal) error {
	return c.Call(ctx, method, &PathInput[[]store.Principal]{Path: path, Input: readers}, &Empty{})
}

func (c *Client) ECDHSettingGet(ctx context.Context, path service.SettingPath, in service.ECDHInput) (*service.ECDHOutput[*service.SettingInfo], error) {
	return call[service.ECDHOutput[*service.SettingInfo]](ctx, c, service.MethodECDHSettingGet, &PathInput[service.ECDHInput]{Path: path, Input: in})
}

func (c *Client) ECDHCoseEncryptedKey(ctx context.Context, path service.SettingPath, in service.ECDHInput) (*service.ECDHOutput[[]byte], error) {
	return call[service.ECDHOutput[[]byte]](ctx, c, service.MethodECDHCoseEncryptedKey, &PathInput[service.ECDHInput]{Path: path, Input: in})
}

func (c *Client) VetKDPublicKey(ctx context.Context, path service.SettingPath) ([]byte, error) {
	return scalar[[]byte](ctx, c, service.MethodVetKDPublicKey, &PathRequest{Path: path})
}

func (c *Client) VetKDEncryptedKey(ctx context.Context, path service.SettingPath, in service.VetKDInput) ([]byte, error) {
	return scalar[[]byte](ctx, c, service.MethodVetKDEncryptedKey, &PathInput[service.VetKDInput]{Path: path, Input: in})
}

func (c *Client) NamespacePublicKey(ctx context.Context, in *service.PublicKeyInput) (*service.PublicKeyOutput, error) {
	return call[service.PublicKeyOutput](ctx, c, service.MethodNamespacePublicKey, in)
}

func (c *Client) NamespaceSign(ctx context.Context, in *service.SignInput) ([]byte, error) {
	return scalar[[]byte](ctx, c, service.MethodNamespaceSign, in)
}

func (c *Client) SignIdentity(ctx context.Context, in *service.SignIdentityInput) ([]byte, error) {
	return scalar[[]byte](ctx, c, service.MethodSignIdentity, in)
}

func (c *Client) IdentityPublicKey(ctx context.Context) ([]byte, error) {
	return scalar[[]byte](ctx, c, service.MethodIdentityPublicKey, &Empty{})
}

// BearerToken sends a JWT with every call.
type BearerToken string

func (t BearerToken) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + string(t)}, nil
}

func (BearerToken) RequireTransportSecurity() bool { return false }

// SSHCredentials signs a fresh timestamp and nonce for every call.
type SSHCredentials struct {
	Signer ssh.Signer
	Now    func() time.Time
}

func (c SSHCredentials) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(now().Unix(), 10)
	nonce := hex.EncodeToString(raw[:])
	sig, err := c.Signer.Sign(rand.Reader, []byte(ts+"|"+nonce))
	if err != nil {
		return nil, fmt.Errorf("signing auth challenge: %w", err)
	}
	return map[string]string{
		auth.SSHPubkeyHeader:    strings.TrimSpace(string(ssh.MarshalAuthorizedKey(c.Signer.PublicKey()))),
		auth.SSHSignatureHeader: base64.StdEncoding.EncodeToString(ssh.Marshal(sig)),
		auth.SSHTimestampHeader: ts,
		auth.SSHNonceHeader:     nonce,
	}, nil
}

func (SSHCredentials) RequireTransportSecurity() bool { return false }
