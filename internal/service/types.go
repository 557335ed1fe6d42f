// ABOUTME: Request and response types for service operations
// ABOUTME: JSON tags define the wire shape used by the HTTP and gRPC transports

package service

import (
	"fmt"
	"regexp"

	"github.com/2389/cose-gateway/internal/cose"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/store"
)

const (
	// MaxPayloadSize caps namespace max_payload_size.
	MaxPayloadSize uint64 = 2_000_000
	// MaxSettingKeySize is the longest setting key in bytes.
	MaxSettingKeySize = 64
	// DefaultSessionExpiresInMS is the delegation session length of new namespaces.
	DefaultSessionExpiresInMS uint64 = 24 * 60 * 60 * 1000
	// MaxSessionExpiresInMS caps session_expires_in_ms at 365 days.
	MaxSessionExpiresInMS uint64 = 365 * DefaultSessionExpiresInMS
	// IdentityTokenTTL is the lifetime of tokens from SignIdentity, in seconds.
	IdentityTokenTTL int64 = 3600
)

var namePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

func validateName(kind, v string) error {
	if !namePattern.MatchString(v) {
		return invalid("%s %q must match [a-z0-9_]+", kind, v)
	}
	return nil
}

func validatePrincipals(ps []store.Principal) error {
	if len(ps) == 0 {
		return invalid("principals must not be empty")
	}
	for _, p := range ps {
		if p.IsAnonymous() {
			return invalid("anonymous principal is not allowed")
		}
	}
	return nil
}

func validateStatus(status *int8, lo int8) error {
	if status != nil && (*status < lo || *status > store.StatusReadOnly) {
		return invalid("status must be in %d..1", lo)
	}
	return nil
}

func validateTags(tags map[string]string) error {
	for k := range tags {
		if err := validateName("tag key", k); err != nil {
			return err
		}
	}
	return nil
}

func validateSession(v *uint64) error {
	if v != nil && *v > MaxSessionExpiresInMS {
		return invalid("session_expires_in_ms must be at most %d", MaxSessionExpiresInMS)
	}
	return nil
}

func validateMaxPayload(v *uint64) error {
	if v != nil && (*v == 0 || *v > MaxPayloadSize) {
		return invalid("max_payload_size must be in 1..%d", MaxPayloadSize)
	}
	return nil
}

// NamespaceInfo describes a namespace.
type NamespaceInfo struct {
	Name               string                      `json:"name"`
	Desc               string                      `json:"desc"`
	CreatedAt          uint64                      `json:"created_at"`
	UpdatedAt          uint64                      `json:"updated_at"`
	MaxPayloadSize     uint64                      `json:"max_payload_size"`
	PayloadBytesTotal  uint64                      `json:"payload_bytes_total"`
	Status             int8                        `json:"status"`
	Visibility         uint8                       `json:"visibility"`
	Managers           store.Principals            `json:"managers"`
	Auditors           store.Principals            `json:"auditors"`
	Users              store.Principals            `json:"users"`
	FixedIDNames       map[string]store.Principals `json:"fixed_id_names,omitempty"`
	SessionExpiresInMS uint64                      `json:"session_expires_in_ms"`
	GasBalance         uint64                      `json:"gas_balance"`
}

func namespaceInfo(ns *store.Namespace) *NamespaceInfo {
	c := ns.Clone()
	return &NamespaceInfo{
		Name:               c.Name,
		Desc:               c.Desc,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		MaxPayloadSize:     c.MaxPayloadSize,
		PayloadBytesTotal:  c.PayloadBytesTotal,
		Status:             c.Status,
		Visibility:         c.Visibility,
		Managers:           c.Managers,
		Auditors:           c.Auditors,
		Users:              c.Users,
		FixedIDNames:       c.FixedIDNames,
		SessionExpiresInMS: c.SessionExpiresInMS,
		GasBalance:         c.GasBalance,
	}
}

// CreateNamespaceInput creates a namespace. Managers must not be empty.
type CreateNamespaceInput struct {
	Name               string            `json:"name"`
	Desc               string            `json:"desc,omitempty"`
	MaxPayloadSize     *uint64           `json:"max_payload_size,omitempty"`
	Managers           []store.Principal `json:"managers"`
	Auditors           []store.Principal `json:"auditors,omitempty"`
	Users              []store.Principal `json:"users,omitempty"`
	Visibility         uint8             `json:"visibility"`
	SessionExpiresInMS *uint64           `json:"session_expires_in_ms,omitempty"`
}

// Validate checks the input before any state is read.
func (in *CreateNamespaceInput) Validate() error {
	if err := validateName("namespace", in.Name); err != nil {
		return err
	}
	if err := validatePrincipals(in.Managers); err != nil {
		return err
	}
	for _, set := range [][]store.Principal{in.Auditors, in.Users} {
		if len(set) > 0 {
			if err := validatePrincipals(set); err != nil {
				return err
			}
		}
	}
	if err := validateMaxPayload(in.MaxPayloadSize); err != nil {
		return err
	}
	if in.Visibility > store.VisibilityPublic {
		return invalid("visibility must be 0 or 1")
	}
	return validateSession(in.SessionExpiresInMS)
}

// UpdateNamespaceInput patches namespace fields; nil fields are unchanged.
type UpdateNamespaceInput struct {
	Name               string  `json:"name"`
	Desc               *string `json:"desc,omitempty"`
	MaxPayloadSize     *uint64 `json:"max_payload_size,omitempty"`
	Status             *int8   `json:"status,omitempty"`
	Visibility         *uint8  `json:"visibility,omitempty"`
	SessionExpiresInMS *uint64 `json:"session_expires_in_ms,omitempty"`
}

// Validate checks the patch.
func (in *UpdateNamespaceInput) Validate() error {
	if err := validateName("namespace", in.Name); err != nil {
		return err
	}
	if err := validateMaxPayload(in.MaxPayloadSize); err != nil {
		return err
	}
	if err := validateStatus(in.Status, store.StatusArchived); err != nil {
		return err
	}
	if in.Visibility != nil && *in.Visibility > store.VisibilityPublic {
		return invalid("visibility must be 0 or 1")
	}
	return validateSession(in.SessionExpiresInMS)
}

// MemberKind selects one of a namespace's principal sets.
type MemberKind string

const (
	MemberManager MemberKind = "manager"
	MemberAuditor MemberKind = "auditor"
	MemberUser    MemberKind = "user"
)

// NamespaceDelegatorsInput changes the delegators of a fixed identity name.
type NamespaceDelegatorsInput struct {
	NS         string            `json:"ns"`
	Name       string            `json:"name"`
	Delegators []store.Principal `json:"delegators"`
}

// Validate checks names and principals.
func (in *NamespaceDelegatorsInput) Validate() error {
	if err := validateName("namespace", in.NS); err != nil {
		return err
	}
	if err := validateName("name", in.Name); err != nil {
		return err
	}
	return validatePrincipals(in.Delegators)
}

// SignDelegationInput requests a delegation for a fixed identity. PublicKey
// is an SSH wire-format session key and Sig an SSH signature over the
// challenge CBOR [ns, name, caller].
type SignDelegationInput struct {
	NS        string `json:"ns"`
	Name      string `json:"name"`
	PublicKey []byte `json:"pubkey"`
	Sig       []byte `json:"sig"`
}

// SettingPath addresses a setting. Subject defaults to the caller and
// Version is the version the caller expects (0 for the current one).
type SettingPath struct {
	NS        string           `json:"ns"`
	UserOwned bool             `json:"user_owned"`
	Subject   *store.Principal `json:"subject,omitempty"`
	Key       []byte           `json:"key"`
	Version   uint32           `json:"version"`
}

// Validate checks the namespace name and key length.
func (p SettingPath) Validate() error {
	if err := validateName("namespace", p.NS); err != nil {
		return err
	}
	if len(p.Key) > MaxSettingKeySize {
		return invalid("key length exceeds %d bytes", MaxSettingKeySize)
	}
	return nil
}

// pathKey resolves p for caller.
func (p SettingPath) pathKey(caller store.Principal) store.SettingPathKey {
	subject := caller
	if p.Subject != nil {
		subject = *p.Subject
	}
	scope := store.ScopeServer
	if p.UserOwned {
		scope = store.ScopeUser
	}
	return store.SettingPathKey{
		Namespace: p.NS,
		Scope:     scope,
		Subject:   subject,
		Key:       p.Key,
		Version:   p.Version,
	}
}

// SettingInfo describes a setting. Payload and DEK are only filled by
// reads that return content.
type SettingInfo struct {
	Key       []byte            `json:"key"`
	Subject   store.Principal   `json:"subject"`
	Desc      string            `json:"desc"`
	CreatedAt uint64            `json:"created_at"`
	UpdatedAt uint64            `json:"updated_at"`
	Status    int8              `json:"status"`
	Version   uint32            `json:"version"`
	Readers   store.Principals  `json:"readers"`
	Tags      map[string]string `json:"tags"`
	DEK       []byte            `json:"dek,omitempty"`
	Payload   []byte            `json:"payload,omitempty"`
}

func settingInfo(key store.SettingPathKey, s *store.Setting) *SettingInfo {
	c := s.Clone()
	return &SettingInfo{
		Key:       key.Key,
		Subject:   key.Subject,
		Desc:      c.Desc,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Status:    c.Status,
		Version:   c.Version,
		Readers:   c.Readers,
		Tags:      c.Tags,
	}
}

// CreateSettingInput creates a setting. With a DEK both DEK and Payload
// must be COSE_Encrypt0 items; without one, Payload is plaintext CBOR whose
// major type must match ContentType when it is set.
type CreateSettingInput struct {
	Payload     []byte            `json:"payload,omitempty"`
	ContentType uint8             `json:"ctype,omitempty"`
	Desc        string            `json:"desc,omitempty"`
	Status      *int8             `json:"status,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	DEK         []byte            `json:"dek,omitempty"`
}

// Validate checks status, tags and content type.
func (in *CreateSettingInput) Validate() error {
	if err := validateStatus(in.Status, store.StatusReadWrite); err != nil {
		return err
	}
	if !cose.ValidContentType(in.ContentType) {
		return invalid("unsupported ctype %d", in.ContentType)
	}
	return validateTags(in.Tags)
}

// CreateSettingOutput reports the timestamps and version after a write.
type CreateSettingOutput struct {
	CreatedAt uint64 `json:"created_at"`
	UpdatedAt uint64 `json:"updated_at"`
	Version   uint32 `json:"version"`
}

// UpdateSettingOutput has the same shape as CreateSettingOutput.
type UpdateSettingOutput = CreateSettingOutput

// UpdateSettingInfoInput patches setting metadata. A nil Tags map leaves
// tags unchanged.
type UpdateSettingInfoInput struct {
	Desc   *string           `json:"desc,omitempty"`
	Status *int8             `json:"status,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Validate checks status and tags.
func (in *UpdateSettingInfoInput) Validate() error {
	if err := validateStatus(in.Status, store.StatusArchived); err != nil {
		return err
	}
	return validateTags(in.Tags)
}

// UpdateSettingPayloadInput replaces a setting's payload. The expected
// version travels in the SettingPath.
type UpdateSettingPayloadInput struct {
	Payload          []byte `json:"payload"`
	ContentType      uint8  `json:"ctype,omitempty"`
	Status           *int8  `json:"status,omitempty"`
	DEK              []byte `json:"dek,omitempty"`
	DeprecateCurrent bool   `json:"deprecate_current,omitempty"`
}

// Validate checks the payload is present, then status and content type.
func (in *UpdateSettingPayloadInput) Validate() error {
	if len(in.Payload) == 0 {
		return invalid("payload is required")
	}
	if err := validateStatus(in.Status, store.StatusArchived); err != nil {
		return err
	}
	if !cose.ValidContentType(in.ContentType) {
		return invalid("unsupported ctype %d", in.ContentType)
	}
	return nil
}

// SettingArchivedPayload is a superseded payload.
type SettingArchivedPayload struct {
	Version    uint32 `json:"version"`
	ArchivedAt uint64 `json:"archived_at"`
	Deprecated bool   `json:"deprecated"`
	Payload    []byte `json:"payload,omitempty"`
	DEK        []byte `json:"dek,omitempty"`
}

// ECDHInput carries the client's X25519 public key and a 12-byte nonce.
// KeyID selects the KEK for ecdh_cose_encrypted_key and defaults to the
// setting key.
type ECDHInput struct {
	Nonce     []byte `json:"nonce"`
	PublicKey []byte `json:"public_key"`
	KeyID     []byte `json:"key_id,omitempty"`
}

func (in *ECDHInput) parse() (nonce [cose.NonceSize]byte, pub [32]byte, err error) {
	if len(in.Nonce) != cose.NonceSize {
		return nonce, pub, invalid("nonce must be %d bytes", cose.NonceSize)
	}
	if len(in.PublicKey) != 32 {
		return nonce, pub, invalid("public key must be 32 bytes")
	}
	copy(nonce[:], in.Nonce)
	copy(pub[:], in.PublicKey)
	return nonce, pub, nil
}

// ECDHOutput is a payload sealed under the ECDH shared secret together
// with the server's ephemeral public key.
type ECDHOutput[T any] struct {
	Payload   T      `json:"payload"`
	PublicKey []byte `json:"public_key"`
}

// VetKDInput requests an encrypted vetKD key.
type VetKDInput struct {
	KeyID              []byte `json:"key_id,omitempty"`
	TransportPublicKey []byte `json:"transport_public_key"`
}

// SigningAlgorithm selects the namespace signing key family.
type SigningAlgorithm string

const (
	AlgorithmECDSA   SigningAlgorithm = "ecdsa"
	AlgorithmSchnorr SigningAlgorithm = "schnorr"
)

func (a SigningAlgorithm) label() (string, error) {
	switch a {
	case AlgorithmECDSA, "":
		return keyring.LabelECDSASigning, nil
	case AlgorithmSchnorr:
		return keyring.LabelSchnorrSigning, nil
	default:
		return "", invalid("unknown algorithm %q", string(a))
	}
}

// PublicKeyInput asks for a namespace signing key. An empty NS returns
// the gateway-wide key.
type PublicKeyInput struct {
	NS             string           `json:"ns,omitempty"`
	Algorithm      SigningAlgorithm `json:"algorithm,omitempty"`
	DerivationPath [][]byte         `json:"derivation_path,omitempty"`
}

// PublicKeyOutput is a public key in the signer's encoding.
type PublicKeyOutput struct {
	PublicKey []byte `json:"public_key"`
}

// SignInput signs a message with a namespace key.
type SignInput struct {
	NS             string           `json:"ns"`
	Algorithm      SigningAlgorithm `json:"algorithm,omitempty"`
	DerivationPath [][]byte         `json:"derivation_path,omitempty"`
	Message        []byte           `json:"message"`
}

// SignIdentityInput requests an identity token for a namespace.
type SignIdentityInput struct {
	NS       string `json:"ns"`
	Audience string `json:"audience"`
}

// StateInfo describes gateway-wide state. Key names and the allow-list are
// only shown to global managers and auditors.
type StateInfo struct {
	Name           string           `json:"name"`
	KeyName        string           `json:"key_name,omitempty"`
	Managers       store.Principals `json:"managers"`
	Auditors       store.Principals `json:"auditors"`
	AllowedAPIs    []string         `json:"allowed_apis,omitempty"`
	NamespaceTotal int              `json:"namespace_total"`
}

// SettingKey is one entry of a setting listing.
type SettingKey struct {
	Subject store.Principal `json:"subject"`
	Key     []byte          `json:"key"`
	Version uint32          `json:"version"`
}

func (k SettingKey) String() string {
	return fmt.Sprintf("%s/%x@%d", k.Subject, k.Key, k.Version)
}

// GetDelegationInput identifies a delegation issued earlier.
type GetDelegationInput struct {
	Seed       []byte `json:"seed"`
	PublicKey  []byte `json:"pubkey"`
	Expiration uint64 `json:"expiration"`
}
