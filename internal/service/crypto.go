// ABOUTME: Key delivery operations: ECDH re-encryption, vetKD, namespace signing
// ABOUTME: Oracle calls run unlocked; permissions are re-checked once they return

package service

import (
	"context"
	"fmt"
	"io"

	"github.com/2389/cose-gateway/internal/cose"
	"github.com/2389/cose-gateway/internal/keyring"
	"github.com/2389/cose-gateway/internal/store"
)

func oracleScope(key store.SettingPathKey) keyring.Scope {
	return keyring.Scope{Namespace: key.Namespace, Scope: key.Scope, Subject: string(key.Subject)}
}

// recheckKEK re-reads the namespace after an oracle call and confirms the
// caller still holds KEK permission.
func (s *Service) recheckKEK(ctx context.Context, caller store.Principal, key store.SettingPathKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := s.namespace(ctx, key.Namespace)
	if err != nil {
		return err
	}
	if !ns.HasKEKPermission(caller, key) {
		return denied("caller lost key permission for %s", key)
	}
	return nil
}

// checkKEK verifies KEK permission. Callers hold mu.
func (s *Service) checkKEK(ctx context.Context, caller store.Principal, key store.SettingPathKey) error {
	ns, err := s.namespace(ctx, key.Namespace)
	if err != nil {
		return err
	}
	if !ns.HasKEKPermission(caller, key) {
		return denied("caller has no key permission for %s", key)
	}
	return nil
}

// exchange consumes the request nonce and seals plaintext to the client
// under a fresh ECDH shared secret, bound to aad.
func (s *Service) exchange(in *ECDHInput, plaintext, aad []byte) ([]byte, []byte, error) {
	nonce, clientPub, err := in.parse()
	if err != nil {
		return nil, nil, err
	}
	shared, serverPub, err := cose.ServerExchange(s.rand, clientPub, nonce)
	if err != nil {
		return nil, nil, err
	}
	sealed, err := cose.EncodeEncrypt0(plaintext, shared, aad, nonce, nil)
	if err != nil {
		return nil, nil, err
	}
	return sealed, serverPub[:], nil
}

func (s *Service) useNonce(caller store.Principal, in *ECDHInput) error {
	if _, _, err := in.parse(); err != nil {
		return err
	}
	if s.replay == nil {
		return nil
	}
	return s.replay.Use(string(caller), in.PublicKey, in.Nonce)
}

// openDEK recovers the plaintext of an envelope-encrypted payload: the
// KEK unwraps the dek, whose symmetric key opens the payload.
func (s *Service) openDEK(ctx context.Context, key store.SettingPathKey, payload, dek []byte) ([]byte, error) {
	wrapped, err := cose.ParseEncrypt0(dek)
	if err != nil {
		return nil, err
	}
	keyID := wrapped.KeyID()
	if len(keyID) == 0 {
		keyID = key.Key
	}
	kek, err := s.oracle.DeriveKEK(ctx, oracleScope(key), keyID)
	if err != nil {
		return nil, err
	}
	aad := key.Subject.Bytes()
	raw, err := wrapped.Decrypt(kek, aad)
	if err != nil {
		return nil, err
	}
	coseKey, err := cose.ParseKey(raw)
	if err != nil {
		return nil, err
	}
	secret, err := cose.UnwrapSymmetricKey(coseKey)
	if err != nil {
		return nil, err
	}
	return cose.DecodeEncrypt0(payload, secret, aad)
}

// ECDHSettingGet reads a setting and returns its payload sealed to the
// caller's ephemeral X25519 key. Envelope-encrypted payloads are opened
// server-side first, which requires KEK permission.
func (s *Service) ECDHSettingGet(ctx context.Context, caller store.Principal, path SettingPath, in *ECDHInput) (out *ECDHOutput[*SettingInfo], err error) {
	ctx, done := s.begin(ctx, MethodECDHSettingGet)
	defer done(&err)

	if err := authenticated(caller); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	_, setting, err := s.readableSetting(ctx, caller, key)
	var payload, dek []byte
	if err == nil {
		payload, dek, err = s.content(ctx, key, setting)
	}
	if err == nil && len(dek) > 0 {
		err = s.checkKEK(ctx, caller, key)
	}
	if err == nil {
		err = s.useNonce(caller, in)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	info := settingInfo(key, setting)
	if key.Version != 0 {
		info.Version = key.Version
	}
	data := payload
	if len(dek) > 0 {
		if data, err = s.openDEK(ctx, key, payload, dek); err != nil {
			return nil, err
		}
		if err := s.recheckKEK(ctx, caller, key); err != nil {
			return nil, err
		}
	}

	sealed, pub, err := s.exchange(in, data, key.Subject.Bytes())
	if err != nil {
		return nil, err
	}
	info.Payload = sealed
	return &ECDHOutput[*SettingInfo]{Payload: info, PublicKey: pub}, nil
}

// ECDHCoseEncryptedKey derives the KEK for path and returns it as a
// COSE_Key sealed to the caller's ephemeral X25519 key, AAD = subject.
func (s *Service) ECDHCoseEncryptedKey(ctx context.Context, caller store.Principal, path SettingPath, in *ECDHInput) (out *ECDHOutput[[]byte], err error) {
	ctx, done := s.begin(ctx, MethodECDHCoseEncryptedKey)
	defer done(&err)

	if err := authenticated(caller); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	err = s.checkKEK(ctx, caller, key)
	if err == nil {
		err = s.useNonce(caller, in)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	keyID := in.KeyID
	if len(keyID) == 0 {
		keyID = key.Key
	}
	kek, err := s.oracle.DeriveKEK(ctx, oracleScope(key), keyID)
	if err != nil {
		return nil, err
	}
	if err := s.recheckKEK(ctx, caller, key); err != nil {
		return nil, err
	}

	encoded, err := cose.Marshal(cose.WrapSymmetricKey(kek, keyID))
	if err != nil {
		return nil, fmt.Errorf("encoding key: %w", err)
	}
	sealed, pub, err := s.exchange(in, encoded, key.Subject.Bytes())
	if err != nil {
		return nil, err
	}
	return &ECDHOutput[[]byte]{Payload: sealed, PublicKey: pub}, nil
}

// VetKDPublicKey returns the vetKD public key of the setting's scope.
func (s *Service) VetKDPublicKey(ctx context.Context, caller store.Principal, path SettingPath) (pub []byte, err error) {
	ctx, done := s.begin(ctx, MethodVetKDPublicKey)
	defer done(&err)

	if err := path.Validate(); err != nil {
		return nil, err
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	ns, err := s.namespace(ctx, key.Namespace)
	if err == nil && !ns.CanRead(caller) {
		err = denied("caller cannot read namespace %s", key.Namespace)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.oracle.VetKDPublicKey(ctx, oracleScope(key))
}

// VetKDEncryptedKey returns the vetKD key for key_id (default: the setting
// key) encrypted to the caller's transport key.
func (s *Service) VetKDEncryptedKey(ctx context.Context, caller store.Principal, path SettingPath, in *VetKDInput) (encrypted []byte, err error) {
	ctx, done := s.begin(ctx, MethodVetKDEncryptedKey)
	defer done(&err)

	if err := authenticated(caller); err != nil {
		return nil, err
	}
	if err := path.Validate(); err != nil {
		return nil, err
	}
	if len(in.TransportPublicKey) == 0 {
		return nil, invalid("transport public key is required")
	}
	key := path.pathKey(caller)

	s.mu.Lock()
	err = s.checkKEK(ctx, caller, key)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	keyID := in.KeyID
	if len(keyID) == 0 {
		keyID = key.Key
	}
	encrypted, err = s.oracle.VetKDEncryptedKey(ctx, oracleScope(key), keyID, in.TransportPublicKey)
	if err != nil {
		return nil, err
	}
	if err := s.recheckKEK(ctx, caller, key); err != nil {
		return nil, err
	}
	return encrypted, nil
}

func signingPath(ns string, derivation [][]byte) [][]byte {
	path := make([][]byte, 0, len(derivation)+1)
	path = append(path, []byte(ns))
	return append(path, derivation...)
}

// NamespacePublicKey returns a namespace signing public key, or the
// gateway-wide key when in.NS is empty.
func (s *Service) NamespacePublicKey(ctx context.Context, caller store.Principal, in *PublicKeyInput) (out *PublicKeyOutput, err error) {
	ctx, done := s.begin(ctx, MethodNamespacePublicKey)
	defer done(&err)

	label, err := in.Algorithm.label()
	if err != nil {
		return nil, err
	}
	var path [][]byte
	if in.NS != "" {
		s.mu.Lock()
		ns, err := s.namespace(ctx, in.NS)
		if err == nil && !ns.CanRead(caller) {
			err = denied("caller cannot read namespace %s", in.NS)
		}
		s.mu.Unlock()
		if err != nil {
			return nil, err
		}
		path = signingPath(in.NS, in.DerivationPath)
	}
	pub, err := s.oracle.PublicKey(ctx, label, path)
	if err != nil {
		return nil, err
	}
	return &PublicKeyOutput{PublicKey: pub}, nil
}

// NamespaceSign signs a message with a namespace key. Managers and users
// may sign; in an archived namespace only managers.
func (s *Service) NamespaceSign(ctx context.Context, caller store.Principal, in *SignInput) (sig []byte, err error) {
	ctx, done := s.begin(ctx, MethodNamespaceSign)
	defer done(&err)

	if err := authenticated(caller); err != nil {
		return nil, err
	}
	label, err := in.Algorithm.label()
	if err != nil {
		return nil, err
	}
	if err := validateName("namespace", in.NS); err != nil {
		return nil, err
	}

	s.mu.Lock()
	ns, err := s.namespace(ctx, in.NS)
	if err == nil && !ns.HasSigningPermission(caller) {
		err = denied("caller cannot sign for namespace %s", in.NS)
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.oracle.Sign(ctx, label, signingPath(in.NS, in.DerivationPath), in.Message)
}

// identityScope returns the capability string for caller's role in ns.
func identityScope(ns *store.Namespace, caller store.Principal) (string, error) {
	name := ns.Name
	switch {
	case ns.Managers.Has(caller):
		return "Namespace.*:" + name, nil
	case ns.Users.Has(caller) && ns.Auditors.Has(caller):
		return "Namespace.Read:" + name + " Namespace.*.SubjectedSetting:" + name, nil
	case ns.Users.Has(caller):
		return "Namespace.Read.Info:" + name + " Namespace.*.SubjectedSetting:" + name, nil
	case ns.Auditors.Has(caller):
		return "Namespace.Read:" + name, nil
	}
	return "", denied("caller has no role in namespace %s", name)
}

// SignIdentity issues a CWT asserting caller's role in a namespace for
// audience. The token is bound to the caller through its external AAD.
func (s *Service) SignIdentity(ctx context.Context, caller store.Principal, in *SignIdentityInput) (token []byte, err error) {
	ctx, done := s.begin(ctx, MethodSignIdentity)
	defer done(&err)

	if err := authenticated(caller); err != nil {
		return nil, err
	}
	if err := validateName("namespace", in.NS); err != nil {
		return nil, err
	}

	s.mu.Lock()
	var scope, issuer string
	ns, err := s.namespace(ctx, in.NS)
	if err == nil {
		scope, err = identityScope(ns, caller)
	}
	if err == nil {
		var st *store.State
		if st, err = s.state(ctx); err == nil {
			issuer = st.Name
		}
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cti := make([]byte, 16)
	if _, err := io.ReadFull(s.rand, cti); err != nil {
		return nil, fmt.Errorf("generating token id: %w", err)
	}
	now := s.now().Unix()
	claims := &cose.Claims{
		Issuer:     issuer,
		Subject:    string(caller),
		Audience:   in.Audience,
		Expiration: now + IdentityTokenTTL,
		NotBefore:  now,
		IssuedAt:   now,
		ID:         cti,
		Scope:      scope,
	}
	return cose.EncodeCWT(claims, caller.Bytes(), func(tbs []byte) ([]byte, error) {
		return s.oracle.Sign(ctx, keyring.LabelIdentity, nil, tbs)
	})
}

// IdentityPublicKey returns the key that verifies SignIdentity tokens.
func (s *Service) IdentityPublicKey(ctx context.Context) (pub []byte, err error) {
	ctx, done := s.begin(ctx, MethodIdentityPublicKey)
	defer done(&err)

	return s.oracle.PublicKey(ctx, keyring.LabelIdentity, nil)
}
