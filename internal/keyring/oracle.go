// ABOUTME: Oracle derives KEKs and forwards vetKD requests for a tenant scope
// ABOUTME: Every call is traced and reported to an optional observer

package keyring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/cose-gateway/internal/cose"
)

const tracerName = "github.com/2389/cose-gateway/internal/keyring"

// Scope identifies the tenant a key belongs to: a namespace, the setting
// scope (0 server-owned, 1 user-owned) and the subject principal.
type Scope struct {
	Namespace string
	Scope     uint8
	Subject   string
}

// Path returns the derivation path [subject, [scope], namespace].
func (s Scope) Path() [][]byte {
	return [][]byte{[]byte(s.Subject), {s.Scope}, []byte(s.Namespace)}
}

// Observer receives the outcome of every oracle call.
type Observer interface {
	ObserveOracleCall(op string, d time.Duration, err error)
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithObserver reports call latency and failures to obs.
func WithObserver(obs Observer) Option {
	return func(o *Oracle) { o.observer = obs }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Oracle) { o.tracer = tp.Tracer(tracerName) }
}

// Oracle is the gateway's single entry point to key material.
type Oracle struct {
	signer   DeterministicSigner
	vetkd    VetKD
	observer Observer
	tracer   trace.Tracer
}

// NewOracle wires a signer and an optional vetKD provider.
func NewOracle(signer DeterministicSigner, vetkd VetKD, opts ...Option) *Oracle {
	o := &Oracle{
		signer: signer,
		vetkd:  vetkd,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DeriveKEK recomputes the key-encryption key for keyID in scope:
// sig = Sign(LabelSymmetricKey, scope.Path(), MAC(ns, keyID)); kek = MAC(ns, sig).
func (o *Oracle) DeriveKEK(ctx context.Context, scope Scope, keyID []byte) (kek [cose.KeySize]byte, err error) {
	ctx, done := o.start(ctx, "derive_kek", scope)
	defer func() { done(err) }()

	ns := []byte(scope.Namespace)
	msg := cose.MACSHA3(ns, keyID)
	sig, err := o.signer.Sign(ctx, LabelSymmetricKey, scope.Path(), msg[:])
	if err != nil {
		return kek, oracleError(err)
	}
	return cose.MACSHA3(ns, sig), nil
}

// VetKDPublicKey returns the vetKD public key for scope.
func (o *Oracle) VetKDPublicKey(ctx context.Context, scope Scope) (pub []byte, err error) {
	if o.vetkd == nil {
		return nil, fmt.Errorf("%w: vetkd is not configured", ErrOracle)
	}
	ctx, done := o.start(ctx, "vetkd_public_key", scope)
	defer func() { done(err) }()

	pub, err = o.vetkd.PublicKey(ctx, scope.Path())
	if err != nil {
		return nil, oracleError(err)
	}
	return pub, nil
}

// VetKDEncryptedKey derives the vetKD key for keyID in scope, encrypted to
// transportPublicKey.
func (o *Oracle) VetKDEncryptedKey(ctx context.Context, scope Scope, keyID, transportPublicKey []byte) (key []byte, err error) {
	if o.vetkd == nil {
		return nil, fmt.Errorf("%w: vetkd is not configured", ErrOracle)
	}
	ctx, done := o.start(ctx, "vetkd_encrypted_key", scope)
	defer func() { done(err) }()

	key, err = o.vetkd.EncryptedKey(ctx, scope.Path(), keyID, transportPublicKey)
	if err != nil {
		return nil, oracleError(err)
	}
	return key, nil
}

// Sign signs message under label and path.
func (o *Oracle) Sign(ctx context.Context, label string, path [][]byte, message []byte) (sig []byte, err error) {
	ctx, done := o.start(ctx, "sign", Scope{}, attribute.String("cose.label", label))
	defer func() { done(err) }()

	sig, err = o.signer.Sign(ctx, label, path, message)
	if err != nil {
		return nil, oracleError(err)
	}
	return sig, nil
}

// PublicKey returns the public key for label and path.
func (o *Oracle) PublicKey(ctx context.Context, label string, path [][]byte) (pub []byte, err error) {
	ctx, done := o.start(ctx, "public_key", Scope{}, attribute.String("cose.label", label))
	defer func() { done(err) }()

	pub, err = o.signer.PublicKey(ctx, label, path)
	if err != nil {
		return nil, oracleError(err)
	}
	return pub, nil
}

func (o *Oracle) start(ctx context.Context, op string, scope Scope, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	if scope.Namespace != "" {
		attrs = append(attrs,
			attribute.String("cose.namespace", scope.Namespace),
			attribute.Int("cose.scope", int(scope.Scope)),
		)
	}
	ctx, span := o.tracer.Start(ctx, "keyring."+op, trace.WithAttributes(attrs...))
	started := time.Now()

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if o.observer != nil {
			o.observer.ObserveOracleCall(op, time.Since(started), err)
		}
	}
}

func oracleError(err error) error {
	if errors.Is(err, ErrOracle) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrOracle, err)
}
