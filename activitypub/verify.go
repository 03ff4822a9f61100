package activitypub

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/mkweber/inkpot/domain"
)

// Verifier decides whether an inbound delivery can be trusted. The request
// is trusted when either the HTTP-header signature or the embedded object
// signature validates against the signer's current key; a failed check
// triggers one authoritative refetch of the signer (key rotation) before
// the request is rejected.
type Verifier struct {
	resolver *Resolver
}

func NewVerifier(resolver *Resolver) *Verifier {
	return &Verifier{resolver: resolver}
}

// VerifyRequest validates an inbound delivery and returns the signer.
func (v *Verifier) VerifyRequest(ctx context.Context, r *http.Request, body []byte) (*domain.Actor, error) {
	sig, sigErr := ParseSignature(r)
	if sigErr != nil {
		// No usable header signature. The embedded object signature is an
		// independent trust path, so try it before giving up; the signer
		// is then taken from the document's actor field.
		return v.verifyObjectOnly(ctx, body, sigErr)
	}

	actor, err := v.resolver.ResolveActor(ctx, sig.ActorURI())
	if err != nil {
		return nil, err
	}

	if v.trusted(r, body, sig, actor) {
		return actor, nil
	}

	// Maybe we just know an old key: refetch once, bypassing the cache,
	// and retry with the refreshed key.
	refreshed, err := v.resolver.RefetchActor(ctx, actor.URI)
	if err != nil {
		log.Warn("Verifier: refetch after failed verification", "actor", actor.URI, "err", err)
		return nil, ErrInvalidSignature
	}
	if v.trusted(r, body, sig, refreshed) {
		return refreshed, nil
	}

	log.Warn("Rejected invalid activity", "actor", actor.URI, "keyId", sig.KeyID)
	return nil, ErrInvalidSignature
}

func (v *Verifier) trusted(r *http.Request, body []byte, sig *Signature, actor *domain.Actor) bool {
	if v.headerTrusted(r, body, sig, actor) {
		return true
	}
	return VerifyObjectSignature(body, actor.PublicKeyPem) == nil
}

// headerTrusted checks the HTTP-header trust path. The digest binds the body
// to the signed headers, so a mismatch voids this path only; the embedded
// object signature is judged on its own.
func (v *Verifier) headerTrusted(r *http.Request, body []byte, sig *Signature, actor *domain.Actor) bool {
	if err := CheckDigest(r.Header, body); err != nil {
		log.Debug("Verifier: digest mismatch", "actor", actor.URI)
		return false
	}
	signed, err := BuildSigningString(r.Header, r.Method, RequestTarget(r), sig.Headers)
	if err != nil {
		log.Debug("Verifier: signing string not buildable", "err", err)
		return false
	}
	return VerifySigningString(actor.PublicKeyPem, signed, sig.Value) == nil
}

func (v *Verifier) verifyObjectOnly(ctx context.Context, body []byte, sigErr error) (*domain.Actor, error) {
	var env struct {
		Actor ObjectRef `json:"actor"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Actor.ID == "" {
		return nil, sigErr
	}

	actor, err := v.resolver.ResolveActor(ctx, env.Actor.ID)
	if err != nil {
		return nil, err
	}
	if VerifyObjectSignature(body, actor.PublicKeyPem) == nil {
		return actor, nil
	}

	refreshed, err := v.resolver.RefetchActor(ctx, actor.URI)
	if err == nil && VerifyObjectSignature(body, refreshed.PublicKeyPem) == nil {
		return refreshed, nil
	}
	return nil, sigErr
}
