package activitypub

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

// RequestTarget builds the value of the synthetic (request-target)
// pseudo-header: the request path plus the query string if present.
func RequestTarget(r *http.Request) string {
	if r.URL.RawQuery != "" {
		return r.URL.Path + "?" + r.URL.RawQuery
	}
	return r.URL.Path
}

// BuildSigningString produces the newline-joined "name: value" pairs for
// exactly the headers a signature claims to cover, in the claimed order.
// The synthetic (request-target) header is lowercased method + target.
func BuildSigningString(headers http.Header, method, target string, covered []string) (string, error) {
	lines := make([]string, 0, len(covered))
	for _, name := range covered {
		name = strings.ToLower(name)
		if name == "(request-target)" {
			lines = append(lines, fmt.Sprintf("(request-target): %s %s", strings.ToLower(method), target))
			continue
		}
		values := headers.Values(http.CanonicalHeaderKey(name))
		if len(values) == 0 {
			return "", fmt.Errorf("%w: claimed header %q not in request", ErrMalformedSignature, name)
		}
		lines = append(lines, fmt.Sprintf("%s: %s", name, strings.Join(values, ", ")))
	}
	return strings.Join(lines, "\n"), nil
}

// Signature is the parsed, per-request signature. It exists only for the
// duration of verification and is never persisted.
type Signature struct {
	KeyID     string
	Algorithm string
	Headers   []string
	Value     []byte
}

// ActorURI derives the owning actor URI from the keyId
// ("https://example.com/users/alice#main-key" -> ".../users/alice").
func (s *Signature) ActorURI() string {
	return strings.Split(s.KeyID, "#")[0]
}

// ParseSignature extracts the signature parameters from the Signature
// header, falling back to an Authorization header of type Signature.
func ParseSignature(r *http.Request) (*Signature, error) {
	raw := r.Header.Get("Signature")
	if raw == "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return nil, ErrNoSignatureHeader
		}
		if !strings.HasPrefix(auth, "Signature ") {
			return nil, ErrNoSignatureType
		}
		raw = strings.TrimPrefix(auth, "Signature ")
	}

	sig := &Signature{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q", ErrMalformedSignature, part)
		}
		v = strings.Trim(v, `"`)
		switch k {
		case "keyId":
			sig.KeyID = v
		case "algorithm":
			sig.Algorithm = v
		case "headers":
			sig.Headers = strings.Fields(strings.ToLower(v))
		case "signature":
			dec, err := base64.StdEncoding.DecodeString(v)
			if err != nil {
				return nil, fmt.Errorf("%w: signature is not base64", ErrMalformedSignature)
			}
			sig.Value = dec
		}
	}

	if sig.KeyID == "" {
		return nil, fmt.Errorf("%w: missing keyId", ErrMalformedSignature)
	}
	if len(sig.Value) == 0 {
		return nil, ErrNoSignatureValue
	}
	if len(sig.Headers) == 0 {
		// Per the signature draft, an absent headers list covers only Date.
		sig.Headers = []string{"date"}
	}
	return sig, nil
}

// CheckDigest verifies the body hash against a claimed Digest header. A
// request that claims no digest binds trust to the covered headers alone.
func CheckDigest(headers http.Header, body []byte) error {
	claimed := headers.Get("Digest")
	if claimed == "" {
		return nil
	}
	alg, val, ok := strings.Cut(claimed, "=")
	if !ok || !strings.EqualFold(alg, "SHA-256") {
		return ErrDigestMismatch
	}
	sum := sha256.Sum256(body)
	if val != base64.StdEncoding.EncodeToString(sum[:]) {
		return ErrDigestMismatch
	}
	return nil
}

// BodyDigest computes the Digest header value for an outgoing body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// VerifySigningString checks an RSA-SHA256 signature over the signing string.
func VerifySigningString(publicKeyPem, signed string, sig []byte) error {
	pub, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return err
	}
	hashed := sha256.Sum256([]byte(signed))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hashed[:], sig); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/users/alice#main-key"
func SignRequest(req *http.Request, body []byte, privateKey *rsa.PrivateKey, keyId string) error {
	covered := []string{"(request-target)", "host", "date"}
	if body != nil {
		covered = append(covered, "digest")
	}

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		covered,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	if req.Header.Get("Date") == "" {
		req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	}
	if req.Header.Get("Host") == "" {
		req.Header.Set("Host", req.URL.Host)
	}

	return signer.SignRequest(privateKey, keyId, req, body)
}

// ObjectSignature is the embedded object-level signature carried inside an
// activity document, evaluated without regard to HTTP headers.
type ObjectSignature struct {
	Type           string `json:"type"`
	Creator        string `json:"creator"`
	Created        string `json:"created"`
	SignatureValue string `json:"signatureValue"`
}

// objectSigningString rebuilds the string an embedded signature covers: the
// created timestamp concatenated with the hex SHA-256 of the document with
// the signature member removed. Marshaling through a map gives sorted keys,
// which is the canonical form both sides agree on.
func objectSigningString(doc map[string]interface{}, created string) (string, error) {
	stripped := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "signature" {
			continue
		}
		stripped[k] = v
	}
	canonical, err := json.Marshal(stripped)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return created + hex.EncodeToString(sum[:]), nil
}

// VerifyObjectSignature validates the embedded signature of an activity
// document against a public key. ErrNoSignatureValue means the document
// carries no embedded signature at all.
func VerifyObjectSignature(body []byte, publicKeyPem string) error {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	rawSig, ok := doc["signature"]
	if !ok {
		return ErrNoSignatureValue
	}
	sigJSON, err := json.Marshal(rawSig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	var sig ObjectSignature
	if err := json.Unmarshal(sigJSON, &sig); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}

	value, err := base64.StdEncoding.DecodeString(sig.SignatureValue)
	if err != nil {
		return fmt.Errorf("%w: signatureValue is not base64", ErrMalformedSignature)
	}

	signed, err := objectSigningString(doc, sig.Created)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSignature, err)
	}
	return VerifySigningString(publicKeyPem, signed, value)
}

// SignObject injects an embedded signature into an activity document, the
// mirror of VerifyObjectSignature.
func SignObject(doc map[string]interface{}, creator string, privateKey *rsa.PrivateKey) error {
	created := time.Now().UTC().Format(time.RFC3339)
	signed, err := objectSigningString(doc, created)
	if err != nil {
		return err
	}
	hashed := sha256.Sum256([]byte(signed))
	value, err := rsa.SignPKCS1v15(nil, privateKey, crypto.SHA256, hashed[:])
	if err != nil {
		return fmt.Errorf("failed to sign object: %w", err)
	}
	doc["signature"] = map[string]interface{}{
		"type":           "RsaSignature2017",
		"creator":        creator,
		"created":        created,
		"signatureValue": base64.StdEncoding.EncodeToString(value),
	}
	return nil
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey, accepting both
// PKIX and PKCS1 encodings (remote servers ship either).
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	if pubKey, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaPubKey, ok := pubKey.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaPubKey, nil
	}

	rsaPubKey, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	return rsaPubKey, nil
}
