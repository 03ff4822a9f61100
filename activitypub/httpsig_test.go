package activitypub

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"net/http"
	"testing"
	"time"
)

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func privateKeyToPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

func publicKeyToPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()
	keyBytes, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: keyBytes}))
}

func TestBuildSigningString(t *testing.T) {
	headers := http.Header{}
	headers.Set("Date", "Mon, 01 Jan 2024 00:00:00 GMT")
	headers.Set("Host", "inkpot.example")

	signed, err := BuildSigningString(headers, "POST", "/inbox", []string{"(request-target)", "host", "date"})
	if err != nil {
		t.Fatalf("BuildSigningString failed: %v", err)
	}

	expected := "(request-target): post /inbox\nhost: inkpot.example\ndate: Mon, 01 Jan 2024 00:00:00 GMT"
	if signed != expected {
		t.Errorf("Unexpected signing string:\n%s", signed)
	}
}

func TestBuildSigningStringMissingHeader(t *testing.T) {
	_, err := BuildSigningString(http.Header{}, "POST", "/inbox", []string{"digest"})
	if !errors.Is(err, ErrMalformedSignature) {
		t.Errorf("Expected ErrMalformedSignature, got %v", err)
	}
}

func TestParseSignatureVariants(t *testing.T) {
	sigValue := base64.StdEncoding.EncodeToString([]byte("sig"))

	cases := []struct {
		name      string
		signature string
		auth      string
		wantErr   error
	}{
		{"missing", "", "", ErrNoSignatureHeader},
		{"wrong auth type", "", "Bearer abc", ErrNoSignatureType},
		{"no value", `keyId="https://r.example/u/a#main-key",headers="date"`, "", ErrNoSignatureValue},
		{"no keyId", `signature="` + sigValue + `"`, "", ErrMalformedSignature},
		{"valid", `keyId="https://r.example/u/a#main-key",headers="(request-target) date",signature="` + sigValue + `"`, "", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest("POST", "https://inkpot.example/inbox", nil)
			if tc.signature != "" {
				req.Header.Set("Signature", tc.signature)
			}
			if tc.auth != "" {
				req.Header.Set("Authorization", tc.auth)
			}

			sig, err := ParseSignature(req)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("Expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSignature failed: %v", err)
			}
			if sig.ActorURI() != "https://r.example/u/a" {
				t.Errorf("Unexpected actor URI: %s", sig.ActorURI())
			}
			if len(sig.Headers) != 2 {
				t.Errorf("Unexpected headers: %v", sig.Headers)
			}
		})
	}
}

func TestParseSignatureDefaultHeaders(t *testing.T) {
	req, _ := http.NewRequest("POST", "https://inkpot.example/inbox", nil)
	sigValue := base64.StdEncoding.EncodeToString([]byte("sig"))
	req.Header.Set("Signature", `keyId="https://r.example/u/a#main-key",signature="`+sigValue+`"`)

	sig, err := ParseSignature(req)
	if err != nil {
		t.Fatalf("ParseSignature failed: %v", err)
	}
	if len(sig.Headers) != 1 || sig.Headers[0] != "date" {
		t.Errorf("Expected default headers [date], got %v", sig.Headers)
	}
}

func TestCheckDigest(t *testing.T) {
	body := []byte(`{"type":"Follow"}`)
	sum := sha256.Sum256(body)

	headers := http.Header{}
	headers.Set("Digest", "SHA-256="+base64.StdEncoding.EncodeToString(sum[:]))
	if err := CheckDigest(headers, body); err != nil {
		t.Errorf("Expected digest to match: %v", err)
	}

	headers.Set("Digest", "SHA-256=bm90IHRoZSBib2R5")
	if !errors.Is(CheckDigest(headers, body), ErrDigestMismatch) {
		t.Error("Expected ErrDigestMismatch for wrong digest")
	}

	// No claimed digest means nothing to check.
	if err := CheckDigest(http.Header{}, body); err != nil {
		t.Errorf("Expected nil for absent digest, got %v", err)
	}
}

func TestVerifySigningStringRoundTrip(t *testing.T) {
	key := generateTestKey(t)
	pubPEM := publicKeyToPEM(t, &key.PublicKey)

	signed := "(request-target): post /inbox\ndate: Mon, 01 Jan 2024 00:00:00 GMT"
	hashed := sha256.Sum256([]byte(signed))
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, hashed[:])
	if err != nil {
		t.Fatalf("Signing failed: %v", err)
	}

	if err := VerifySigningString(pubPEM, signed, sig); err != nil {
		t.Errorf("Expected valid signature: %v", err)
	}

	// A single flipped byte must fail verification.
	sig[0] ^= 0xff
	if !errors.Is(VerifySigningString(pubPEM, signed, sig), ErrInvalidSignature) {
		t.Error("Expected ErrInvalidSignature for tampered signature")
	}
}

func TestSignRequestVerifiable(t *testing.T) {
	key := generateTestKey(t)
	body := []byte(`{"type":"Follow"}`)

	req, _ := http.NewRequest("POST", "https://remote.example/inbox", bytes.NewReader(body))
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Host", "remote.example")

	if err := SignRequest(req, body, key, "https://inkpot.example/users/a#main-key"); err != nil {
		t.Fatalf("SignRequest failed: %v", err)
	}

	sig, err := ParseSignature(req)
	if err != nil {
		t.Fatalf("ParseSignature failed on signed request: %v", err)
	}
	if sig.KeyID != "https://inkpot.example/users/a#main-key" {
		t.Errorf("Unexpected keyId: %s", sig.KeyID)
	}
	if err := CheckDigest(req.Header, body); err != nil {
		t.Errorf("Digest written by signer does not verify: %v", err)
	}

	signed, err := BuildSigningString(req.Header, req.Method, RequestTarget(req), sig.Headers)
	if err != nil {
		t.Fatalf("BuildSigningString failed: %v", err)
	}
	if err := VerifySigningString(publicKeyToPEM(t, &key.PublicKey), signed, sig.Value); err != nil {
		t.Errorf("Round-trip verification failed: %v", err)
	}
}

func TestObjectSignatureRoundTrip(t *testing.T) {
	key := generateTestKey(t)
	pubPEM := publicKeyToPEM(t, &key.PublicKey)

	doc := map[string]interface{}{
		"id":    "https://inkpot.example/activities/1",
		"type":  "Create",
		"actor": "https://inkpot.example/users/a",
	}
	if err := SignObject(doc, "https://inkpot.example/users/a#main-key", key); err != nil {
		t.Fatalf("SignObject failed: %v", err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if err := VerifyObjectSignature(body, pubPEM); err != nil {
		t.Errorf("Expected valid object signature: %v", err)
	}

	// Tampering with the payload must break the signature.
	doc["actor"] = "https://evil.example/users/a"
	tampered, _ := json.Marshal(doc)
	if err := VerifyObjectSignature(tampered, pubPEM); err == nil {
		t.Error("Expected tampered object to fail verification")
	}
}

func TestVerifyObjectSignatureAbsent(t *testing.T) {
	key := generateTestKey(t)
	err := VerifyObjectSignature([]byte(`{"type":"Create"}`), publicKeyToPEM(t, &key.PublicKey))
	if !errors.Is(err, ErrNoSignatureValue) {
		t.Errorf("Expected ErrNoSignatureValue, got %v", err)
	}
}

func TestParseKeys(t *testing.T) {
	key := generateTestKey(t)

	parsed, err := ParsePrivateKey(privateKeyToPEM(key))
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	if parsed.N.Cmp(key.N) != 0 {
		t.Error("Parsed private key does not match original")
	}

	// PKCS1 public keys must parse too, since GeneratePemKeypair emits them.
	pkcs1 := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	}))
	pub, err := ParsePublicKey(pkcs1)
	if err != nil {
		t.Fatalf("ParsePublicKey failed for PKCS1: %v", err)
	}
	if pub.N.Cmp(key.N) != 0 {
		t.Error("Parsed public key does not match original")
	}

	if _, err := ParsePrivateKey("not a pem"); err == nil {
		t.Error("Expected error for invalid private key PEM")
	}
	if _, err := ParsePublicKey(""); err == nil {
		t.Error("Expected error for empty public key PEM")
	}
}
