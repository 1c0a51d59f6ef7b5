// Package broker implements the exchange REST and WebSocket clients.
//
// Every authenticated request carries three headers:
//
//	KEY — the API key ID
//	TS  — milliseconds since epoch
//	SIG — base64(RSA_PSS_SHA256(priv, TS ‖ METHOD ‖ path))
//
// The signed path includes the API prefix ("/trade-api/v2" for REST,
// "/trade-api/ws/v2" for the WebSocket) but not the host or query string.
package broker

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// RESTPrefix is prepended to every REST path when signing.
	RESTPrefix = "/trade-api/v2"
	// WSPath is the signed path for WebSocket handshakes.
	WSPath = "/trade-api/ws/v2"
)

// Auth signs broker requests with the operator's RSA private key.
type Auth struct {
	keyID string
	key   *rsa.PrivateKey
}

// NewAuth loads the PEM-encoded RSA private key at keyPath.
// Both PKCS#1 and PKCS#8 encodings are accepted.
func NewAuth(keyID, keyPath string) (*Auth, error) {
	raw, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("private key %s: no PEM block found", keyPath)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err8 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err8 != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		var ok bool
		key, ok = parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key %s: not an RSA key", keyPath)
		}
	}

	return &Auth{keyID: keyID, key: key}, nil
}

// Headers produces the KEY/TS/SIG header set for one request. path must be
// the full signed path including the API prefix.
func (a *Auth) Headers(method, path string) (map[string]string, error) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig, err := a.sign(ts + method + path)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"KEY": a.keyID,
		"TS":  ts,
		"SIG": sig,
	}, nil
}

// sign computes base64(RSA-PSS-SHA256(message)).
func (a *Auth) sign(message string) (string, error) {
	digest := sha256.Sum256([]byte(message))
	sig, err := rsa.SignPSS(rand.Reader, a.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}
