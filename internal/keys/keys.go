package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v5"
)

/*
Tool signing keypair.

The tool signs two kinds of JWTs with this key:
  - client_assertion JWTs for the AGS token exchange (private_key_jwt)
  - deep-linking responses, if ever added

The public half is published at /lti/jwks so the platform can verify them.
Keys are loaded from PEM files; when the files are missing a fresh RSA-2048
pair is generated and written back, so a dev checkout works with no setup.
*/

type ToolKey struct {
	KID     string
	Private *rsa.PrivateKey
}

// LoadOrGenerate reads the keypair at privPath/pubPath, generating and
// persisting a new RSA-2048 pair when privPath does not exist.
func LoadOrGenerate(privPath, pubPath string) (*ToolKey, error) {
	if privPath == "" {
		return nil, errors.New("keys: private key path required")
	}
	if data, err := os.ReadFile(privPath); err == nil {
		priv, err := parsePrivatePEM(data)
		if err != nil {
			return nil, fmt.Errorf("keys: parse %s: %w", privPath, err)
		}
		return &ToolKey{KID: makeKID(&priv.PublicKey), Private: priv}, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("keys: rsa generate: %w", err)
	}
	if err := writePEM(privPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(priv)); err != nil {
		return nil, err
	}
	if pubPath != "" {
		pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err == nil {
			_ = writePEM(pubPath, "PUBLIC KEY", pub)
		}
	}
	return &ToolKey{KID: makeKID(&priv.PublicKey), Private: priv}, nil
}

// SignJWT signs claims as a compact RS256 JWS with the tool key, setting
// the "kid" header so the platform can pick the right JWK.
func (k *ToolKey) SignJWT(claims jwt.Claims) (string, error) {
	if k == nil || k.Private == nil {
		return "", errors.New("keys: no private key")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.KID
	return tok.SignedString(k.Private)
}

// PublicJWKS returns the tool's public keyset in RFC 7517 form.
func (k *ToolKey) PublicJWKS() map[string]any {
	return map[string]any{
		"keys": []map[string]any{RSAPublicJWK(&k.Private.PublicKey, k.KID, "RS256")},
	}
}

// RSAPublicJWK builds a minimal RSA JWK map (n,e) for the given key.
func RSAPublicJWK(pub *rsa.PublicKey, kid, alg string) map[string]any {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return nil
	}
	return map[string]any{
		"kty":     "RSA",
		"kid":     kid,
		"alg":     alg,
		"use":     "sig",
		"key_ops": []string{"verify"},
		"n":       bigIntToB64(pub.N),
		"e":       intToB64(pub.E),
	}
}

func parsePrivatePEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not an RSA key")
	}
	return priv, nil
}

func writePEM(path, typ string, der []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: typ, Bytes: der}), 0o600)
}

// makeKID derives a stable kid from the public key material.
func makeKID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	sum := h.Sum(nil)
	return "rsa-" + hex.EncodeToString(sum[:8])
}

func bigIntToB64(n *big.Int) string {
	if n == nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(n.FillBytes(make([]byte, (n.BitLen()+7)/8)))
}

func intToB64(e int) string {
	return base64.RawURLEncoding.EncodeToString(big.NewInt(int64(e)).FillBytes(make([]byte, intByteLen(e))))
}

func intByteLen(v int) int {
	switch {
	case v <= 0xff:
		return 1
	case v <= 0xffff:
		return 2
	case v <= 0xffffff:
		return 3
	default:
		return 4
	}
}
