package lti

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

/*
Platform keyset cache.

The tool verifies id_tokens against the platform's published JWKS. Keys are
fetched lazily, cached, and refetched when either the cache ages out or the
token references a kid we have not seen (key rotation).
*/

type jwkDoc struct {
	Keys []map[string]any `json:"keys"`
}

// KeysetCache fetches and caches RSA public keys from a JWKS URL.
type KeysetCache struct {
	URL  string
	HTTP *http.Client
	TTL  time.Duration // default 10 minutes

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewKeysetCache(url string) *KeysetCache {
	return &KeysetCache{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
		TTL:  10 * time.Minute,
	}
}

// Key returns the RSA public key for kid, refetching the keyset when the
// kid is unknown or the cache is stale. An empty kid returns any key when
// exactly one is published.
func (c *KeysetCache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stale := time.Since(c.fetchedAt) > c.ttl()
	if c.keys == nil || stale || (kid != "" && c.keys[kid] == nil) {
		if err := c.fetchLocked(ctx); err != nil {
			// keep serving the old set if we have one
			if c.keys == nil {
				return nil, err
			}
		}
	}
	if kid != "" {
		if k, ok := c.keys[kid]; ok {
			return k, nil
		}
		return nil, fmt.Errorf("jwks: no RSA key with kid %q", kid)
	}
	if len(c.keys) == 1 {
		for _, k := range c.keys {
			return k, nil
		}
	}
	return nil, errors.New("jwks: kid required when keyset has multiple keys")
}

func (c *KeysetCache) fetchLocked(ctx context.Context) error {
	if c.URL == "" {
		return errors.New("jwks: no keyset URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("jwks: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("jwks: fetch: platform returned %s", resp.Status)
	}
	var doc jwkDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks: decode: %w", err)
	}
	keys, err := rsaKeysFromJWKS(doc)
	if err != nil {
		return err
	}
	c.keys = keys
	c.fetchedAt = time.Now()
	return nil
}

func (c *KeysetCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return 10 * time.Minute
}

func (c *KeysetCache) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func rsaKeysFromJWKS(doc jwkDoc) (map[string]*rsa.PublicKey, error) {
	out := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if t, _ := k["kty"].(string); t != "RSA" {
			continue
		}
		nStr, _ := k["n"].(string)
		eStr, _ := k["e"].(string)
		if nStr == "" || eStr == "" {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(nStr)
		if err != nil {
			continue
		}
		eb, err := base64.RawURLEncoding.DecodeString(eStr)
		if err != nil {
			continue
		}
		e := 0
		for _, b := range eb {
			e = (e << 8) | int(b)
		}
		if e == 0 {
			continue
		}
		kid, _ := k["kid"].(string)
		out[kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}
	}
	if len(out) == 0 {
		return nil, errors.New("jwks: no usable RSA keys in keyset")
	}
	return out, nil
}
