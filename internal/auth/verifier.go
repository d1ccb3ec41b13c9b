// Package auth verifies bearer tokens of API callers.
package auth

import (
	"context"
	"crypto"
	"crypto/hmac"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"drtdispatch/internal/config"
)

// ErrUnauthorized wraps every verification failure.
var ErrUnauthorized = errors.New("unauthorized")

const (
	RoleAdmin      = "admin"
	RoleDispatcher = "dispatcher"
	RoleViewer     = "viewer"
)

// Principal is the verified caller.
type Principal struct {
	Subject string
	Role    string
}

// Can reports whether p holds at least role. admin > dispatcher > viewer.
func (p Principal) Can(role string) bool { return rank(p.Role) >= rank(role) }

func rank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleDispatcher:
		return 2
	case RoleViewer:
		return 1
	}
	return 0
}

// Verifier validates JWTs. Modes: dev (token is "subject:role", nothing is
// verified), hmac (HS256) and jwks (RS256 keys fetched from a JWKS URL).
type Verifier struct {
	mode         string
	secret       []byte
	jwksURL      string
	roleClaim    string
	subjectClaim string
	http         *http.Client
	now          func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

func NewVerifier(cfg config.Auth) *Verifier {
	v := &Verifier{
		mode:         strings.ToLower(strings.TrimSpace(cfg.Mode)),
		secret:       []byte(cfg.HMACSecret),
		jwksURL:      cfg.JWKSURL,
		roleClaim:    cfg.RoleClaim,
		subjectClaim: cfg.SubjectClaim,
		http:         &http.Client{Timeout: 5 * time.Second},
		now:          time.Now,
		cacheTTL:     10 * time.Minute,
	}
	if v.mode == "" {
		v.mode = "dev"
	}
	if v.roleClaim == "" {
		v.roleClaim = "role"
	}
	if v.subjectClaim == "" {
		v.subjectClaim = "sub"
	}
	return v
}

// Mode returns the verification mode.
func (v *Verifier) Mode() string { return v.mode }

func fail(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnauthorized, fmt.Sprintf(format, args...))
}

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if v.mode == "dev" {
		sub, role, ok := strings.Cut(token, ":")
		if !ok || sub == "" {
			return Principal{}, fail("dev token must be subject:role")
		}
		return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
	}

	segs := strings.Split(token, ".")
	if len(segs) != 3 {
		return Principal{}, fail("malformed token")
	}
	var hdr struct {
		Alg string `json:"alg"`
		Kid string `json:"kid"`
	}
	if err := decodeSegment(segs[0], &hdr); err != nil {
		return Principal{}, fail("header: %v", err)
	}
	var claims map[string]any
	if err := decodeSegment(segs[1], &claims); err != nil {
		return Principal{}, fail("claims: %v", err)
	}
	sig, err := base64.RawURLEncoding.DecodeString(segs[2])
	if err != nil {
		return Principal{}, fail("signature: %v", err)
	}
	signed := []byte(segs[0] + "." + segs[1])

	switch v.mode {
	case "hmac":
		if hdr.Alg != "HS256" {
			return Principal{}, fail("alg %s not allowed", hdr.Alg)
		}
		mac := hmac.New(sha256.New, v.secret)
		mac.Write(signed)
		if !hmac.Equal(mac.Sum(nil), sig) {
			return Principal{}, fail("bad signature")
		}
	case "jwks":
		if hdr.Alg != "RS256" {
			return Principal{}, fail("alg %s not allowed", hdr.Alg)
		}
		pub, err := v.key(ctx, hdr.Kid)
		if err != nil {
			return Principal{}, fail("key %s: %v", hdr.Kid, err)
		}
		h := sha256.Sum256(signed)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
			return Principal{}, fail("bad signature")
		}
	default:
		return Principal{}, fail("unsupported mode %s", v.mode)
	}

	now := v.now()
	if exp, ok := claims["exp"].(float64); ok && now.After(time.Unix(int64(exp), 0)) {
		return Principal{}, fail("token expired")
	}
	if nbf, ok := claims["nbf"].(float64); ok && now.Before(time.Unix(int64(nbf), 0)) {
		return Principal{}, fail("token not valid yet")
	}
	sub, _ := claims[v.subjectClaim].(string)
	role, _ := claims[v.roleClaim].(string)
	if sub == "" {
		return Principal{}, fail("missing %s claim", v.subjectClaim)
	}
	if role == "" {
		role = RoleViewer
	}
	return Principal{Subject: sub, Role: strings.ToLower(role)}, nil
}

func decodeSegment(seg string, dst any) error {
	raw, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// key returns the RSA key kid, refetching the key set when it is stale or
// does not know kid.
func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	stale := v.now().Sub(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return k, nil
	}
	if err := v.fetchJWKS(ctx); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	return nil, errors.New("kid not found in JWKS")
}

func (v *Verifier) fetchJWKS(ctx context.Context) error {
	if v.jwksURL == "" {
		return errors.New("no JWKS url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: status %d", resp.StatusCode)
	}
	var set struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("jwks: %w", err)
	}
	keys := map[string]*rsa.PublicKey{}
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = v.now()
	v.mu.Unlock()
	return nil
}
