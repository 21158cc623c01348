package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/ShanXtet/Android-Instant-Messaging-sub001/tools/errs"
)

// Options controls signing algorithm and TTL.
type Options struct {
	Secret []byte        // HMAC key (from ENV/KMS in production)
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token validity (default 2h)
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Verifier validates a bearer credential and yields its claims.
type Verifier interface {
	Verify(token string) (jwtlib.MapClaims, error)
}

// HMACVerifier verifies HMAC-signed tokens with a shared secret.
type HMACVerifier struct {
	opts Options
}

func NewHMACVerifier(opts Options) *HMACVerifier {
	return &HMACVerifier{opts: opts}
}

func (v *HMACVerifier) Verify(token string) (jwtlib.MapClaims, error) {
	if token == "" {
		return nil, errs.ErrUnauthorized.WrapMsg("missing token")
	}
	if _, err := signingMethod(v.opts.Alg); err != nil {
		return nil, err
	}
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// HMAC family only
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	})
	if err != nil {
		return nil, errs.ErrUnauthorized.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return nil, errs.ErrUnauthorized.WrapMsg("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errs.ErrUnauthorized.WrapMsg("claims type mismatch")
	}
	return claims, nil
}

// Generate signs a token carrying the user id under "sub". Kept for tooling
// and tests; issuance proper lives outside the gateway.
func Generate(opts Options, userID string, extra map[string]any) (string, time.Time, error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// userIDClaims is the accepted claim vocabulary for the canonical user id,
// first match wins.
var userIDClaims = []string{"id", "uid", "userId", "sub"}

// ResolveUserID extracts the canonical user identifier from claims.
func ResolveUserID(claims jwtlib.MapClaims) (string, error) {
	for _, name := range userIDClaims {
		v, ok := claims[name]
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && s != "" {
			return s, nil
		}
	}
	return "", errs.ErrUnauthorized.WrapMsg("no resolvable user id claim")
}

// BearerFromRequest pulls the credential from the explicit auth query field
// or from the Authorization header.
func BearerFromRequest(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if tok := r.URL.Query().Get("auth"); tok != "" {
		return tok
	}
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(h)
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
