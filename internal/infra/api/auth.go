package api

import (
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingToken = errors.New("missing token")
	errInvalidToken = errors.New("invalid token")
)

type ClientClaims struct {
	jwt.RegisteredClaims
}

// Authenticator resolves the identity uploads are rate limited by: the JWT
// subject when a bearer token is presented, the remote address otherwise.
type Authenticator struct {
	secret     []byte
	required   bool
	trustProxy bool
}

func NewAuthenticator(secret string, required, trustProxy bool) *Authenticator {
	return &Authenticator{secret: []byte(secret), required: required, trustProxy: trustProxy}
}

// Mint signs a token for subject valid for ttl.
func (a *Authenticator) Mint(subject string, ttl time.Duration) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := ClientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Identify returns the caller identity. A presented but invalid token is an
// error; a missing token is an error only when authentication is required.
func (a *Authenticator) Identify(r *http.Request) (string, error) {
	claims, err := a.parseFromRequest(r)
	switch {
	case err == nil:
		return "sub:" + claims.Subject, nil
	case errors.Is(err, errMissingToken) && !a.required:
		return "ip:" + a.remoteIP(r), nil
	default:
		return "", err
	}
}

func (a *Authenticator) parseFromRequest(r *http.Request) (*ClientClaims, error) {
	hdr := r.Header.Get("Authorization")
	if hdr == "" || len(a.secret) == 0 {
		return nil, errMissingToken
	}
	if !strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return nil, errInvalidToken
	}
	return a.parse(strings.TrimSpace(hdr[7:]))
}

func (a *Authenticator) parse(tok string) (*ClientClaims, error) {
	claims := &ClientClaims{}
	tkn, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

func (a *Authenticator) remoteIP(r *http.Request) string {
	if a.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
