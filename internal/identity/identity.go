// Package identity resolves who is making a request. Token acquisition happens elsewhere: the sign-in
// flow puts an ID token in place, and the providers here verify it against the issuer's keys before
// trusting its subject.
package identity

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// TokenCookie is the cookie the sign-in flow stores the ID token in.
const TokenCookie = "id_token"

var (
	// ErrNoToken is returned when the request carries no bearer token.
	ErrNoToken = errors.New("no bearer token")
	// ErrInvalidToken is returned when the token fails verification or carries no subject.
	ErrInvalidToken = errors.New("invalid token")
)

// Static is an identity fixed by configuration, for local runs and tools.
type Static struct {
	Sub     string
	IDToken string
}

// Verifier checks ID tokens issued to one client by one OpenID Connect issuer.
type Verifier struct {
	v *oidc.IDTokenVerifier
}

// Request is the identity carried by an HTTP request: an ID token in the Authorization header or in
// the TokenCookie cookie, with the subject taken from the token once it is verified.
type Request struct {
	r        *http.Request
	verifier *Verifier
}

// NewVerifier discovers the issuer's configuration and signing keys. The keys are fetched again when a
// token is signed with one the verifier hasn't seen.
func NewVerifier(ctx context.Context, issuer, clientID string) (*Verifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery for %s: %w", issuer, err)
	}
	return &Verifier{v: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

// NewStaticVerifier verifies tokens against fixed public keys instead of the issuer's published ones.
func NewStaticVerifier(issuer, clientID string, keys ...crypto.PublicKey) *Verifier {
	keySet := &oidc.StaticKeySet{PublicKeys: keys}
	return &Verifier{v: oidc.NewVerifier(issuer, keySet, &oidc.Config{ClientID: clientID})}
}

// Subject verifies token's signature, issuer, audience and expiry, and returns its sub claim.
func (v *Verifier) Subject(ctx context.Context, token string) (string, error) {
	idToken, err := v.v.Verify(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if idToken.Subject == "" {
		return "", fmt.Errorf("%w: missing sub claim", ErrInvalidToken)
	}
	return idToken.Subject, nil
}

// FromRequest returns the identity carried by r, verified with verifier.
func FromRequest(r *http.Request, verifier *Verifier) Request {
	return Request{r: r, verifier: verifier}
}

// Subject returns the configured subject.
func (s Static) Subject(context.Context) (string, error) {
	return s.Sub, nil
}

// Token returns the configured token.
func (s Static) Token(context.Context) (string, error) {
	return s.IDToken, nil
}

// Token returns the raw ID token.
func (r Request) Token(context.Context) (string, error) {
	if auth := r.r.Header.Get("Authorization"); auth != "" {
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if ok && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), nil
		}
	}
	if c, err := r.r.Cookie(TokenCookie); err == nil && c.Value != "" {
		return c.Value, nil
	}
	return "", ErrNoToken
}

// Subject returns the sub claim of the verified ID token.
func (r Request) Subject(ctx context.Context) (string, error) {
	token, err := r.Token(ctx)
	if err != nil {
		return "", err
	}
	if r.verifier == nil {
		return "", fmt.Errorf("%w: no verifier configured", ErrInvalidToken)
	}
	return r.verifier.Subject(ctx, token)
}
