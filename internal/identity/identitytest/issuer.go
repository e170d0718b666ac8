// Package identitytest issues signed ID tokens for tests of code that verifies them.
package identitytest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MegaGrindStone/poolsight/internal/identity"
	"github.com/go-jose/go-jose/v4"
)

// Issuer signs ID tokens with its own RSA key.
type Issuer struct {
	URL      string
	ClientID string

	key    *rsa.PrivateKey
	signer jose.Signer
}

type claims struct {
	Issuer   string `json:"iss"`
	Audience string `json:"aud"`
	Subject  string `json:"sub"`
	IssuedAt int64  `json:"iat"`
	Expiry   int64  `json:"exp"`
}

// NewIssuer creates an Issuer with a fresh key.
func NewIssuer(url, clientID string) (*Issuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return &Issuer{URL: url, ClientID: clientID, key: key, signer: signer}, nil
}

// Verifier returns a verifier that trusts this issuer's key.
func (i *Issuer) Verifier() *identity.Verifier {
	return identity.NewStaticVerifier(i.URL, i.ClientID, &i.key.PublicKey)
}

// Token returns an ID token for sub that expires after ttl. A negative ttl gives an expired token.
func (i *Issuer) Token(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	payload, err := json.Marshal(claims{
		Issuer:   i.URL,
		Audience: i.ClientID,
		Subject:  sub,
		IssuedAt: now.Add(-time.Minute).Unix(),
		Expiry:   now.Add(ttl).Unix(),
	})
	if err != nil {
		return "", err
	}

	jws, err := i.signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return jws.CompactSerialize()
}
