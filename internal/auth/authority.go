package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/xtrntr/gridledger/internal/models"
)

// authorityClaims binds a signature to one override payload
type authorityClaims struct {
	Digest string `json:"digest"`
	jwt.RegisteredClaims
}

// AuthorityVerifier checks override signatures: an HS256 JWT whose subject
// is the authority and whose digest claim is the sha256 of the payload.
// Each authority has its own key.
type AuthorityVerifier struct {
	keys map[models.AuthorityType][]byte
}

func NewAuthorityVerifier(keys map[models.AuthorityType]string) *AuthorityVerifier {
	v := &AuthorityVerifier{keys: make(map[models.AuthorityType][]byte, len(keys))}
	for a, k := range keys {
		if k != "" {
			v.keys[a] = []byte(k)
		}
	}
	return v
}

func (v *AuthorityVerifier) Verify(authority models.AuthorityType, signature string, payload []byte) error {
	key, ok := v.keys[authority]
	if !ok {
		return fmt.Errorf("no key for authority %q", authority)
	}

	claims := &authorityClaims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(*jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(string(authority)),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return err
	}

	want := digest(payload)
	if subtle.ConstantTimeCompare([]byte(claims.Digest), []byte(want)) != 1 {
		return fmt.Errorf("payload digest mismatch")
	}
	return nil
}

// SignOverride produces the signature an authority attaches to o.
// The signature expires after ttl.
func SignOverride(key string, o models.AuthorityOverride, ttl time.Duration) (string, error) {
	payload, err := o.Payload()
	if err != nil {
		return "", err
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, authorityClaims{
		Digest: digest(payload),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(o.Authority),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(key))
}

func digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
