// Package token verifies the bearer tokens issued to tracker users. The
// signing key is symmetric and bound to the verifier at construction; callers
// never supply key material per call.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalid is returned for any token that fails verification: bad
// signature, wrong algorithm, expired, or missing identity.
var ErrInvalid = errors.New("token: invalid auth token")

const issuer = "issue-tracker"

// Claims is the user identity embedded in a token. It is carried verbatim
// from issue time; verification never rewrites it.
type Claims struct {
	UserID          string `json:"userId"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	MobileNumber    string `json:"mobileNumber"`
	Status          string `json:"status"`
	Email           string `json:"email"`
	ValidationToken string `json:"validationToken"`
	EmailVerified   string `json:"emailVerified"`
}

// FullName joins the first and last name the way presence entries store it.
func (c Claims) FullName() string {
	return c.FirstName + " " + c.LastName
}

// tokenClaims is the full JWT payload: registered claims plus the user
// identity under the "data" claim.
type tokenClaims struct {
	jwt.RegisteredClaims
	Data Claims `json:"data"`
}

// Verifier validates tokens with a fixed HMAC secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. The secret must be at least 16 bytes;
// anything shorter is refused outright rather than silently weak.
func NewVerifier(secret string) (*Verifier, error) {
	if len(secret) < 16 {
		return nil, errors.New("token: signing secret must be at least 16 characters")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

// Verify parses and validates a token string and returns the embedded
// claims. All failure modes satisfy errors.Is(err, ErrInvalid).
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	tc := &tokenClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, tc,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrInvalid
	}
	if tc.Data.UserID == "" {
		return nil, fmt.Errorf("%w: no userId in claims", ErrInvalid)
	}
	claims := tc.Data
	return &claims, nil
}

// Issue signs a token carrying the given claims, valid for 24 hours. The
// process that runs this core is the same signing authority the original
// user routes use, so issuing lives next to verification.
func (v *Verifier) Issue(claims Claims) (string, error) {
	return v.IssueWithExpiry(claims, 24*time.Hour)
}

// IssueWithExpiry signs a token with a custom lifetime. Used by tests to
// produce already-expired tokens.
func (v *Verifier) IssueWithExpiry(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	tc := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Data: claims,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, tc).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("token: signing: %w", err)
	}
	return signed, nil
}
