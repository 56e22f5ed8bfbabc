package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenExpired marks a well-formed token whose expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid marks a token that is malformed, carries a bad
	// signature, or was signed with an unexpected algorithm.
	ErrTokenInvalid = errors.New("invalid token")
)

// Claims is the payload carried by an access token: the owning user and
// an absolute expiry in seconds since epoch.
type Claims struct {
	UserID  string `json:"user_id"`
	Expires int64  `json:"expires"`
}

// Claims satisfies jwt.Claims with empty registered fields; expiry lives
// in the custom expires field and is checked by Decode.
func (Claims) GetExpirationTime() (*jwt.NumericDate, error) { return nil, nil }
func (Claims) GetIssuedAt() (*jwt.NumericDate, error)       { return nil, nil }
func (Claims) GetNotBefore() (*jwt.NumericDate, error)      { return nil, nil }
func (Claims) GetIssuer() (string, error)                   { return "", nil }
func (Claims) GetSubject() (string, error)                  { return "", nil }
func (Claims) GetAudience() (jwt.ClaimStrings, error)       { return nil, nil }

// UserIDInt parses the user id claim.
func (c *Claims) UserIDInt() (int64, error) {
	id, err := strconv.ParseInt(c.UserID, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid user id claim")
	}
	return id, nil
}

// Service signs and verifies access tokens with a shared secret.
type Service struct {
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
}

// NewService constructs the token service for the named signing algorithm.
func NewService(secret, algorithm string, ttl time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("signing secret is required")
	}
	method := jwt.GetSigningMethod(algorithm)
	if method == nil {
		return nil, fmt.Errorf("unknown signing algorithm: %s", algorithm)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Service{secret: []byte(secret), method: method, ttl: ttl}, nil
}

// Encode issues a token for the user with the configured lifetime.
func (s *Service) Encode(userID int64) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	claims := Claims{
		UserID:  strconv.FormatInt(userID, 10),
		Expires: time.Now().Add(s.ttl).Unix(),
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Decode verifies the token and returns its claims. The result is
// explicit: claims on success, ErrTokenExpired when expires <= now, and
// ErrTokenInvalid for every other failure.
func (s *Service) Decode(tokenStr string) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != s.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", t.Method.Alg())
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if time.Now().Unix() >= claims.Expires {
		return nil, ErrTokenExpired
	}
	return &claims, nil
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.ttl
}
