package blob

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fleetops.org/internal/apperr"
)

const signerIssuer = "fleetops-blob"

// ErrInvalidToken indicates a download token failed validation.
var ErrInvalidToken = fmt.Errorf("%w: invalid or expired download token", apperr.ErrForbidden)

// DownloadClaims binds a download token to one object.
type DownloadClaims struct {
	Bucket string `json:"bkt"`
	Key    string `json:"key"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 download tokens.
type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("blob signing secret must be at least 16 bytes")
	}
	return &Signer{secret: append([]byte(nil), secret...), now: time.Now}, nil
}

// Sign returns a token granting read access to bucket/key for ttl.
func (s *Signer) Sign(bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := s.now().UTC()
	claims := DownloadClaims{
		Bucket: bucket,
		Key:    key,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signerIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}
	return signed, nil
}

// Verify checks the token and that it was issued for bucket/key.
func (s *Signer) Verify(token, bucket, key string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &DownloadClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(signerIssuer), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*DownloadClaims)
	if !ok || !parsed.Valid || claims.Bucket != bucket || claims.Key != key {
		return ErrInvalidToken
	}
	return nil
}
