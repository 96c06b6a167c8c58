package artifact

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/buildgate/buildgate/internal/metrics"
)

// DefaultURLTTL is how long an issued artifact URL stays valid when the
// configuration does not say otherwise.
const DefaultURLTTL = 60 * time.Minute

// Scope limits what a signed URL permits.
type Scope string

const (
	ScopeDownload Scope = "download"
	ScopeUpload   Scope = "upload"
)

// Claims carries the artifact key and scope inside a signed URL token.
type Claims struct {
	Key   string `json:"key"`
	Scope Scope  `json:"scope"`
	jwt.RegisteredClaims
}

// Signer issues and verifies time-limited capability URLs for artifacts.
//
// Issuance reports failures as a descriptive string result rather than an
// error value, so callers can forward the message to a requester verbatim.
// A nil Signer degrades to a fixed failure string instead of panicking.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
}

// NewSigner returns a Signer issuing URLs under baseURL, signed with
// secret, valid for ttl. A non-positive ttl falls back to DefaultURLTTL.
func NewSigner(secret, baseURL string, ttl time.Duration) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("empty signing secret")
	}
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("empty signer base URL")
	}
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}, nil
}

// DownloadURL returns a signed URL granting a read of the artifact at key,
// or a string starting with "Error:" describing why one could not be issued.
func (s *Signer) DownloadURL(key string) string {
	return s.issue(key, ScopeDownload, "download")
}

// UploadURL returns a signed URL granting a write of the artifact at key,
// or a string starting with "Error:" describing why one could not be issued.
func (s *Signer) UploadURL(key string) string {
	return s.issue(key, ScopeUpload, "upload")
}

func (s *Signer) issue(key string, scope Scope, segment string) string {
	if s == nil {
		return "Error: signing is not configured"
	}
	if strings.TrimSpace(key) == "" {
		metrics.IncSignedURL("failed")
		return "Error: could not generate signed URL: empty artifact key"
	}
	tok, err := s.sign(key, scope)
	if err != nil {
		metrics.IncSignedURL("failed")
		return fmt.Sprintf("Error: could not generate signed URL: %v", err)
	}
	metrics.IncSignedURL("issued")
	return fmt.Sprintf("%s/%s/%s?token=%s", s.baseURL, segment, key, tok)
}

func (s *Signer) sign(key string, scope Scope) (string, error) {
	now := time.Now()
	claims := &Claims{
		Key:   key,
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    "buildgate",
			Subject:   key,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a URL token and returns the artifact key and scope it
// grants. Expired, tampered, or foreign tokens fail.
func (s *Signer) Verify(tokenString string) (string, Scope, error) {
	if s == nil {
		return "", "", errors.New("signing is not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", "", fmt.Errorf("parse url token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", "", errors.New("invalid url token")
	}
	return claims.Key, claims.Scope, nil
}
