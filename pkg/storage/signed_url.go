package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignedURLSigner creates and validates download tokens bound to one archive file.
type SignedURLSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSignedURLSigner constructs a signer with the provided secret and TTL.
func NewSignedURLSigner(secret string, ttl time.Duration) *SignedURLSigner {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &SignedURLSigner{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Generate returns a token of the form {archiveID}.{kind}.{expiry}.{signature}.
func (s *SignedURLSigner) Generate(archiveID int64, kind ArchiveFileKind) (string, time.Time, error) {
	if archiveID <= 0 {
		return "", time.Time{}, fmt.Errorf("archive id required")
	}
	if _, ok := kind.Suffix(); !ok {
		return "", time.Time{}, fmt.Errorf("unknown archive file kind %q", kind)
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := s.now().Add(s.ttl)
	id := strconv.FormatInt(archiveID, 10)
	exp := strconv.FormatInt(expiresAt.Unix(), 10)
	token := strings.Join([]string{id, string(kind), exp, s.sign(id, string(kind), exp)}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the archive id and file kind it grants.
func (s *SignedURLSigner) Parse(token string) (int64, ArchiveFileKind, time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 4 {
		return 0, "", time.Time{}, fmt.Errorf("invalid token format")
	}
	id, kind, exp, signature := parts[0], parts[1], parts[2], parts[3]

	if !hmac.Equal([]byte(s.sign(id, kind, exp)), []byte(signature)) {
		return 0, "", time.Time{}, fmt.Errorf("invalid token signature")
	}
	archiveID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, "", time.Time{}, fmt.Errorf("invalid archive id")
	}
	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return 0, "", time.Time{}, fmt.Errorf("invalid timestamp")
	}
	expiresAt := time.Unix(expUnix, 0)
	if s.now().After(expiresAt) {
		return 0, "", time.Time{}, fmt.Errorf("token expired")
	}
	return archiveID, ArchiveFileKind(kind), expiresAt, nil
}

func (s *SignedURLSigner) sign(id, kind, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(id + "|" + kind + "|" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}
