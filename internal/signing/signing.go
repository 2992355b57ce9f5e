// Package signing implements HMAC signed download links for notifications.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

var (
	// ErrExpired is returned for a link past its expiry.
	ErrExpired = errors.New("link expired")
	// ErrInvalid is returned for a malformed or forged link.
	ErrInvalid = errors.New("invalid signature")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Sign returns the hex signature for a resource name and expiry.
func (s *Signer) Sign(name string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", name, expiresUnix)
	return hex.EncodeToString(mac.Sum(nil))
}

// Query builds the query parameters of a link valid for ttl.
func (s *Signer) Query(name string, ttl time.Duration) url.Values {
	expires := s.now().Add(ttl).Unix()
	return url.Values{
		"name":      {name},
		"expires":   {strconv.FormatInt(expires, 10)},
		"signature": {s.Sign(name, expires)},
	}
}

// Verify checks a link built by Query and returns the signed name.
func (s *Signer) Verify(q url.Values) (string, error) {
	name, expires, signature := q.Get("name"), q.Get("expires"), q.Get("signature")
	if name == "" || expires == "" || signature == "" {
		return "", ErrInvalid
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return "", ErrInvalid
	}
	if !hmac.Equal([]byte(s.Sign(name, exp)), []byte(signature)) {
		return "", ErrInvalid
	}
	if time.Unix(exp, 0).Before(s.now()) {
		return "", ErrExpired
	}
	return name, nil
}
