package signing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignerRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	q := s.Query("R.1.AcceptingNotification.xml", time.Minute)

	name, err := s.Verify(q)
	require.NoError(t, err)
	assert.Equal(t, "R.1.AcceptingNotification.xml", name)
}

func TestSignerRejectsTampering(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	q := s.Query("a.xml", time.Minute)

	forged := q
	forged.Set("name", "b.xml")
	_, err := s.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalid)

	q = s.Query("a.xml", time.Minute)
	q.Set("expires", "42")
	_, err = s.Verify(q)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = s.Verify(nil)
	assert.ErrorIs(t, err, ErrInvalid)

	other := NewSigner([]byte("other"))
	_, err = other.Verify(s.Query("a.xml", time.Minute))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestSignerExpiry(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	q := s.Query("a.xml", time.Minute)

	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := s.Verify(q)
	assert.ErrorIs(t, err, ErrExpired)
}
