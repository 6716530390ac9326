package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

const (
	// CSRFSessionKey is the session key holding the token nonce.
	CSRFSessionKey = "csrf_nonce"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader carries the token on API requests and on login responses.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues and verifies CSRF tokens. A token is a per-session
// nonce plus an HMAC over the nonce and the session's user, so a token
// fetched anonymously stops working once the session logs in.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, creating a nonce if needed.
func (m *CSRFManager) EnsureToken(ctx context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("session missing")
	}
	nonce := sess.Get(CSRFSessionKey)
	if nonce == "" {
		nonce = rand.Text()
		sess.Set(CSRFSessionKey, nonce)
	}
	return m.token(nonce, sess), nil
}

// Rotate replaces the session nonce and returns the new token.
func (m *CSRFManager) Rotate(ctx context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("session missing")
	}
	sess.Delete(CSRFSessionKey)
	return m.EnsureToken(ctx, sess)
}

// VerifyToken checks the supplied token against the session.
func (m *CSRFManager) VerifyToken(ctx context.Context, sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	nonce := sess.Get(CSRFSessionKey)
	if nonce == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(token), []byte(m.token(nonce, sess))) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

func (m *CSRFManager) token(nonce string, sess *Session) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(nonce))
	_, _ = mac.Write([]byte{'|'})
	_, _ = mac.Write([]byte(sess.UserID().String()))
	var b strings.Builder
	b.WriteString(nonce)
	b.WriteByte('.')
	b.WriteString(base64.RawURLEncoding.EncodeToString(mac.Sum(nil)))
	return b.String()
}
