package hub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenVerifier checks tokens of the form <userID>.<signature>, where the
// signature is the base64url HMAC-SHA256 of the user id.
type TokenVerifier struct {
	secret []byte
}

func NewTokenVerifier(secret string) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	return &TokenVerifier{secret: []byte(secret)}, nil
}

// Sign issues a token for userID.
func (v *TokenVerifier) Sign(userID string) string {
	return userID + "." + base64.RawURLEncoding.EncodeToString(v.mac(userID))
}

// Verify returns the user id carried by token.
func (v *TokenVerifier) Verify(token string) (string, error) {
	idx := strings.LastIndexByte(token, '.')
	if idx <= 0 || idx == len(token)-1 {
		return "", fmt.Errorf("%w: malformed", ErrInvalidToken)
	}
	userID, encoded := token[:idx], token[idx+1:]

	signature, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad signature encoding", ErrInvalidToken)
	}
	if !hmac.Equal(signature, v.mac(userID)) {
		return "", fmt.Errorf("%w: signature mismatch", ErrInvalidToken)
	}
	return userID, nil
}

func (v *TokenVerifier) mac(userID string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(userID))
	return h.Sum(nil)
}
