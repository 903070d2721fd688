package identity

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email             string   `json:"email"`
	PreferredUsername string   `json:"preferred_username"`
	Emails            []string `json:"emails"`
}

// EmailFromIDToken returns the email carried by an ID token, looking at the
// email, preferred_username and emails claims in that order. A nil kf skips
// signature verification.
func EmailFromIDToken(token string, kf jwt.Keyfunc) (string, error) {
	claims := &idTokenClaims{}

	if kf == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return "", fmt.Errorf("parse id token: %w", err)
		}
	} else {
		parsed, err := jwt.ParseWithClaims(token, claims, kf)
		if err != nil {
			return "", fmt.Errorf("verify id token: %w", err)
		}
		if !parsed.Valid {
			return "", fmt.Errorf("verify id token: %w", jwt.ErrTokenSignatureInvalid)
		}
	}

	switch {
	case strings.TrimSpace(claims.Email) != "":
		return strings.TrimSpace(claims.Email), nil
	case strings.Contains(claims.PreferredUsername, "@"):
		return strings.TrimSpace(claims.PreferredUsername), nil
	case len(claims.Emails) > 0 && strings.TrimSpace(claims.Emails[0]) != "":
		return strings.TrimSpace(claims.Emails[0]), nil
	}
	return "", ErrNoEmailClaim
}
