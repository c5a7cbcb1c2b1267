package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Principal resolves the user on whose behalf writes are made. An empty id
// with a nil error means nobody is signed in.
type Principal interface {
	CurrentUser(ctx context.Context) (string, error)
}

// PrincipalFunc adapts a function to Principal.
type PrincipalFunc func(ctx context.Context) (string, error)

func (f PrincipalFunc) CurrentUser(ctx context.Context) (string, error) { return f(ctx) }

// Static always reports the same user. Static("") is the signed-out principal.
type Static string

func (s Static) CurrentUser(context.Context) (string, error) { return string(s), nil }

type ctxKey struct{}

// WithToken attaches a bearer access token to ctx, e.g. from an HTTP request.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKey{}, token)
}

// TokenFromContext returns the access token attached by WithToken.
func TokenFromContext(ctx context.Context) string {
	tok, _ := ctx.Value(ctxKey{}).(string)
	return tok
}

// JWTPrincipal reads the user id from the "sub" claim of an HS256 access
// token, the way hosted Postgres backends issue them. The token is taken
// from the context first and falls back to a configured one.
type JWTPrincipal struct {
	secret []byte
	token  string
}

// NewJWTPrincipal verifies tokens with secret. defaultToken may be empty.
func NewJWTPrincipal(secret, defaultToken string) *JWTPrincipal {
	return &JWTPrincipal{secret: []byte(secret), token: defaultToken}
}

// CurrentUser returns "" when no token is available and an error when the
// token does not verify.
func (p *JWTPrincipal) CurrentUser(ctx context.Context) (string, error) {
	tokenString := TokenFromContext(ctx)
	if tokenString == "" {
		tokenString = p.token
	}
	if tokenString == "" {
		return "", nil
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid access token: %w", err)
	}
	if !token.Valid {
		return "", errors.New("invalid access token")
	}
	if claims.Subject == "" {
		return "", errors.New("access token has no subject")
	}
	return claims.Subject, nil
}

// SignToken issues an HS256 token for subject. It exists for local setups
// and tests that need a token the JWTPrincipal accepts.
func SignToken(secret, subject string) (string, error) {
	claims := jwt.RegisteredClaims{Subject: subject}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
