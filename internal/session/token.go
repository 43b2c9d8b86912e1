// Package session exposes the bearer token owned by the authentication
// subsystem. The tracker only reads tokens through a Source and never stores them.
package session

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var ErrNoToken = errors.New("no access token available")

// Source yields the current bearer token. Refreshing an expired token is the
// job of whoever implements Source.
type Source interface {
	Token(ctx context.Context) (string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (string, error)

func (f SourceFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// Static returns a Source that always yields token. An empty token yields ErrNoToken.
func Static(token string) Source {
	token = strings.TrimSpace(token)
	return SourceFunc(func(context.Context) (string, error) {
		if token == "" {
			return "", ErrNoToken
		}
		return token, nil
	})
}

type contextKey string

const tokenKey contextKey = "access_token"

// WithToken returns a copy of ctx carrying token.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext returns the token placed by WithToken.
func TokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(tokenKey).(string)
	return tok, ok && tok != ""
}

// Context returns a Source reading the token from the request context.
func Context() Source {
	return SourceFunc(func(ctx context.Context) (string, error) {
		if tok, ok := TokenFromContext(ctx); ok {
			return tok, nil
		}
		return "", ErrNoToken
	})
}

// Chain returns a Source yielding the first token any of sources provides.
func Chain(sources ...Source) Source {
	return SourceFunc(func(ctx context.Context) (string, error) {
		for _, s := range sources {
			if s == nil {
				continue
			}
			tok, err := s.Token(ctx)
			if err == nil && tok != "" {
				return tok, nil
			}
			if err != nil && !errors.Is(err, ErrNoToken) {
				return "", err
			}
		}
		return "", ErrNoToken
	})
}

// Scope names the local namespace of the session in ctx: the fingerprint of
// the request token, or "" when ctx carries none and the process acts with
// its own token.
func Scope(ctx context.Context) string {
	tok, _ := TokenFromContext(ctx)
	return Fingerprint(tok)
}

// Fingerprint returns a short stable digest of token, safe to log or use as a key.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}
