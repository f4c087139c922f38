// Package session tracks the signed-in user and supplies a fresh bearer
// token for every backend call.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// TokenSource yields the current bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken always returns the same token.
type StaticToken string

// Token returns t.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", errors.New("static token is empty")
	}
	return string(t), nil
}

// FileToken re-reads a token file on every call, so external refreshers can
// rotate it in place.
type FileToken struct {
	Path string
}

// Token reads and trims the file contents.
func (f FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", f.Path)
	}
	return token, nil
}

// EnvToken reads a token from an environment variable on every call.
type EnvToken struct {
	Name string
}

// Token looks up the variable.
func (e EnvToken) Token(context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(e.Name))
	if token == "" {
		return "", fmt.Errorf("environment variable %s is not set", e.Name)
	}
	return token, nil
}

// Provider holds the signed-in identity. The zero value is signed out.
type Provider struct {
	mu     sync.RWMutex
	user   suite.User
	source TokenSource
}

// New returns a signed-out Provider.
func New() *Provider {
	return &Provider{}
}

// SignIn records user and the source of their tokens.
func (p *Provider) SignIn(user suite.User, source TokenSource) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}
	if source == nil {
		return errors.New("token source is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = user
	p.source = source
	return nil
}

// SignOut forgets the current user.
func (p *Provider) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = suite.User{}
	p.source = nil
}

// CurrentUser reports the signed-in user.
func (p *Provider) CurrentUser() (suite.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.user, p.source != nil
}

// Token fetches a fresh token for the signed-in user.
func (p *Provider) Token(ctx context.Context) (string, error) {
	p.mu.RLock()
	source := p.source
	p.mu.RUnlock()
	if source == nil {
		return "", suite.ErrNoSession
	}
	return source.Token(ctx)
}

// SourceFor picks a token source by precedence: file, then env var, then
// static token. It returns nil when none is configured.
func SourceFor(token, tokenFile, tokenEnv string) TokenSource {
	switch {
	case tokenFile != "":
		return FileToken{Path: tokenFile}
	case tokenEnv != "":
		return EnvToken{Name: tokenEnv}
	case token != "":
		return StaticToken(token)
	default:
		return nil
	}
}
