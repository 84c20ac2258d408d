// Package identity provides the user identifier the rest of the service
// needs. It supports signing in with a custom HS256 token, anonymous sign-in,
// and notifications when the signed-in user changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("identity provider has no signing key")
	ErrInvalidToken  = errors.New("invalid identity token")
)

// User is a signed-in identity.
type User struct {
	UID       string `json:"uid"`
	Anonymous bool   `json:"anonymous"`
}

// Listener receives the signed-in user, or nil after sign-out.
type Listener func(user *User)

type Provider struct {
	mu         sync.RWMutex
	projectID  string
	signingKey []byte
	sessionKey []byte
	sessionTTL time.Duration
	current    *User
	listeners  map[int]Listener
	nextID     int
	logger     *zap.Logger
}

// NewProvider builds a provider from cfg. sessionSecret signs the session
// tokens handed to browsers and is independent of cfg.SigningKey, which only
// verifies custom sign-in tokens.
func NewProvider(cfg Config, sessionSecret string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	p := &Provider{
		projectID:  cfg.ProjectID,
		sessionKey: []byte(sessionSecret),
		sessionTTL: ttl,
		listeners:  make(map[int]Listener),
		logger:     logger,
	}
	if cfg.SigningKey != "" {
		p.signingKey = []byte(cfg.SigningKey)
	}
	return p
}

// VerifyCustomToken checks a custom sign-in token and returns its user
// without changing the provider's signed-in user.
func (p *Provider) VerifyCustomToken(tokenStr string) (User, error) {
	if len(p.signingKey) == 0 {
		return User{}, ErrNotConfigured
	}
	uid, err := parseHS256(tokenStr, p.signingKey, p.projectID)
	if err != nil {
		return User{}, err
	}
	return User{UID: uid}, nil
}

// NewAnonymousUser mints a fresh anonymous identity.
func (p *Provider) NewAnonymousUser() User {
	return User{UID: uuid.NewString(), Anonymous: true}
}

// SignInWithToken verifies tokenStr and makes its user the signed-in user.
func (p *Provider) SignInWithToken(ctx context.Context, tokenStr string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	user, err := p.VerifyCustomToken(tokenStr)
	if err != nil {
		return User{}, err
	}
	p.setCurrent(&user)
	return user, nil
}

// SignInAnonymously makes a fresh anonymous user the signed-in user.
func (p *Provider) SignInAnonymously(ctx context.Context) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	user := p.NewAnonymousUser()
	p.setCurrent(&user)
	return user, nil
}

// SignOut clears the signed-in user.
func (p *Provider) SignOut() {
	p.setCurrent(nil)
}

// CurrentUser returns the signed-in user, if any.
func (p *Provider) CurrentUser() (User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return User{}, false
	}
	return *p.current, true
}

// OnAuthStateChanged registers fn and calls it once with the current state.
// The returned func removes the registration.
func (p *Provider) OnAuthStateChanged(fn Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	var current *User
	if p.current != nil {
		u := *p.current
		current = &u
	}
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *Provider) setCurrent(user *User) {
	p.mu.Lock()
	p.current = user
	listeners := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		if user == nil {
			l(nil)
			continue
		}
		u := *user
		l(&u)
	}
}

// Bootstrap signs in at startup: with initialToken when one is given,
// falling back to anonymous sign-in. It always yields an identifier.
func (p *Provider) Bootstrap(ctx context.Context, initialToken string) string {
	if user, ok := p.CurrentUser(); ok {
		return user.UID
	}
	if initialToken != "" {
		user, err := p.SignInWithToken(ctx, initialToken)
		if err == nil {
			return user.UID
		}
		p.logger.Error("Error signing in with custom token", zap.Error(err))
	}
	user, err := p.SignInAnonymously(ctx)
	if err != nil {
		p.logger.Warn("anonymous sign-in failed, using random identifier", zap.Error(err))
		return uuid.NewString()
	}
	return user.UID
}

// IssueSessionToken creates the bearer token a browser presents on later calls.
func (p *Provider) IssueSessionToken(user User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"uid":       user.UID,
		"anonymous": user.Anonymous,
		"exp":       now.Add(p.sessionTTL).Unix(),
		"iat":       now.Unix(),
	}
	if p.projectID != "" {
		claims["iss"] = p.projectID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.sessionKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// VerifySessionToken returns the uid carried by a session token.
func (p *Provider) VerifySessionToken(tokenStr string) (string, error) {
	return parseHS256(tokenStr, p.sessionKey, p.projectID)
}

func parseHS256(tokenStr string, key []byte, issuer string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", ErrInvalidToken
	}
	uid, _ := claims["uid"].(string)
	if uid == "" {
		uid, _ = claims["sub"].(string)
	}
	if uid == "" {
		return "", fmt.Errorf("%w: missing uid claim", ErrInvalidToken)
	}
	return uid, nil
}
