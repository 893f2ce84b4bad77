// Package identity verifies access tokens issued by the hosted auth service
// and reports when a verified session expires.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/realclintianoo/viralyze-app-mzoejp-sub000/internal/session"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken = errors.New("invalid access token")
	ErrNoSecret     = errors.New("jwt secret is not configured")
)

type Config struct {
	Secret string
	Issuer string
	// RevokeURL, when set, receives a POST with the access token on sign-out.
	RevokeURL string
}

// JWT is a session.Identity backed by HS256 access tokens.
type JWT struct {
	secret    []byte
	issuer    string
	revokeURL string
	http      *http.Client
	logger    *zap.Logger
	events    chan session.Event

	mu     sync.Mutex
	token  string
	expiry *time.Timer
}

func New(cfg Config, logger *zap.Logger) (*JWT, error) {
	if cfg.Secret == "" {
		return nil, ErrNoSecret
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWT{
		secret:    []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		revokeURL: cfg.RevokeURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
		events:    make(chan session.Event, 8),
	}, nil
}

// Events delivers SIGNED_OUT when the current token expires.
func (j *JWT) Events() <-chan session.Event {
	return j.events
}

// Sign issues a token for userID. It is used by tooling and tests; production
// tokens come from the auth service.
func (j *JWT) Sign(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    j.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

func (j *JWT) verify(tokenStr string) (*jwt.RegisteredClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	t, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil || !t.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing sub", ErrInvalidToken)
	}
	return claims, nil
}

// SignIn verifies the access token and returns its subject.
func (j *JWT) SignIn(ctx context.Context, creds session.Credentials) (string, error) {
	claims, err := j.verify(creds.AccessToken)
	if err != nil {
		return "", err
	}

	userID := claims.Subject
	ttl := time.Until(claims.ExpiresAt.Time)

	j.mu.Lock()
	if j.expiry != nil {
		j.expiry.Stop()
	}
	j.token = creds.AccessToken
	j.expiry = time.AfterFunc(ttl, func() {
		j.logger.Info("Access token expired", zap.String("user_id", userID))
		j.emit(session.Event{Type: session.EventSignedOut, UserID: userID})
	})
	j.mu.Unlock()

	return userID, nil
}

// SignOut forgets the token and revokes it remotely when configured.
func (j *JWT) SignOut(ctx context.Context) error {
	j.mu.Lock()
	token := j.token
	j.token = ""
	if j.expiry != nil {
		j.expiry.Stop()
		j.expiry = nil
	}
	j.mu.Unlock()

	if j.revokeURL == "" || token == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.revokeURL, nil)
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := j.http.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("revoke token: status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the expiry timer.
func (j *JWT) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.expiry != nil {
		j.expiry.Stop()
		j.expiry = nil
	}
}

func (j *JWT) emit(ev session.Event) {
	select {
	case j.events <- ev:
	default:
		j.logger.Warn("Dropping identity event", zap.String("type", string(ev.Type)))
	}
}
