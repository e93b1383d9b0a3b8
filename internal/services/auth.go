package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"tilsynsapp/internal/logger"
	"tilsynsapp/internal/models"
	"tilsynsapp/internal/remote"

	"go.uber.org/zap"
)

var (
	ErrNotLoggedIn  = errors.New("not logged in")
	ErrInvalidEmail = errors.New("invalid email address")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// LoginRemote is the part of the backend client used by the login flow.
type LoginRemote interface {
	RequestLoginLink(ctx context.Context, email string) (string, error)
	PollAuth(ctx context.Context, token string) (apiKey, email string, err error)
}

// CredentialStore persists the login secrets.
type CredentialStore interface {
	SaveAPIKey(key string) error
	APIKey() (string, error)
	SaveToken(token string) error
	Token() (string, error)
	SaveEmail(email string) error
	Email() (string, error)
	SaveLoginTimestamp() error
	IsLoginExpired(maxAge time.Duration) bool
	ClearAll() error
}

// AuthService drives the magic-link login: Input, then Waiting(email) while
// the link is pending, then LoggedIn.
type AuthService struct {
	remote LoginRemote
	store  CredentialStore
	maxAge time.Duration
	logr   *logger.Logger

	mu    sync.RWMutex
	state models.LoginState
}

func NewAuthService(remote LoginRemote, store CredentialStore, maxAge time.Duration, logr *logger.Logger) *AuthService {
	return &AuthService{
		remote: remote,
		store:  store,
		maxAge: maxAge,
		logr:   logr,
		state:  models.InputState(),
	}
}

// Restore resumes a saved login. A missing or expired API key wipes the
// store and starts over at Input.
func (s *AuthService) Restore() models.LoginState {
	key, err := s.store.APIKey()
	if err == nil && strings.TrimSpace(key) != "" && !s.store.IsLoginExpired(s.maxAge) {
		s.logr.Debug("restored valid api key")
		s.setState(models.LoggedInState())
		return s.State()
	}

	s.logr.Debug("api key expired or missing, clearing data")
	if err := s.store.ClearAll(); err != nil {
		s.logr.Warn("failed to clear secure store", zap.Error(err))
	}
	s.setState(models.InputState())
	return s.State()
}

// SendLoginEmail moves to Waiting and asks the backend for a login link.
// On failure the state stays Waiting so the user can change the address.
func (s *AuthService) SendLoginEmail(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if !emailPattern.MatchString(email) {
		return ErrInvalidEmail
	}

	s.logr.Info("sending login email", zap.String("email", email))
	s.setState(models.WaitingState(email))

	token, err := s.remote.RequestLoginLink(ctx, email)
	if err != nil {
		s.logr.Error("failed to get login token", zap.String("email", email), zap.Error(err))
		return fmt.Errorf("request login link: %w", err)
	}
	if err := s.store.SaveToken(token); err != nil {
		return fmt.Errorf("save login token: %w", err)
	}
	return nil
}

// PollOnce checks the saved token once and returns the message to show.
func (s *AuthService) PollOnce(ctx context.Context) (string, error) {
	token, err := s.store.Token()
	if err != nil || strings.TrimSpace(token) == "" {
		return models.PollWaitingForToken, nil
	}

	apiKey, email, err := s.remote.PollAuth(ctx, token)
	if err != nil {
		if !errors.Is(err, remote.ErrNotAuthorized) {
			s.logr.Warn("auth poll failed", zap.Error(err))
		}
		return models.PollAwaiting, nil
	}

	if err := s.store.SaveAPIKey(apiKey); err != nil {
		return models.PollAwaiting, fmt.Errorf("save api key: %w", err)
	}
	if email == "" {
		email = s.State().Email
	}
	if email != "" {
		if err := s.store.SaveEmail(email); err != nil {
			s.logr.Warn("failed to save email", zap.Error(err))
		}
	}
	if err := s.store.SaveLoginTimestamp(); err != nil {
		s.logr.Warn("failed to save login timestamp", zap.Error(err))
	}

	s.logr.Info("api key received, login complete")
	s.setState(models.LoggedInState())
	return models.PollApproved, nil
}

// WaitForLogin polls every interval until the login is approved or ctx ends.
// onMessage, when set, receives each polling message.
func (s *AuthService) WaitForLogin(ctx context.Context, interval time.Duration, onMessage func(string)) error {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		msg, err := s.PollOnce(ctx)
		if onMessage != nil {
			onMessage(msg)
		}
		if err != nil {
			return err
		}
		if s.State().Step == models.LoginLoggedIn {
			return nil
		}
	}
}

// ResetLogin wipes stored credentials and returns to Input.
func (s *AuthService) ResetLogin() error {
	s.setState(models.InputState())
	if err := s.store.ClearAll(); err != nil {
		return fmt.Errorf("clear secure store: %w", err)
	}
	return nil
}

func (s *AuthService) State() models.LoginState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RequireLoggedIn returns ErrNotLoggedIn unless the flow reached LoggedIn.
func (s *AuthService) RequireLoggedIn() error {
	if s.State().Step != models.LoginLoggedIn {
		return ErrNotLoggedIn
	}
	return nil
}

func (s *AuthService) setState(st models.LoginState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}
