package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"airamed/internal/guard"
	"airamed/pkg/interfaces"
	"airamed/pkg/types"
)

var (
	ErrMissingCredentials = errors.New("username and password are required")
	ErrUnsupportedRole    = errors.New("server returned an unsupported role")
)

// Exchanger trades credentials for a token
type Exchanger interface {
	Exchange(ctx context.Context, username, password string) (types.LoginResponse, error)
}

// Service runs the login and logout flows
type Service struct {
	exchanger Exchanger
	sessions  interfaces.SessionStore
	navigator interfaces.Navigator
}

// NewService creates the auth flow over the given collaborators
func NewService(exchanger Exchanger, sessions interfaces.SessionStore, navigator interfaces.Navigator) *Service {
	return &Service{exchanger: exchanger, sessions: sessions, navigator: navigator}
}

// Login exchanges credentials, establishes the session and navigates to the
// role's dashboard. On any failure the current session is left untouched.
func (s *Service) Login(ctx context.Context, username, password string) (types.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return types.Session{}, ErrMissingCredentials
	}

	resp, err := s.exchanger.Exchange(ctx, username, password)
	if err != nil {
		return types.Session{}, fmt.Errorf("login: %w", err)
	}

	role, err := types.ParseRole(resp.Role)
	if err != nil {
		return types.Session{}, fmt.Errorf("%w: %q", ErrUnsupportedRole, resp.Role)
	}

	if err := s.sessions.Login(ctx, resp.AccessToken, role, resp.FacilityIDString()); err != nil {
		return types.Session{}, fmt.Errorf("login: %w", err)
	}

	landing := guard.LandingRoute(role)
	log.Printf("Auth: %s signed in as %s, landing on %s", username, role, landing)
	s.navigator.Push(landing)

	return s.sessions.CurrentSession(), nil
}

// Logout ends the session. The guard's watch moves the navigator off any
// protected route.
func (s *Service) Logout(ctx context.Context) error {
	return s.sessions.Logout(ctx)
}
