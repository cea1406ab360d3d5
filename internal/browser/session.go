package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrSession is returned when an authenticated session cannot be set up.
var ErrSession = errors.New("session could not be established")

// Engine is a launched browser able to open tabs.
type Engine interface {
	NewPage() (Page, error)
	Close() error
}

type GatewayConfig struct {
	BaseURL      string
	CookieName   string
	LockoutCodes []int
}

// Gateway opens authenticated sessions and watches them for lockout.
type Gateway struct {
	launch       func() (Engine, error)
	baseURL      string
	cookieName   string
	lockoutCodes map[int]struct{}
	logger       *slog.Logger
}

func NewGateway(launch func() (Engine, error), cfg GatewayConfig, logger *slog.Logger) *Gateway {
	codes := make(map[int]struct{}, len(cfg.LockoutCodes))
	for _, c := range cfg.LockoutCodes {
		codes[c] = struct{}{}
	}

	return &Gateway{
		launch:       launch,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		cookieName:   cfg.CookieName,
		lockoutCodes: codes,
		logger:       logger.With("component", "session_gateway"),
	}
}

// Session is one browser tab bound to one token. Close is safe to call more
// than once.
type Session struct {
	Token string
	Page  Page

	engine    Engine
	closeOnce sync.Once
	closeErr  error
}

func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.Page != nil {
			if err := s.Page.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close page: %w", err))
			}
		}
		if s.engine != nil {
			if err := s.engine.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Establish launches a browser, opens a page and applies the token. Any
// partially created resources are released before an error is returned.
func (g *Gateway) Establish(ctx context.Context, token string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: no session token", ErrSession)
	}

	engine, err := g.launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}

	page, err := engine.NewPage()
	if err != nil || page == nil {
		if closeErr := engine.Close(); closeErr != nil {
			g.logger.Warn("failed to release browser", "error", closeErr)
		}
		if err == nil {
			err = errors.New("browser returned no page")
		}
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}

	session := &Session{Token: token, Page: page, engine: engine}

	if err := g.ApplyToken(page, token); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			g.logger.Warn("failed to release browser", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}

	g.logger.Info("session established")
	return session, nil
}

// ApplyToken opens the site root and sets the auth cookie. The token is not
// validated here; a dead token shows up as a lockout response later.
func (g *Gateway) ApplyToken(page Page, token string) error {
	if err := page.Goto(g.baseURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", g.baseURL, err)
	}

	if err := page.SetCookie(Cookie{
		Name:  g.cookieName,
		Value: token,
		URL:   g.baseURL,
	}); err != nil {
		return fmt.Errorf("failed to set auth cookie: %w", err)
	}

	return nil
}

// WatchForExpiry calls onExpired the first time the page receives a response
// with a lockout status code. Later matches are ignored.
func (g *Gateway) WatchForExpiry(page Page, onExpired func(status int, url string)) {
	var once sync.Once

	page.OnResponse(func(status int, url string) {
		if !g.IsLockout(status) {
			return
		}
		once.Do(func() {
			g.logger.Error("lockout response received, session expired",
				"status", status, "url", url)
			onExpired(status, url)
		})
	})
}

func (g *Gateway) IsLockout(status int) bool {
	_, ok := g.lockoutCodes[status]
	return ok
}
