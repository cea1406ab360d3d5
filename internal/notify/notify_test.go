package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/smtp"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/maltedev/company-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTitle(t *testing.T) {
	assert.Equal(t, "Scraping was completed successfully", Title(models.StatusCompleted))
	assert.Equal(t, "Scraping failed", Title(models.StatusFailed))
	assert.Equal(t, "Scraping was partially completed", Title(models.StatusPartial))
	assert.Equal(t, "Scraping in-progress", Title(models.StatusInProgress))
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	n := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Notify(context.Background(), "Scraping failed", "Session expired"))
	assert.Contains(t, buf.String(), "Scraping failed")
	assert.Contains(t, buf.String(), "Session expired")
}

type stubNotifier struct {
	calls int
	err   error
}

func (s *stubNotifier) Notify(context.Context, string, string) error {
	s.calls++
	return s.err
}

func TestMulti(t *testing.T) {
	ok := &stubNotifier{}
	bad := &stubNotifier{err: errors.New("smtp down")}

	err := Multi{ok, nil, bad}.Notify(context.Background(), "t", "b")
	assert.EqualError(t, err, "smtp down")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, bad.calls)
}

func TestEmail(t *testing.T) {
	cfg := EmailConfig{
		Server:  "smtp.example.com",
		Port:    587,
		Address: "bot@example.com",
		To:      []string{"ops@example.com"},
	}

	t.Run("sends with auth", func(t *testing.T) {
		var sent *email.Email
		var addr string
		n := NewEmail(cfg)
		n.send = func(a string, auth smtp.Auth, mail *email.Email) error {
			assert.NotNil(t, auth)
			addr, sent = a, mail
			return nil
		}

		require.NoError(t, n.Notify(context.Background(), "Scraping failed", "Session expired"))
		require.NotNil(t, sent)
		assert.Equal(t, "smtp.example.com:587", addr)
		assert.Equal(t, "Scraping failed", sent.Subject)
		assert.Equal(t, []string{"ops@example.com"}, sent.To)
		assert.Equal(t, "Company Scraper <bot@example.com>", sent.From)
		assert.Equal(t, "Session expired", string(sent.Text))
	})

	t.Run("retries without auth when unsupported", func(t *testing.T) {
		var auths []smtp.Auth
		n := NewEmail(cfg)
		n.send = func(_ string, auth smtp.Auth, _ *email.Email) error {
			auths = append(auths, auth)
			if auth != nil {
				return errors.New("smtp: server doesn't support AUTH")
			}
			return nil
		}

		require.NoError(t, n.Notify(context.Background(), "t", "b"))
		require.Len(t, auths, 2)
		assert.Nil(t, auths[1])
	})

	t.Run("returns send errors", func(t *testing.T) {
		n := NewEmail(cfg)
		n.send = func(string, smtp.Auth, *email.Email) error {
			return errors.New("connection refused")
		}

		err := n.Notify(context.Background(), "t", "b")
		assert.ErrorContains(t, err, "connection refused")
	})
}
