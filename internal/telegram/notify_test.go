package telegram

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droidpool/droidpool/internal/config"
	"github.com/droidpool/droidpool/internal/pool"
)

func TestFormatEvent(t *testing.T) {
	t.Run("failover success", func(t *testing.T) {
		text := FormatEvent(pool.Event{Kind: pool.EventFailoverSuccess, CredentialID: "42", Ratio: 0.25})
		assert.Contains(t, text, "Failover complete")
		assert.Contains(t, text, "`42`")
		assert.Contains(t, text, "25.0%")
	})

	t.Run("failover failed without candidate", func(t *testing.T) {
		text := FormatEvent(pool.Event{Kind: pool.EventFailoverFailed, Message: "pool empty"})
		assert.Contains(t, text, "Failover failed")
		assert.Contains(t, text, "No usable backup")
		assert.Contains(t, text, "pool empty")
	})

	t.Run("failover failed with candidate", func(t *testing.T) {
		text := FormatEvent(pool.Event{Kind: pool.EventFailoverFailed, CredentialID: "42", Message: "quota exhausted"})
		assert.Contains(t, text, "`42`")
		assert.Contains(t, text, "quota exhausted")
	})

	t.Run("quota exhausted", func(t *testing.T) {
		text := FormatEvent(pool.Event{Kind: pool.EventQuotaExhausted, CredentialID: "7", Ratio: 0.995})
		assert.Contains(t, text, "Quota exhausted")
		assert.Contains(t, text, "99.5%")
	})

	t.Run("check failures do not notify", func(t *testing.T) {
		assert.Empty(t, FormatEvent(pool.Event{Kind: pool.EventCheckFailed, CredentialID: "1"}))
	})
}

type sendRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *sendRecorder) send(token string, chatID int64, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, text)
}

func (r *sendRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestNotifier(t *testing.T) {
	t.Run("disabled notifier sends nothing", func(t *testing.T) {
		rec := &sendRecorder{}
		n := NewNotifier(config.TelegramConfig{Enabled: false}, nil)
		n.send = rec.send

		n.HandleEvent(pool.Event{Kind: pool.EventFailoverSuccess, CredentialID: "1"})
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, rec.count())
	})

	t.Run("enabled notifier forwards notable events", func(t *testing.T) {
		rec := &sendRecorder{}
		n := NewNotifier(config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: 1}, nil)
		n.send = rec.send

		n.HandleEvent(pool.Event{Kind: pool.EventFailoverSuccess, CredentialID: "1", Ratio: 0.1})

		deadline := time.After(time.Second)
		for rec.count() == 0 {
			select {
			case <-deadline:
				t.Fatal("notification was not sent")
			case <-time.After(5 * time.Millisecond):
			}
		}
		require.Equal(t, 1, rec.count())
	})

	t.Run("silent event kinds are dropped", func(t *testing.T) {
		rec := &sendRecorder{}
		n := NewNotifier(config.TelegramConfig{Enabled: true, BotToken: "tok", ChatID: 1}, nil)
		n.send = rec.send

		n.HandleEvent(pool.Event{Kind: pool.EventCheckFailed})
		time.Sleep(20 * time.Millisecond)
		assert.Zero(t, rec.count())
	})
}
