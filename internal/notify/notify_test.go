package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betmatch/betmatch/internal/domain"
)

type recordingSender struct {
	titles []string
	err    error
}

func (r *recordingSender) Send(_ context.Context, title, _ string) error {
	if r.err != nil {
		return r.err
	}
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordingSender) Name() string { return "recording" }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func settledEvent() domain.Event {
	settlement := domain.SettlementCreatorWins
	return domain.Event{
		Type: domain.EventMarketSettled,
		Market: domain.Market{
			ID:                      7,
			Title:                   "BTC above 100k",
			StakeAmount:             decimal.RequireFromString("0.10"),
			CounterpartyStakeAmount: decimal.RequireFromString("0.10"),
			Settlement:              &settlement,
		},
	}
}

func TestNotifierFiltersByEventType(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, []string{"market_settled"}, testLogger())

	n.Publish(context.Background(), domain.Event{Type: domain.EventMarketCreated})
	n.Publish(context.Background(), settledEvent())

	assert.Equal(t, []string{"Market settled"}, rec.titles)
}

func TestNotifierEmptyFilterAllowsAll(t *testing.T) {
	rec := &recordingSender{}
	n := NewNotifier([]Sender{rec}, nil, testLogger())

	n.Publish(context.Background(), domain.Event{Type: domain.EventMarketCreated})
	n.Publish(context.Background(), settledEvent())

	assert.Len(t, rec.titles, 2)
}

func TestTelegramSenderPostsMessage(t *testing.T) {
	var got struct {
		ChatID    string `json:"chat_id"`
		Text      string `json:"text"`
		ParseMode string `json:"parse_mode"`
	}
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewTelegramSender("bot-token", "chat-42")
	s.apiBase = ts.URL

	require.NoError(t, s.Send(context.Background(), "Market settled", "#7 settled"))
	assert.Equal(t, "/botbot-token/sendMessage", path)
	assert.Equal(t, "chat-42", got.ChatID)
	assert.Equal(t, "*Market settled*\n#7 settled", got.Text)
	assert.Equal(t, "Markdown", got.ParseMode)
}

func TestDiscordSenderReportsErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusNotFound)
	}))
	defer ts.Close()

	s := NewDiscordSender(ts.URL)
	err := s.Send(context.Background(), "Market settled", "#7 settled")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: status 404")
}
