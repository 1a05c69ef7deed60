package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"email-classifier/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type botServer struct {
	mu   sync.Mutex
	sent []map[string]string
}

func (s *botServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var result any
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		result = map[string]any{"id": 1, "is_bot": true, "first_name": "clf", "username": "clf_bot"}
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		s.mu.Lock()
		s.sent = append(s.sent, map[string]string{"chat_id": r.Form.Get("chat_id"), "text": r.Form.Get("text")})
		s.mu.Unlock()
		result = map[string]any{"message_id": 10, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}}
	default:
		http.NotFound(w, r)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
}

func TestSummary(t *testing.T) {
	acc := 0.9375
	job := &models.Job{ID: "j1", ConfigPath: "configs/config.yml", Status: models.JobSucceeded, Accuracy: &acc, Promoted: true}
	assert.Equal(t, "Training job j1 succeeded\nConfig: configs/config.yml\nAccuracy: 0.9375\nModel promoted", Summary(job))

	failed := &models.Job{ID: "j2", ConfigPath: "c.yml", Status: models.JobFailed, Stage: "splitting", ErrorMessage: "boom"}
	assert.Equal(t, "Training job j2 failed\nConfig: c.yml\nError (splitting): boom", Summary(failed))
}

func TestNewTelegramWithoutTokenIsNop(t *testing.T) {
	n, err := NewTelegram("", 0, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.JobFinished(context.Background(), &models.Job{}))
}

func TestTelegramSendsSummary(t *testing.T) {
	srv := &botServer{}
	ts := httptest.NewServer(srv)
	defer ts.Close()

	api, err := tgbotapi.NewBotAPIWithClient("token", ts.URL+"/bot%s/%s", ts.Client())
	require.NoError(t, err)
	n := NewTelegramWithAPI(api, 42, zap.NewNop())

	job := &models.Job{ID: "j1", ConfigPath: "c.yml", Status: models.JobFailed, Stage: "training", ErrorMessage: "x"}
	require.NoError(t, n.JobFinished(context.Background(), job))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.sent, 1)
	assert.Equal(t, "42", srv.sent[0]["chat_id"])
	assert.Equal(t, Summary(job), srv.sent[0]["text"])
}
