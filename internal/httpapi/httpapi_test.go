package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"dcabot/internal/core"
	"dcabot/internal/domain"
	"dcabot/internal/infrastructure/health"
	"dcabot/internal/ledger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{})                    {}
func (noopLogger) Info(string, ...interface{})                     {}
func (noopLogger) Warn(string, ...interface{})                     {}
func (noopLogger) Error(string, ...interface{})                    {}
func (noopLogger) Fatal(string, ...interface{})                    {}
func (n noopLogger) WithField(string, interface{}) core.Logger     { return n }
func (n noopLogger) WithFields(map[string]interface{}) core.Logger { return n }

func newTestStore(t *testing.T) *ledger.SQLiteStore {
	t.Helper()
	store, err := ledger.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestHealthz_AllChecksHealthyReturns200(t *testing.T) {
	hm := health.NewHealthManager(noopLogger{})
	hm.Register("ledger", func() error { return nil })

	s := New(":0", hm, newTestStore(t), noopLogger{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)

	var status map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "Healthy", status["ledger"])
}

func TestHealthz_FailingCheckReturns503(t *testing.T) {
	hm := health.NewHealthManager(noopLogger{})
	hm.Register("ledger", func() error { return errors.New("unhealthy") })

	s := New(":0", hm, newTestStore(t), noopLogger{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, 503, rec.Code)
}

func TestRuns_ReportsActiveBotCount(t *testing.T) {
	store := newTestStore(t)
	_, err := store.CreateBot(context.Background(), domain.Bot{Status: domain.BotStatusActive, Config: domain.BotConfig{Symbol: "BTC/USD"}})
	require.NoError(t, err)
	_, err = store.CreateBot(context.Background(), domain.Bot{Status: domain.BotStatusPaused, Config: domain.BotConfig{Symbol: "ETH/USD"}})
	require.NoError(t, err)

	hm := health.NewHealthManager(noopLogger{})
	s := New(":0", hm, store, noopLogger{})

	req := httptest.NewRequest("GET", "/runs", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body["activeBots"])
}

