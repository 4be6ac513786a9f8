package kraken

import (
	"encoding/json"
	"sync"

	"dcabot/internal/core"
	"dcabot/pkg/websocket"

	"github.com/shopspring/decimal"
)

// balanceCache mirrors Kraken's private WebSocket balance feed so
// GetBalance can merge it with REST reads: if REST reports zero for an
// asset the cache holds a nonzero value for, the cache wins (§4.1).
type balanceCache struct {
	mu      sync.RWMutex
	balance map[string]decimal.Decimal
	ws      *websocket.Client
}

func newBalanceCache(wsURL string, logger core.Logger) *balanceCache {
	bc := &balanceCache{balance: make(map[string]decimal.Decimal)}
	bc.ws = websocket.NewClient(wsURL, bc.onMessage, logger)
	return bc
}

func (bc *balanceCache) Start() { bc.ws.Start() }
func (bc *balanceCache) Stop()  { bc.ws.Stop() }

// balanceUpdate is the minimal shape of a Kraken balances channel message
// this cache understands: {"asset": "XXBT", "balance": "1.23456789"}.
type balanceUpdate struct {
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

func (bc *balanceCache) onMessage(raw []byte) {
	var upd balanceUpdate
	if err := json.Unmarshal(raw, &upd); err != nil || upd.Asset == "" {
		return
	}
	amount, err := decimal.NewFromString(upd.Balance)
	if err != nil {
		return
	}

	bc.mu.Lock()
	bc.balance[upd.Asset] = amount
	bc.mu.Unlock()
}

// Merge overlays cached nonzero balances onto a REST-sourced balance map
// wherever REST reported zero.
func (bc *balanceCache) Merge(rest map[string]decimal.Decimal) map[string]decimal.Decimal {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	merged := make(map[string]decimal.Decimal, len(rest))
	for asset, qty := range rest {
		merged[asset] = qty
	}
	for asset, qty := range bc.balance {
		if existing, ok := merged[asset]; !ok || existing.IsZero() {
			if !qty.IsZero() {
				merged[asset] = qty
			}
		}
	}
	return merged
}
