package ledger

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"dcabot/internal/domain"
	"dcabot/pkg/apperrors"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// ledgerState is the full in-memory document this store serializes to
// sqlite on every mutation. A single mutex around the document gives the
// compare-and-set semantics §5 asks of the persistence layer: there is
// no multi-document cross-bot transaction, only one writer at a time.
type ledgerState struct {
	Bots          map[string]domain.Bot          `json:"bots"`
	Entries       map[string]domain.Entry        `json:"entries"`
	PendingOrders map[string]domain.PendingOrder `json:"pendingOrders"`
	Executions    []domain.BotExecution          `json:"botExecutions"`
	RunSummaries  []domain.RunSummary            `json:"systemLogs"`
	AppliedTxIDs  map[string]bool                `json:"appliedTxIds"`
}

func newLedgerState() *ledgerState {
	return &ledgerState{
		Bots:          make(map[string]domain.Bot),
		Entries:       make(map[string]domain.Entry),
		PendingOrders: make(map[string]domain.PendingOrder),
		AppliedTxIDs:  make(map[string]bool),
	}
}

// SQLiteStore is the concrete Store implementation: an in-memory document
// guarded by a mutex, write-through persisted to sqlite as a single
// checksummed JSON blob (grounded on the teacher's simple-engine state
// store, which used the identical checksum-and-replace pattern).
type SQLiteStore struct {
	mu    sync.Mutex
	db    *sql.DB
	state *ledgerState
}

// NewSQLiteStore opens (and, if empty, initializes) the ledger database
// at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping ledger db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS ledger_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL,
		checksum BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create ledger_state table: %w", err)
	}

	store := &SQLiteStore{db: db}
	state, err := store.load()
	if err != nil {
		return nil, err
	}
	store.state = state
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) load() (*ledgerState, error) {
	var data string
	var checksum []byte
	err := s.db.QueryRow(`SELECT data, checksum FROM ledger_state WHERE id = 1`).Scan(&data, &checksum)
	if err == sql.ErrNoRows {
		return newLedgerState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}
	sum := sha256.Sum256([]byte(data))
	if len(checksum) != len(sum) || string(checksum) != string(sum[:]) {
		return nil, fmt.Errorf("ledger state checksum mismatch: data corruption detected")
	}
	state := newLedgerState()
	if err := json.Unmarshal([]byte(data), state); err != nil {
		return nil, fmt.Errorf("unmarshal ledger state: %w", err)
	}
	if state.AppliedTxIDs == nil {
		state.AppliedTxIDs = make(map[string]bool)
	}
	return state, nil
}

// persist must be called while s.mu is held; it writes the full document
// back to sqlite.
func (s *SQLiteStore) persist(ctx context.Context) error {
	data, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("marshal ledger state: %w", err)
	}
	checksum := sha256.Sum256(data)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO ledger_state (id, data, checksum, updated_at) VALUES (1, ?, ?, ?)`,
		string(data), checksum[:], time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("write ledger state: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) ActiveBots(ctx context.Context) ([]domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bot, 0, len(s.state.Bots))
	for _, b := range s.state.Bots {
		if b.Status == domain.BotStatusActive {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *SQLiteStore) GetBot(ctx context.Context, botID string) (domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.Bots[botID]
	if !ok {
		return domain.Bot{}, apperrors.ErrBotNotFound
	}
	return b, nil
}

func (s *SQLiteStore) HasInFlightOrder(ctx context.Context, botID string, side domain.OrderSide) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasInFlightOrderLocked(botID, side), nil
}

func (s *SQLiteStore) hasInFlightOrderLocked(botID string, side domain.OrderSide) bool {
	for _, o := range s.state.PendingOrders {
		if o.BotID != botID || o.Side != side {
			continue
		}
		switch o.Status {
		case domain.PendingOrderStatusPending, domain.PendingOrderStatusProcessing, domain.PendingOrderStatusRetry:
			return true
		}
	}
	return false
}

func (s *SQLiteStore) AppendPendingOrder(ctx context.Context, order domain.PendingOrder) (domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasInFlightOrderLocked(order.BotID, order.Side) {
		return domain.PendingOrder{}, conflictErr()
	}

	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	order.Status = domain.PendingOrderStatusPending
	order.CreatedAt = time.Now().UTC()
	order.UpdatedAt = order.CreatedAt
	s.state.PendingOrders[order.ID] = order

	if err := s.persist(ctx); err != nil {
		return domain.PendingOrder{}, err
	}
	return order, nil
}

func (s *SQLiteStore) TransitionToExiting(ctx context.Context, botID string, sellOrder domain.PendingOrder) (domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, ok := s.state.Bots[botID]
	if !ok {
		return domain.PendingOrder{}, apperrors.ErrBotNotFound
	}
	if s.hasInFlightOrderLocked(botID, domain.OrderSideSell) {
		return domain.PendingOrder{}, conflictErr()
	}

	if sellOrder.ID == "" {
		sellOrder.ID = uuid.NewString()
	}
	sellOrder.BotID = botID
	sellOrder.Status = domain.PendingOrderStatusPending
	sellOrder.CreatedAt = time.Now().UTC()
	sellOrder.UpdatedAt = sellOrder.CreatedAt

	bot.Status = domain.BotStatusExiting
	bot.UpdatedAt = sellOrder.CreatedAt

	s.state.Bots[botID] = bot
	s.state.PendingOrders[sellOrder.ID] = sellOrder

	if err := s.persist(ctx); err != nil {
		return domain.PendingOrder{}, err
	}
	return sellOrder, nil
}

func (s *SQLiteStore) ClaimNextDuePendingOrder(ctx context.Context, now time.Time) (domain.PendingOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, o := range s.state.PendingOrders {
		if o.Status != domain.PendingOrderStatusPending && o.Status != domain.PendingOrderStatusRetry {
			continue
		}
		if o.NextRetryAt.After(now) {
			continue
		}
		o.Status = domain.PendingOrderStatusProcessing
		o.UpdatedAt = now
		s.state.PendingOrders[id] = o
		if err := s.persist(ctx); err != nil {
			return domain.PendingOrder{}, false, err
		}
		return o, true, nil
	}
	return domain.PendingOrder{}, false, nil
}

func (s *SQLiteStore) RecordFill(ctx context.Context, order domain.PendingOrder, result FillResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.TxID != "" && s.state.AppliedTxIDs[result.TxID] {
		return nil // already applied; recordFill is idempotent per txid (P7).
	}

	bot, ok := s.state.Bots[order.BotID]
	if !ok {
		return apperrors.ErrBotNotFound
	}

	if order.Side == domain.OrderSideBuy {
		entryNumber := bot.CurrentEntryCount + 1
		entry := domain.Entry{
			ID:          uuid.NewString(),
			BotID:       bot.ID,
			CycleID:     bot.CycleID,
			CycleNumber: bot.CycleNumber,
			EntryNumber: entryNumber,
			OrderAmount: result.ExecutedCost,
			Price:       result.ExecutedCost.Div(result.ExecutedVolume),
			Quantity:    result.ExecutedVolume,
			Timestamp:   result.Timestamp,
			OrderID:     order.ID,
			Status:      domain.EntryStatusFilled,
			Source:      domain.EntrySourceBotExecution,
		}
		s.state.Entries[entry.ID] = entry

		bot.CurrentEntryCount = entryNumber
		bot.TotalInvested = bot.TotalInvested.Add(result.ExecutedCost)
		bot.TotalVolume = bot.TotalVolume.Add(result.ExecutedVolume)
		bot.LastEntryTime = result.Timestamp
		bot.LastEntryPrice = entry.Price
		bot.UpdatedAt = result.Timestamp
		s.state.Bots[bot.ID] = bot
	} else {
		s.closeCycleLocked(&bot, result)
		s.state.Bots[bot.ID] = bot
	}

	order.Status = domain.PendingOrderStatusCompleted
	order.TxID = result.TxID
	order.UpdatedAt = result.Timestamp
	s.state.PendingOrders[order.ID] = order

	if result.TxID != "" {
		s.state.AppliedTxIDs[result.TxID] = true
	}

	return s.persist(ctx)
}

// closeCycleLocked applies §4.4's cycle-close bookkeeping. Caller must
// hold s.mu.
func (s *SQLiteStore) closeCycleLocked(bot *domain.Bot, result FillResult) {
	grossProceeds := result.ExecutedCost.Sub(result.Fee)
	realizedPnL := grossProceeds.Sub(bot.TotalInvested)

	bot.PreviousCycles = append(bot.PreviousCycles, domain.ClosedCycle{
		CycleID:     bot.CycleID,
		CycleNumber: bot.CycleNumber,
		StartTime:   bot.CycleStartTime,
		EndTime:     result.Timestamp,
		Invested:    bot.TotalInvested,
		Recovered:   grossProceeds,
		RealizedPnL: realizedPnL,
	})

	bot.CurrentEntryCount = 0
	bot.TotalInvested = decimal.Zero
	bot.TotalVolume = decimal.Zero
	bot.LastExitTime = result.Timestamp
	bot.LastExitPrice = result.ExecutedCost.Div(result.ExecutedVolume)
	bot.MaxPriceSinceTP = decimal.Zero
	bot.CycleNumber++
	bot.CycleID = openCycleID(result.Timestamp)
	bot.CycleStartTime = result.Timestamp
	bot.Status = domain.BotStatusActive
	bot.UpdatedAt = result.Timestamp
}

func (s *SQLiteStore) MarkOrderRetry(ctx context.Context, orderID string, errMsg string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.PendingOrders[orderID]
	if !ok {
		return apperrors.ErrBotNotFound
	}
	o.Attempts++
	o.Status = domain.PendingOrderStatusRetry
	o.NextRetryAt = nextRetryAt
	o.LastError = errMsg
	o.Errors = append(o.Errors, errMsg)
	o.UpdatedAt = time.Now().UTC()
	s.state.PendingOrders[orderID] = o

	return s.persist(ctx)
}

func (s *SQLiteStore) MarkOrderFailed(ctx context.Context, orderID string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.PendingOrders[orderID]
	if !ok {
		return apperrors.ErrBotNotFound
	}
	o.Status = domain.PendingOrderStatusFailed
	o.LastError = errMsg
	o.Errors = append(o.Errors, errMsg)
	o.UpdatedAt = time.Now().UTC()
	s.state.PendingOrders[orderID] = o

	if o.Side == domain.OrderSideSell {
		if bot, ok := s.state.Bots[o.BotID]; ok && bot.Status == domain.BotStatusExiting {
			bot.Status = domain.BotStatusActive
			bot.LastFailedExitReason = errMsg
			bot.LastFailedExitTime = o.UpdatedAt
			bot.UpdatedAt = o.UpdatedAt
			s.state.Bots[o.BotID] = bot
		}
	}

	return s.persist(ctx)
}

func (s *SQLiteStore) StuckProcessingOrders(ctx context.Context, olderThan time.Time) ([]domain.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.PendingOrder
	for _, o := range s.state.PendingOrders {
		if o.Status == domain.PendingOrderStatusProcessing && o.UpdatedAt.Before(olderThan) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *SQLiteStore) UpdateMaxPriceSinceTP(ctx context.Context, botID string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bot, ok := s.state.Bots[botID]
	if !ok {
		return apperrors.ErrBotNotFound
	}
	bot.MaxPriceSinceTP = value
	bot.UpdatedAt = time.Now().UTC()
	s.state.Bots[botID] = bot
	return s.persist(ctx)
}

func (s *SQLiteStore) RecordExecution(ctx context.Context, exec domain.BotExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	s.state.Executions = append(s.state.Executions, exec)
	return s.persist(ctx)
}

func (s *SQLiteStore) RecordRunSummary(ctx context.Context, summary domain.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.RunSummaries = append(s.state.RunSummaries, summary)
	return s.persist(ctx)
}

// CreateBot inserts a new bot row. Not part of Store (bot CRUD is the
// out-of-scope HTTP/CLI surface's job) but exposed for tests and seeding.
func (s *SQLiteStore) CreateBot(ctx context.Context, bot domain.Bot) (domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if bot.ID == "" {
		bot.ID = uuid.NewString()
	}
	if bot.CycleID == "" {
		bot.CycleID = openCycleID(time.Now().UTC())
		bot.CycleStartTime = time.Now().UTC()
	}
	bot.UpdatedAt = time.Now().UTC()
	s.state.Bots[bot.ID] = bot

	if err := s.persist(ctx); err != nil {
		return domain.Bot{}, err
	}
	return bot, nil
}
