package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/notify"
	"chatledger/internal/repository"
	"chatledger/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// 测试统一使用 2025-06-20 作为"当前时间"，5 月及之前为已关账月份
var (
	june  = model.Period{Year: 2025, Month: 6}
	july  = model.Period{Year: 2025, Month: 7}
	today = time.Date(2025, time.June, 20, 12, 0, 0, 0, time.UTC)
)

func juneDay(d int) time.Time {
	return time.Date(2025, time.June, d, 10, 0, 0, 0, time.UTC)
}

func julyDay(d int) time.Time {
	return time.Date(2025, time.July, d, 10, 0, 0, 0, time.UTC)
}

type recordingDispatcher struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (d *recordingDispatcher) Dispatch(_ context.Context, msg notify.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	return nil
}

func (d *recordingDispatcher) messages() []notify.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Message(nil), d.msgs...)
}

type fixture struct {
	ctx        context.Context
	db         *gorm.DB
	mr         *miniredis.Miniredis
	cache      *cache.LedgerCache
	dispatcher *recordingDispatcher
	notifier   *notify.Notifier
	chats      *ChatService
	ledger     *LedgerService
	stats      *StatsService
	reconcile  *ReconcileService
	summary    *repository.SummaryRepository
	txRepo     *repository.TransactionRepository
	now        time.Time
	chatID     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	client, mr := testutil.NewRedis(t)
	cfg := config.Default()
	l := logger.Discard()

	f := &fixture{
		ctx:        context.Background(),
		db:         db,
		mr:         mr,
		cache:      cache.NewLedgerCache(client, time.Minute),
		dispatcher: &recordingDispatcher{},
		summary:    repository.NewSummaryRepository(db),
		txRepo:     repository.NewTransactionRepository(db),
		now:        today,
	}
	f.notifier = notify.NewNotifier(f.dispatcher, time.Second, l)
	f.chats = NewChatService(db, l)
	f.ledger = NewLedgerService(db, client, f.cache, f.notifier, cfg, l).
		WithClock(func() time.Time { return f.now })
	f.stats = NewStatsService(db, f.cache, l)
	f.reconcile = NewReconcileService(db, client, f.cache, l)

	chat, err := f.chats.CreateChat(f.ctx, &CreateChatRequest{
		Actor:   "alice",
		Name:    "合租",
		Members: []string{"bob", "carol"},
	})
	require.NoError(t, err)
	f.chatID = chat.ID
	return f
}

func (f *fixture) add(t *testing.T, actor, from, to string, amount int64, date time.Time) *model.Transaction {
	t.Helper()
	trans, err := f.ledger.Add(f.ctx, &AddRequest{
		ChatID: f.chatID,
		Actor:  actor,
		Amount: amount,
		Date:   date,
		From:   from,
		To:     to,
	})
	require.NoError(t, err)
	return trans
}

func (f *fixture) summaryOf(t *testing.T, p model.Period) *model.Summary {
	t.Helper()
	s, err := f.summary.Get(f.ctx, f.chatID, p)
	require.NoError(t, err)
	return s
}

// replayed 直接从流水表重算的汇总，作为对照
func (f *fixture) replayed(t *testing.T, p model.Period) *repository.PeriodAggregate {
	t.Helper()
	agg, err := f.txRepo.AggregatePeriod(f.ctx, nil, f.chatID, p)
	require.NoError(t, err)
	return agg
}

func (f *fixture) requireConsistent(t *testing.T, p model.Period) {
	t.Helper()
	s := f.summaryOf(t, p)
	agg := f.replayed(t, p)

	require.Equal(t, agg.TxCount, s.TxCount, "tx_count %s", p)
	for _, m := range []string{"alice", "bob", "carol"} {
		require.Equal(t, agg.Members[m], s.Totals(m), "member %s %s", m, p)
	}
}

func ptr[T any](v T) *T {
	return &v
}
