package autoemitter

import (
	"context"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/internal/confirmator"
	coreemitter "github.com/goran-ethernal/chainwatch/internal/emitter"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/producer"
	"github.com/goran-ethernal/chainwatch/pkg/buffer"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	"github.com/goran-ethernal/chainwatch/pkg/emitter"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu   sync.Mutex
	head chain.BlockRef
	logs []chain.LogRecord
}

func (f *fakeSource) GetBlockHeader(ctx context.Context, number uint64) (chain.BlockRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number == chain.LatestBlockTag {
		return f.head, nil
	}
	return chain.BlockRef{Number: number}, nil
}

func (f *fakeSource) GetPastLogs(ctx context.Context, fromBlock, toBlock uint64, address common.Address, topics [][]common.Hash) ([]chain.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chain.LogRecord
	for _, l := range f.logs {
		if l.BlockNumber >= fromBlock && l.BlockNumber <= toBlock {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) setHead(h chain.BlockRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = h
}

func (f *fakeSource) addLog(l chain.LogRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
}

type fakeStore struct {
	mu            sync.Mutex
	lastFetched   *chain.BlockRef
	lastProcessed *chain.BlockRef
}

func (s *fakeStore) GetLastFetched(ctx context.Context) (*chain.BlockRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFetched, nil
}

func (s *fakeStore) SetLastFetched(ctx context.Context, ref chain.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetched = &ref
	return nil
}

func (s *fakeStore) GetLastProcessed(ctx context.Context) (*chain.BlockRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcessed, nil
}

func (s *fakeStore) SetLastProcessedIfHigher(ctx context.Context, ref chain.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastProcessed == nil || ref.Number > s.lastProcessed.Number {
		s.lastProcessed = &ref
	}
	return nil
}

type fakeRepo struct {
	mu   sync.Mutex
	rows []buffer.Event
}

func (r *fakeRepo) BulkInsert(ctx context.Context, rows []buffer.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rows...)
	return nil
}

func (r *fakeRepo) FindAll(ctx context.Context, contract common.Address) ([]buffer.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []buffer.Event
	for _, row := range r.rows {
		if row.ContractAddress == contract {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeRepo) DestroyAll(ctx context.Context, contract common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if row.ContractAddress != contract {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

func (r *fakeRepo) DestroyOne(ctx context.Context, contract common.Address, txHash common.Hash, logIndex uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.ContractAddress == contract && row.TransactionHash == txHash && row.LogIndex == logIndex {
			r.rows = append(r.rows[:i], r.rows[i+1:]...)
			return nil
		}
	}
	return nil
}

type fakeProducer struct {
	mu       sync.Mutex
	onHeader producer.Listener
	onErr    producer.ErrorListener
	started  bool
	stopped  bool
}

func (p *fakeProducer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = true
	return nil
}

func (p *fakeProducer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

func (p *fakeProducer) Subscribe(onHeader producer.Listener, onError producer.ErrorListener) producer.Unsubscribe {
	p.mu.Lock()
	p.onHeader = onHeader
	p.onErr = onError
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		p.onHeader = nil
		p.onErr = nil
		p.mu.Unlock()
	}
}

func (p *fakeProducer) pushHeader(ctx context.Context, header chain.BlockRef) {
	p.mu.Lock()
	h := p.onHeader
	p.mu.Unlock()
	if h != nil {
		h(ctx, header)
	}
}

func (p *fakeProducer) subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.onHeader != nil
}

var testContract = common.HexToAddress("0xc0ffee")

func baseConfig() emitter.Config {
	return emitter.Config{
		ContractAddress: testContract,
		Events:          []string{"Transfer"},
		BatchSize:       50,
		StartingBlock:   emitter.Genesis(),
	}
}

func TestAutoEventsEmitter_StartDrainsHistoryAndTransitionsToRunning(t *testing.T) {
	t.Parallel()

	source := &fakeSource{head: chain.BlockRef{Number: 5}}
	store := &fakeStore{}
	repo := &fakeRepo{}
	core, err := coreemitter.New("test", baseConfig(), source, store, repo, logger.NewNopLogger())
	require.NoError(t, err)

	prod := &fakeProducer{}
	auto := New("test", emitter.AutoConfig{Config: baseConfig()}, core, nil, prod, logger.NewNopLogger())
	require.Equal(t, Created, auto.State())

	require.NoError(t, auto.Start(context.Background()))
	require.Equal(t, Running, auto.State())
	require.True(t, prod.subscribed())

	processed, err := store.GetLastFetched(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(5), processed.Number)
}

func TestAutoEventsEmitter_StartEmitsInitFinished(t *testing.T) {
	t.Parallel()

	source := &fakeSource{head: chain.BlockRef{Number: 0}}
	store := &fakeStore{}
	repo := &fakeRepo{}
	core, err := coreemitter.New("test", baseConfig(), source, store, repo, logger.NewNopLogger())
	require.NoError(t, err)

	var gotInit bool
	unsub := core.Dispatcher().Subscribe(dispatch.TopicInitFinished, func(ctx context.Context, payload any) error {
		gotInit = true
		return nil
	})
	defer unsub()

	auto := New("test", emitter.AutoConfig{Config: baseConfig()}, core, nil, &fakeProducer{}, logger.NewNopLogger())
	require.NoError(t, auto.Start(context.Background()))
	require.True(t, gotInit)
}

func TestAutoEventsEmitter_FullCycle_PromotesAfterConfirmationDepth(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Confirmations = 3

	source := &fakeSource{head: chain.BlockRef{Number: 0}}
	store := &fakeStore{}
	repo := &fakeRepo{}
	core, err := coreemitter.New("test", cfg, source, store, repo, logger.NewNopLogger())
	require.NoError(t, err)

	disp := core.Dispatcher()
	confirmer := confirmator.New("test", testContract, source, store, repo, disp, logger.NewNopLogger())
	prod := &fakeProducer{}
	auto := New("test", emitter.AutoConfig{Config: cfg}, core, confirmer, prod, logger.NewNopLogger())

	var confirmedEvents []chain.LogRecord
	unsub := disp.Subscribe(dispatch.TopicNewEvent, func(ctx context.Context, payload any) error {
		confirmedEvents = append(confirmedEvents, payload.(dispatch.NewEventNotice).Event)
		return nil
	})
	defer unsub()

	ctx := context.Background()
	require.NoError(t, auto.Start(ctx))
	require.Equal(t, Running, auto.State())

	source.setHead(chain.BlockRef{Number: 10})
	source.addLog(chain.LogRecord{
		BlockNumber:     10,
		TransactionHash: common.HexToHash("0x1"),
		Address:         testContract,
		EventName:       "Transfer",
	})
	prod.pushHeader(ctx, chain.BlockRef{Number: 10})

	require.Empty(t, confirmedEvents)
	remaining, err := repo.FindAll(ctx, testContract)
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	source.setHead(chain.BlockRef{Number: 13})
	prod.pushHeader(ctx, chain.BlockRef{Number: 13})

	require.Len(t, confirmedEvents, 1)
	require.Equal(t, common.HexToHash("0x1"), confirmedEvents[0].TransactionHash)

	remaining, err = repo.FindAll(ctx, testContract)
	require.NoError(t, err)
	require.Empty(t, remaining)

	processed, err := store.GetLastProcessed(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(10), processed.Number)
}

func TestAutoEventsEmitter_StopUnsubscribesFromProducer(t *testing.T) {
	t.Parallel()

	source := &fakeSource{head: chain.BlockRef{Number: 0}}
	store := &fakeStore{}
	repo := &fakeRepo{}
	core, err := coreemitter.New("test", baseConfig(), source, store, repo, logger.NewNopLogger())
	require.NoError(t, err)

	prod := &fakeProducer{}
	auto := New("test", emitter.AutoConfig{Config: baseConfig()}, core, nil, prod, logger.NewNopLogger())

	require.NoError(t, auto.Start(context.Background()))
	require.True(t, prod.subscribed())

	require.NoError(t, auto.Stop())
	require.Equal(t, Stopped, auto.State())
	require.False(t, prod.subscribed())
}

func TestAutoEventsEmitter_SubscribeNewEventAutoStartsAndStops(t *testing.T) {
	t.Parallel()

	source := &fakeSource{head: chain.BlockRef{Number: 0}}
	store := &fakeStore{}
	repo := &fakeRepo{}
	core, err := coreemitter.New("test", baseConfig(), source, store, repo, logger.NewNopLogger())
	require.NoError(t, err)

	cfg := emitter.AutoConfig{Config: baseConfig(), AutoStart: true}
	prod := &fakeProducer{}
	auto := New("test", cfg, core, nil, prod, logger.NewNopLogger())
	require.Equal(t, Created, auto.State())

	ctx := context.Background()
	unsub := auto.SubscribeNewEvent(ctx, func(ctx context.Context, payload any) error { return nil })
	require.Equal(t, Running, auto.State())

	unsub()
	require.Equal(t, Stopped, auto.State())
}
