package rpcsource

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	"github.com/goran-ethernal/chainwatch/pkg/config"
	"github.com/stretchr/testify/require"
)

type fakeEthClient struct {
	closed bool

	getLogs func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)

	header       *types.Header
	headerErr    error
	latestHeader *types.Header
	latestErr    error
}

func (f *fakeEthClient) Close() { f.closed = true }

// mockDataError implements rpc.DataError for tests exercising the
// "too many results" classification path.
type mockDataError struct {
	msg  string
	data interface{}
}

func (e *mockDataError) Error() string          { return e.msg }
func (e *mockDataError) ErrorData() interface{} { return e.data }

func (f *fakeEthClient) GetLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return f.getLogs(ctx, q)
}

func (f *fakeEthClient) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return f.header, f.headerErr
}

func (f *fakeEthClient) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return f.latestHeader, f.latestErr
}

func noRetryConfig() *config.RetryConfig {
	cfg := &config.RetryConfig{}
	cfg.ApplyDefaults()
	cfg.MaxAttempts = 1
	return cfg
}

func TestSource_GetBlockHeader(t *testing.T) {
	t.Parallel()

	header := &types.Header{Number: big.NewInt(42)}
	fake := &fakeEthClient{header: header, latestHeader: header}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	ref, err := src.GetBlockHeader(context.Background(), 42)
	require.NoError(t, err)
	require.Equal(t, uint64(42), ref.Number)
	require.Equal(t, header.Hash(), ref.Hash)

	ref, err = src.GetBlockHeader(context.Background(), chain.LatestBlockTag)
	require.NoError(t, err)
	require.Equal(t, uint64(42), ref.Number)
}

func TestSource_GetBlockHeader_Error(t *testing.T) {
	t.Parallel()

	fake := &fakeEthClient{headerErr: errors.New("boom")}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	_, err := src.GetBlockHeader(context.Background(), 1)
	require.Error(t, err)
}

func TestSource_GetPastLogs(t *testing.T) {
	t.Parallel()

	addr := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	topic0 := ethcommon.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3e")

	fake := &fakeEthClient{
		getLogs: func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return []types.Log{
				{
					Address:     addr,
					Topics:      []ethcommon.Hash{topic0},
					BlockNumber: 10,
					TxHash:      ethcommon.HexToHash("0xaa"),
					Index:       2,
					Data:        []byte("payload"),
				},
			}, nil
		},
	}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	records, err := src.GetPastLogs(context.Background(), 1, 100, addr, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(10), records[0].BlockNumber)
	require.Equal(t, topic0.Hex(), records[0].EventName)
	require.Equal(t, []byte("payload"), records[0].DecodedPayload)
}

func TestSource_GetPastLogs_TooManyResults_SuggestedRange(t *testing.T) {
	t.Parallel()

	addr := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	var calls []ethereum.FilterQuery

	fake := &fakeEthClient{
		getLogs: func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			calls = append(calls, q)
			if len(calls) == 1 {
				return nil, &mockDataError{
					msg:  "Query returned more than 20000 results. Try with this block range [0x1, 0xa].",
					data: "Query returned more than 20000 results. Try with this block range [0x1, 0xa].",
				}
			}
			return []types.Log{{Address: addr, BlockNumber: 5}}, nil
		},
	}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	records, err := src.GetPastLogs(context.Background(), 1, 1000, addr, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, calls, 2)
	require.Equal(t, uint64(1), calls[1].FromBlock.Uint64())
	require.Equal(t, uint64(10), calls[1].ToBlock.Uint64())
}

func TestSource_GetPastLogs_TooManyResults_SplitInHalf(t *testing.T) {
	t.Parallel()

	addr := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	var calls []ethereum.FilterQuery

	tooMany := &mockDataError{
		msg:  "Query returned more than 20000 results.",
		data: "Query returned more than 20000 results.",
	}

	fake := &fakeEthClient{
		getLogs: func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			calls = append(calls, q)
			if q.FromBlock.Uint64() == 1 && q.ToBlock.Uint64() == 100 {
				return nil, tooMany
			}
			return []types.Log{{Address: addr, BlockNumber: 1}}, nil
		},
	}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	records, err := src.GetPastLogs(context.Background(), 1, 100, addr, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Len(t, calls, 2)
	require.Equal(t, uint64(1), calls[1].FromBlock.Uint64())
	require.Equal(t, uint64(50), calls[1].ToBlock.Uint64())
}

func TestSource_GetPastLogs_SingleBlockCannotSplit(t *testing.T) {
	t.Parallel()

	addr := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	tooMany := &mockDataError{
		msg:  "Query returned more than 20000 results.",
		data: "Query returned more than 20000 results.",
	}

	fake := &fakeEthClient{
		getLogs: func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return nil, tooMany
		},
	}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	_, err := src.GetPastLogs(context.Background(), 5, 5, addr, nil)
	require.Error(t, err)
}

func TestSource_GetPastLogs_NonRetryableError(t *testing.T) {
	t.Parallel()

	addr := ethcommon.HexToAddress("0x1234567890123456789012345678901234567890")
	fake := &fakeEthClient{
		getLogs: func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			return nil, errors.New("execution reverted")
		},
	}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())

	_, err := src.GetPastLogs(context.Background(), 1, 10, addr, nil)
	require.Error(t, err)
}

func TestSource_Close(t *testing.T) {
	t.Parallel()

	fake := &fakeEthClient{}
	src := newSource(fake, noRetryConfig(), logger.NewNopLogger())
	src.Close()
	require.True(t, fake.closed)
}
