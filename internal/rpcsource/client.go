package rpcsource

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// EthClient is the thin RPC surface rpcsource needs from a node. It
// exists so tests can substitute a fake without dialing a real
// endpoint.
type EthClient interface {
	Close()
	GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error)
	GetLatestBlockHeader(ctx context.Context) (*types.Header, error)
}

// client wraps a go-ethereum JSON-RPC connection.
type client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

var _ EthClient = (*client)(nil)

// dial opens a new RPC connection to endpoint.
func dial(ctx context.Context, endpoint string) (*client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return &client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
	}, nil
}

func (c *client) Close() {
	c.eth.Close()
}

func (c *client) GetLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.eth.FilterLogs(ctx, query)
}

func (c *client) GetBlockHeader(ctx context.Context, blockNum uint64) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, big.NewInt(int64(blockNum)))
}

func (c *client) GetLatestBlockHeader(ctx context.Context) (*types.Header, error) {
	return c.eth.HeaderByNumber(ctx, nil)
}
