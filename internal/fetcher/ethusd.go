package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	aggregatorABIJSON = `[{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"}]`

	// Chainlink USD aggregators report with 8 decimals.
	aggregatorDecimals = 8
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// EthUsdOptions parameterise the on-chain ETH/USD fetcher.
type EthUsdOptions struct {
	RPCURL      string
	FeedAddress string
	Timeout     time.Duration
}

// EthUsd reads the Chainlink ETH/USD aggregator via Ethereum RPC.
type EthUsd struct {
	opts      EthUsdOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewEthUsd builds a new ETH/USD rate fetcher.
func NewEthUsd(opts EthUsdOptions, logger zerolog.Logger) *EthUsd {
	return &EthUsd{opts: opts, logger: logger.With().Str("component", "ethusd_fetcher").Logger()}
}

// FetchEthUsd retrieves the current ETH/USD rate from the aggregator.
func (e *EthUsd) FetchEthUsd(ctx context.Context) (decimal.Decimal, error) {
	if e.opts.RPCURL == "" {
		return decimal.Decimal{}, errors.New("ethereum rpc url not configured")
	}
	if e.opts.FeedAddress == "" {
		return decimal.Decimal{}, errors.New("ethusd feed address not configured")
	}

	timeout := e.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := e.getClient(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	addr := common.HexToAddress(e.opts.FeedAddress)
	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return decimal.Decimal{}, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(outputs) != 5 {
		return decimal.Decimal{}, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode latestRoundData answer")
	}
	if answer.Sign() <= 0 {
		return decimal.Decimal{}, errors.New("aggregator returned non-positive answer")
	}

	return decimal.NewFromBigInt(answer, -aggregatorDecimals), nil
}

func (e *EthUsd) getClient(ctx context.Context) (*ethclient.Client, error) {
	e.clientMux.Lock()
	defer e.clientMux.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	client, err := ethclient.DialContext(ctx, e.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	e.client = client
	return client, nil
}

var _ EthUsdFetcher = (*EthUsd)(nil)
