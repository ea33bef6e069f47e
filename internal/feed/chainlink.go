package feed

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

	"amm-quote-engine/internal/oracle"
)

const (
	aggregatorABIJSON = `[
{"inputs":[],"name":"latestRoundData","outputs":[{"internalType":"uint80","name":"roundId","type":"uint80"},{"internalType":"int256","name":"answer","type":"int256"},{"internalType":"uint256","name":"startedAt","type":"uint256"},{"internalType":"uint256","name":"updatedAt","type":"uint256"},{"internalType":"uint80","name":"answeredInRound","type":"uint80"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`
)

var aggregatorABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aggregatorABIJSON))
	if err != nil {
		panic("failed to parse aggregator ABI: " + err.Error())
	}
	aggregatorABI = parsed
}

// ChainlinkOptions parameterise the on-chain primary source.
type ChainlinkOptions struct {
	RPCURL            string
	AggregatorAddress string
	Timeout           time.Duration
}

// Chainlink reads a price aggregator contract via Ethereum RPC.
type Chainlink struct {
	opts   ChainlinkOptions
	logger zerolog.Logger

	clientMux sync.Mutex
	client    *ethclient.Client

	decimalsMux sync.Mutex
	decimals    int32
	hasDecimals bool
}

// NewChainlink builds the primary source.
func NewChainlink(opts ChainlinkOptions, logger zerolog.Logger) *Chainlink {
	return &Chainlink{opts: opts, logger: logger.With().Str("component", "chainlink_feed").Logger()}
}

// FetchPrimary reads latestRoundData and converts it to an oracle sample. The
// sample age is derived from the round's updatedAt timestamp.
func (c *Chainlink) FetchPrimary(ctx context.Context) (oracle.Sample, uint64, error) {
	if c.opts.RPCURL == "" {
		return oracle.Sample{}, 0, errors.New("ethereum rpc url not configured")
	}
	if c.opts.AggregatorAddress == "" {
		return oracle.Sample{}, 0, errors.New("aggregator contract address not configured")
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return oracle.Sample{}, 0, err
	}

	addr := common.HexToAddress(c.opts.AggregatorAddress)

	dec, err := c.fetchDecimals(ctx, client, addr)
	if err != nil {
		return oracle.Sample{}, 0, err
	}

	payload, err := aggregatorABI.Pack("latestRoundData")
	if err != nil {
		return oracle.Sample{}, 0, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return oracle.Sample{}, 0, err
	}

	outputs, err := aggregatorABI.Unpack("latestRoundData", res)
	if err != nil {
		return oracle.Sample{}, 0, err
	}
	if len(outputs) != 5 {
		return oracle.Sample{}, 0, errors.New("unexpected latestRoundData response")
	}

	answer, ok := outputs[1].(*big.Int)
	if !ok {
		return oracle.Sample{}, 0, errors.New("failed to decode aggregator answer")
	}
	updatedAt, ok := outputs[3].(*big.Int)
	if !ok {
		return oracle.Sample{}, 0, errors.New("failed to decode aggregator updatedAt")
	}

	if answer.Sign() <= 0 {
		return oracle.Sample{}, 0, errors.New("aggregator answer not positive")
	}

	ageSec := time.Now().Unix() - updatedAt.Int64()
	if ageSec < 0 {
		ageSec = 0
	}

	sample := oracle.Sample{
		Mid:    decimal.NewFromBigInt(answer, -dec),
		AgeSec: ageSec,
		Status: oracle.StatusOK,
	}

	blockNumber, err := client.BlockNumber(ctx)
	if err != nil {
		return oracle.Sample{}, 0, err
	}

	return sample, blockNumber, nil
}

// fetchDecimals reads the aggregator's decimals once and caches it; the
// value is immutable on-chain.
func (c *Chainlink) fetchDecimals(ctx context.Context, client *ethclient.Client, addr common.Address) (int32, error) {
	c.decimalsMux.Lock()
	defer c.decimalsMux.Unlock()

	if c.hasDecimals {
		return c.decimals, nil
	}

	payload, err := aggregatorABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return 0, err
	}
	outputs, err := aggregatorABI.Unpack("decimals", res)
	if err != nil {
		return 0, err
	}
	if len(outputs) != 1 {
		return 0, errors.New("unexpected decimals response")
	}
	value, ok := outputs[0].(uint8)
	if !ok {
		return 0, errors.New("failed to decode decimals output")
	}

	c.decimals = int32(value)
	c.hasDecimals = true
	return c.decimals, nil
}

func (c *Chainlink) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

var _ PrimarySource = (*Chainlink)(nil)
