package amm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/resilience"
)

// Uniswap V3 Pool ABI (oracle and state methods)
const uniswapV3PoolABI = `[
	{
		"inputs": [],
		"name": "slot0",
		"outputs": [
			{"internalType": "uint160", "name": "sqrtPriceX96", "type": "uint160"},
			{"internalType": "int24", "name": "tick", "type": "int24"},
			{"internalType": "uint16", "name": "observationIndex", "type": "uint16"},
			{"internalType": "uint16", "name": "observationCardinality", "type": "uint16"},
			{"internalType": "uint16", "name": "observationCardinalityNext", "type": "uint16"},
			{"internalType": "uint8", "name": "feeProtocol", "type": "uint8"},
			{"internalType": "bool", "name": "unlocked", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint32[]", "name": "secondsAgos", "type": "uint32[]"}
		],
		"name": "observe",
		"outputs": [
			{"internalType": "int56[]", "name": "tickCumulatives", "type": "int56[]"},
			{"internalType": "uint160[]", "name": "secondsPerLiquidityCumulativeX128s", "type": "uint160[]"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "index", "type": "uint256"}
		],
		"name": "observations",
		"outputs": [
			{"internalType": "uint32", "name": "blockTimestamp", "type": "uint32"},
			{"internalType": "int56", "name": "tickCumulative", "type": "int56"},
			{"internalType": "uint160", "name": "secondsPerLiquidityCumulativeX128", "type": "uint160"},
			{"internalType": "bool", "name": "initialized", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// RPCProvider binds pools over JSON-RPC. Calls are retried on transport
// errors and guarded by a circuit breaker shared by every pool it returns.
type RPCProvider struct {
	caller  bind.ContractCaller
	abi     abi.ABI
	now     func() time.Time
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	logger  *observability.Logger
	metrics *observability.Metrics
}

// RPCProviderConfig holds RPC provider configuration
type RPCProviderConfig struct {
	Caller      bind.ContractCaller
	Now         func() time.Time // chain clock, defaults to time.Now
	RetryConfig *resilience.RetryConfig
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewRPCProvider creates a pool provider backed by caller
func NewRPCProvider(cfg RPCProviderConfig) (*RPCProvider, error) {
	if cfg.Caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retry = *cfg.RetryConfig
	}

	parsed, err := abi.JSON(strings.NewReader(uniswapV3PoolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool ABI: %w", err)
	}

	logger := cfg.Logger.Component("amm-rpc")
	return &RPCProvider{
		caller: cfg.Caller,
		abi:    parsed,
		now:    cfg.Now,
		retry:  retry,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "amm-rpc",
			OnStateChange: func(from, to resilience.State) {
				logger.LogWarn(context.Background(), "pool RPC circuit breaker state changed", "from", from.String(), "to", to.String())
				cfg.Metrics.SetCircuitBreakerState(context.Background(), "amm-rpc", int64(to))
			},
		}),
		logger:  logger,
		metrics: cfg.Metrics,
	}, nil
}

// Pool implements Provider
func (p *RPCProvider) Pool(ctx context.Context, addr common.Address) (Pool, error) {
	code, err := p.caller.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool code: %w", err)
	}
	if len(code) == 0 {
		return nil, ErrPoolNotFound
	}

	return &RPCPool{
		address:  addr,
		provider: p,
		contract: bind.NewBoundContract(addr, p.abi, p.caller, nil, nil),
	}, nil
}

// RPCPool reads a deployed pool
type RPCPool struct {
	address  common.Address
	provider *RPCProvider
	contract *bind.BoundContract
}

func (rp *RPCPool) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	p := rp.provider
	start := time.Now()

	out, err := resilience.ExecuteWithResult(p.breaker, ctx, func(ctx context.Context) ([]interface{}, error) {
		return resilience.RetryIfWithResult(ctx, p.retry, resilience.IsRetryable, func(ctx context.Context) ([]interface{}, error) {
			var result []interface{}
			if err := rp.contract.Call(&bind.CallOpts{Context: ctx}, &result, method, args...); err != nil {
				return nil, err
			}
			return result, nil
		})
	})

	status := "success"
	if err != nil {
		status = "error"
	}
	p.metrics.RecordRPCCall(ctx, "pool."+method, status, time.Since(start))

	if err != nil {
		return nil, fmt.Errorf("pool %s %s failed: %w", rp.address.Hex(), method, err)
	}
	return out, nil
}

// Address implements Pool
func (rp *RPCPool) Address() common.Address {
	return rp.address
}

// Slot0 implements Pool
func (rp *RPCPool) Slot0(ctx context.Context) (Slot0, error) {
	result, err := rp.call(ctx, "slot0")
	if err != nil {
		return Slot0{}, err
	}
	if len(result) != 7 {
		return Slot0{}, fmt.Errorf("slot0 returned %d values", len(result))
	}

	sqrtPrice, ok1 := result[0].(*big.Int)
	tick, ok2 := result[1].(*big.Int)
	index, ok3 := result[2].(uint16)
	cardinality, ok4 := result[3].(uint16)
	cardinalityNext, ok5 := result[4].(uint16)
	unlocked, ok6 := result[6].(bool)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
		return Slot0{}, fmt.Errorf("slot0 returned unexpected types")
	}

	return Slot0{
		SqrtPriceX96:               sqrtPrice,
		Tick:                       int32(tick.Int64()),
		ObservationIndex:           index,
		ObservationCardinality:     cardinality,
		ObservationCardinalityNext: cardinalityNext,
		Unlocked:                   unlocked,
	}, nil
}

// Observe implements Pool
func (rp *RPCPool) Observe(ctx context.Context, secondsAgos []uint32) ([]int64, error) {
	result, err := rp.call(ctx, "observe", secondsAgos)
	if err != nil {
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("observe returned %d values", len(result))
	}

	raw, ok := result[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("observe returned %T", result[0])
	}

	cumulatives := make([]int64, len(raw))
	for i, c := range raw {
		cumulatives[i] = c.Int64()
	}
	return cumulatives, nil
}

// OldestObservationSecondsAgo implements Pool. The oldest observation is the
// one after the current index, or index 0 when the ring has not wrapped.
func (rp *RPCPool) OldestObservationSecondsAgo(ctx context.Context) (uint32, error) {
	slot0, err := rp.Slot0(ctx)
	if err != nil {
		return 0, err
	}
	if slot0.ObservationCardinality == 0 {
		return 0, fmt.Errorf("pool %s has no observations", rp.address.Hex())
	}

	next := (uint64(slot0.ObservationIndex) + 1) % uint64(slot0.ObservationCardinality)
	ts, initialized, err := rp.observation(ctx, next)
	if err != nil {
		return 0, err
	}
	if !initialized {
		if ts, _, err = rp.observation(ctx, 0); err != nil {
			return 0, err
		}
	}

	now := uint32(rp.provider.now().Unix())
	return now - ts, nil
}

func (rp *RPCPool) observation(ctx context.Context, index uint64) (uint32, bool, error) {
	result, err := rp.call(ctx, "observations", new(big.Int).SetUint64(index))
	if err != nil {
		return 0, false, err
	}
	if len(result) != 4 {
		return 0, false, fmt.Errorf("observations returned %d values", len(result))
	}
	ts, ok1 := result[0].(uint32)
	initialized, ok2 := result[3].(bool)
	if !ok1 || !ok2 {
		return 0, false, fmt.Errorf("observations returned unexpected types")
	}
	return ts, initialized, nil
}

// Swap implements Pool. Swaps need a signer and run inside the hook's
// execution environment, never through this adapter.
func (rp *RPCPool) Swap(context.Context, common.Address, bool, *big.Int, *big.Int, []byte, SwapCallback) (SwapResult, error) {
	return SwapResult{}, ErrReadOnly
}
