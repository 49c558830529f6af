// Package blockchain provides a failover pool of JSON-RPC clients that
// satisfies bind.ContractCaller for the contract adapters.
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/resilience"
)

// ErrNoHealthyEndpoints is returned when every endpoint is down
var ErrNoHealthyEndpoints = errors.New("no healthy RPC endpoints available")

// Backend is the part of an RPC client the pool needs
type Backend interface {
	bind.ContractCaller
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// Dialer opens a Backend for url
type Dialer func(ctx context.Context, url string) (Backend, error)

// DialEthClient dials url with go-ethereum's ethclient
func DialEthClient(ctx context.Context, url string) (Backend, error) {
	return ethclient.DialContext(ctx, url)
}

// RPCEndpoint represents a single Ethereum RPC endpoint
type RPCEndpoint struct {
	URL     string
	Weight  int
	mu      sync.Mutex
	client  Backend
	healthy atomic.Bool
}

func (e *RPCEndpoint) backend() Backend {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.client
}

func (e *RPCEndpoint) setBackend(b Backend) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = b
}

// ClientPool manages multiple RPC endpoints with health tracking and failover
type ClientPool struct {
	endpoints      []*RPCEndpoint
	current        int
	mu             sync.Mutex
	dial           Dialer
	logger         *observability.Logger
	metrics        *observability.Metrics
	healthCheckTTL time.Duration
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

// ClientPoolConfig holds client pool configuration
type ClientPoolConfig struct {
	Endpoints      []EndpointConfig
	Dialer         Dialer // defaults to DialEthClient
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	HealthCheckTTL time.Duration
}

// EndpointConfig represents endpoint configuration
type EndpointConfig struct {
	URL    string
	Weight int
}

// NewClientPool dials every endpoint and starts background health checks
// bound to ctx. At least one endpoint must connect.
func NewClientPool(ctx context.Context, cfg ClientPoolConfig) (*ClientPool, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}
	if cfg.HealthCheckTTL == 0 {
		cfg.HealthCheckTTL = 30 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialEthClient
	}
	logger := cfg.Logger.Component("rpc-pool")

	endpoints := make([]*RPCEndpoint, 0, len(cfg.Endpoints))
	hasHealthy := false

	for _, epCfg := range cfg.Endpoints {
		endpoint := &RPCEndpoint{URL: epCfg.URL, Weight: epCfg.Weight}
		endpoints = append(endpoints, endpoint)

		client, err := cfg.Dialer(ctx, epCfg.URL)
		if err != nil {
			logger.LogError(ctx, "failed to connect to RPC endpoint", err, "url", epCfg.URL)
			continue
		}

		endpoint.setBackend(client)
		endpoint.healthy.Store(true)
		hasHealthy = true
		logger.LogInfo(ctx, "connected to RPC endpoint", "url", epCfg.URL, "weight", epCfg.Weight)
	}

	if !hasHealthy {
		return nil, ErrNoHealthyEndpoints
	}

	checkCtx, cancel := context.WithCancel(ctx)
	pool := &ClientPool{
		endpoints:      endpoints,
		dial:           cfg.Dialer,
		logger:         logger,
		metrics:        cfg.Metrics,
		healthCheckTTL: cfg.HealthCheckTTL,
		cancel:         cancel,
	}

	pool.wg.Add(1)
	go pool.startHealthChecks(checkCtx)

	return pool, nil
}

// next returns the next healthy endpoint using round-robin selection
func (cp *ClientPool) next() (*RPCEndpoint, Backend, error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	for attempts := 0; attempts < len(cp.endpoints); attempts++ {
		endpoint := cp.endpoints[cp.current]
		cp.current = (cp.current + 1) % len(cp.endpoints)

		if !endpoint.healthy.Load() {
			continue
		}
		if client := endpoint.backend(); client != nil {
			return endpoint, client, nil
		}
	}

	return nil, nil, ErrNoHealthyEndpoints
}

// MarkUnhealthy marks an endpoint as unhealthy until the next health check
func (cp *ClientPool) MarkUnhealthy(url string) {
	for _, endpoint := range cp.endpoints {
		if endpoint.URL != url {
			continue
		}
		if endpoint.healthy.Swap(false) {
			cp.logger.LogWarn(context.Background(), "marking RPC endpoint as unhealthy", "url", url)
			cp.metrics.RecordRPCEndpointHealth(context.Background(), url, false)
		}
		return
	}
}

// call runs fn against healthy endpoints until one answers. Reverts and
// context errors are final; transport errors fail over to the next endpoint.
func call[T any](ctx context.Context, cp *ClientPool, method string, fn func(Backend) (T, error)) (T, error) {
	var zero T
	lastErr := ErrNoHealthyEndpoints

	for attempt := 0; attempt < len(cp.endpoints); attempt++ {
		endpoint, client, err := cp.next()
		if err != nil {
			break
		}

		start := time.Now()
		out, err := fn(client)
		if err == nil {
			cp.metrics.RecordRPCCall(ctx, method, "success", time.Since(start))
			return out, nil
		}
		cp.metrics.RecordRPCCall(ctx, method, "error", time.Since(start))

		if ctx.Err() != nil || resilience.IsRevert(err) {
			return zero, err
		}
		cp.MarkUnhealthy(endpoint.URL)
		lastErr = fmt.Errorf("%s via %s: %w", method, endpoint.URL, err)
	}

	return zero, lastErr
}

// CodeAt implements bind.ContractCaller
func (cp *ClientPool) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, cp, "eth_getCode", func(b Backend) ([]byte, error) {
		return b.CodeAt(ctx, contract, blockNumber)
	})
}

// CallContract implements bind.ContractCaller
func (cp *ClientPool) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return call(ctx, cp, "eth_call", func(b Backend) ([]byte, error) {
		return b.CallContract(ctx, msg, blockNumber)
	})
}

// BlockNumber returns the latest block number from a healthy endpoint
func (cp *ClientPool) BlockNumber(ctx context.Context) (uint64, error) {
	return call(ctx, cp, "eth_blockNumber", func(b Backend) (uint64, error) {
		return b.BlockNumber(ctx)
	})
}

// startHealthChecks runs periodic health checks on all endpoints
func (cp *ClientPool) startHealthChecks(ctx context.Context) {
	defer cp.wg.Done()

	ticker := time.NewTicker(cp.healthCheckTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cp.checkAllEndpoints(ctx)
		}
	}
}

// checkAllEndpoints checks health of all endpoints concurrently
func (cp *ClientPool) checkAllEndpoints(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, endpoint := range cp.endpoints {
		wg.Add(1)
		go func(ep *RPCEndpoint) {
			defer wg.Done()
			cp.checkEndpoint(checkCtx, ep)
		}(endpoint)
	}
	wg.Wait()
}

// checkEndpoint checks if an endpoint is healthy by fetching block number
func (cp *ClientPool) checkEndpoint(ctx context.Context, endpoint *RPCEndpoint) {
	client := endpoint.backend()
	if client == nil {
		var err error
		client, err = cp.dial(ctx, endpoint.URL)
		if err != nil {
			endpoint.healthy.Store(false)
			cp.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, false)
			return
		}
		endpoint.setBackend(client)
		cp.logger.LogInfo(ctx, "reconnected to RPC endpoint", "url", endpoint.URL)
	}

	if _, err := client.BlockNumber(ctx); err != nil {
		// Our own deadline expiring says nothing about the endpoint
		if ctx.Err() != nil {
			cp.logger.LogDebug(ctx, "RPC health check interrupted", "url", endpoint.URL, "error", err.Error())
			return
		}

		if endpoint.healthy.Swap(false) {
			cp.logger.LogError(ctx, "RPC endpoint health check failed", err, "url", endpoint.URL)
		}
		cp.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, false)

		client.Close()
		endpoint.setBackend(nil)
		return
	}

	if !endpoint.healthy.Swap(true) {
		cp.logger.LogInfo(ctx, "RPC endpoint is now healthy", "url", endpoint.URL)
	}
	cp.metrics.RecordRPCEndpointHealth(ctx, endpoint.URL, true)
}

// HealthyEndpointCount returns the number of healthy endpoints
func (cp *ClientPool) HealthyEndpointCount() int {
	count := 0
	for _, endpoint := range cp.endpoints {
		if endpoint.healthy.Load() {
			count++
		}
	}
	return count
}

// EndpointStatus returns status of all endpoints
func (cp *ClientPool) EndpointStatus() map[string]bool {
	status := make(map[string]bool, len(cp.endpoints))
	for _, endpoint := range cp.endpoints {
		status[endpoint.URL] = endpoint.healthy.Load()
	}
	return status
}

// Close stops health checks and closes all client connections
func (cp *ClientPool) Close() {
	cp.cancel()
	cp.wg.Wait()

	for _, endpoint := range cp.endpoints {
		if client := endpoint.backend(); client != nil {
			client.Close()
			endpoint.setBackend(nil)
		}
	}

	cp.logger.LogInfo(context.Background(), "closed all RPC client connections")
}
