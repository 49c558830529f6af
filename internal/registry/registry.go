// Package registry holds each project's buyback pool configuration: which
// pool serves a (project, settlement token) pair and the TWAP window and
// slippage tolerance used to price it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pooladdress"
)

// Bounds on the oracle parameters
const (
	MinTwapWindow            uint32 = 2 * 60
	MaxTwapWindow            uint32 = 2 * 24 * 60 * 60
	MinTwapSlippageTolerance uint32 = 100
	MaxTwapSlippageTolerance uint32 = 9000
	SlippageDenominator      uint32 = 10000
)

var (
	ErrUnauthorized                 = errors.New("registry: unauthorized")
	ErrInvalidTwapWindow            = errors.New("registry: invalid TWAP window")
	ErrInvalidTwapSlippageTolerance = errors.New("registry: invalid TWAP slippage tolerance")
	ErrNoProjectToken               = errors.New("registry: project has no token")
	ErrPoolAlreadySet               = errors.New("registry: pool already set")
)

// Permission names a configuration right a project owner can delegate
type Permission uint8

const (
	PermissionSetPool Permission = iota + 1
	PermissionSetTwapParams
)

func (p Permission) String() string {
	switch p {
	case PermissionSetPool:
		return "SET_BUYBACK_POOL"
	case PermissionSetTwapParams:
		return "SET_BUYBACK_TWAP"
	default:
		return "UNKNOWN"
	}
}

// Permissions reports whether caller may act for the project, either as its
// owner or through a delegated permission
type Permissions interface {
	HasPermission(ctx context.Context, caller common.Address, projectID uint64, permission Permission) (bool, error)
}

// TokenResolver returns a project's token, the zero address when none is issued
type TokenResolver interface {
	TokenOf(ctx context.Context, projectID uint64) (common.Address, error)
}

// ProjectPoolConfig is the joined view of a pair's pool and its project's
// TWAP parameters
type ProjectPoolConfig struct {
	ProjectID             uint64
	SettlementToken       common.Address
	Pool                  common.Address
	ProjectToken          common.Address
	Fee                   uint32
	TwapWindow            uint32
	TwapSlippageTolerance uint32
}

// ProjectTokenIsZero reports whether the project token is the pool's token0
func (c ProjectPoolConfig) ProjectTokenIsZero() bool {
	return pooladdress.IsToken0(c.ProjectToken, c.SettlementToken)
}

// Config holds registry dependencies
type Config struct {
	Store         Store
	Tokens        TokenResolver
	Permissions   Permissions
	Resolver      pooladdress.Resolver
	WrappedNative common.Address
	Events        events.Sink
	Logger        *observability.Logger
	Metrics       *observability.Metrics
}

// Registry validates and persists pool configuration
type Registry struct {
	store         Store
	tokens        TokenResolver
	permissions   Permissions
	resolver      pooladdress.Resolver
	wrappedNative common.Address
	events        events.Sink
	logger        *observability.Logger
	metrics       *observability.Metrics

	// serialises read-modify-write of TWAP params
	mu sync.Mutex
}

// New creates a Registry
func New(cfg Config) (*Registry, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("store is required")
	case cfg.Tokens == nil:
		return nil, fmt.Errorf("token resolver is required")
	case cfg.Permissions == nil:
		return nil, fmt.Errorf("permissions are required")
	case cfg.Resolver == nil:
		return nil, fmt.Errorf("pool resolver is required")
	case cfg.WrappedNative == (common.Address{}):
		return nil, fmt.Errorf("wrapped native token is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}

	return &Registry{
		store:         cfg.Store,
		tokens:        cfg.Tokens,
		permissions:   cfg.Permissions,
		resolver:      cfg.Resolver,
		wrappedNative: cfg.WrappedNative,
		events:        cfg.Events,
		logger:        cfg.Logger.Component("registry"),
		metrics:       cfg.Metrics,
	}, nil
}

// Normalize maps the native token sentinel to the wrapped native token
func (r *Registry) Normalize(token common.Address) common.Address {
	if token == metadata.NativeToken {
		return r.wrappedNative
	}
	return token
}

// WrappedNative returns the wrapped native token address
func (r *Registry) WrappedNative() common.Address {
	return r.wrappedNative
}

func (r *Registry) authorize(ctx context.Context, caller common.Address, projectID uint64, permission Permission) error {
	ok, err := r.permissions.HasPermission(ctx, caller, projectID, permission)
	if err != nil {
		return fmt.Errorf("permission check failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s lacks %s on project %d", ErrUnauthorized, caller.Hex(), permission, projectID)
	}
	return nil
}

func validateWindow(window uint32) error {
	if window < MinTwapWindow || window > MaxTwapWindow {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidTwapWindow, window, MinTwapWindow, MaxTwapWindow)
	}
	return nil
}

func validateTolerance(tolerance uint32) error {
	if tolerance < MinTwapSlippageTolerance || tolerance > MaxTwapSlippageTolerance {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrInvalidTwapSlippageTolerance, tolerance, MinTwapSlippageTolerance, MaxTwapSlippageTolerance)
	}
	return nil
}

// SetPool registers the pool for a project's settlement token and sets the
// project's TWAP parameters. The pool address is resolved, not verified: it
// may not be deployed yet.
func (r *Registry) SetPool(ctx context.Context, caller common.Address, projectID uint64, settlementToken common.Address, fee uint32, twapWindow, twapSlippageTolerance uint32) (common.Address, error) {
	if err := r.authorize(ctx, caller, projectID, PermissionSetPool); err != nil {
		return common.Address{}, err
	}
	if err := validateWindow(twapWindow); err != nil {
		return common.Address{}, err
	}
	if err := validateTolerance(twapSlippageTolerance); err != nil {
		return common.Address{}, err
	}

	projectToken, err := r.tokens.TokenOf(ctx, projectID)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to resolve project token: %w", err)
	}
	if projectToken == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: project %d", ErrNoProjectToken, projectID)
	}

	settlementToken = r.Normalize(settlementToken)

	pool, err := r.resolver.Resolve(ctx, projectToken, settlementToken, fee)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to resolve pool: %w", err)
	}

	entry := PoolEntry{Pool: pool, ProjectToken: projectToken, Fee: fee}
	params := TwapParams{Window: twapWindow, SlippageTolerance: twapSlippageTolerance}
	if err := r.store.CreatePool(ctx, projectID, settlementToken, entry, params); err != nil {
		if errors.Is(err, ErrPoolAlreadySet) {
			return common.Address{}, fmt.Errorf("%w: project %d token %s", ErrPoolAlreadySet, projectID, settlementToken.Hex())
		}
		return common.Address{}, fmt.Errorf("failed to store pool: %w", err)
	}

	r.events.Emit(ctx, events.PoolConfigured(caller, projectID, settlementToken, projectToken, pool, fee))
	r.metrics.RecordConfigChange(ctx, string(events.KindPoolConfigured))
	r.logger.LogInfo(ctx, "pool configured",
		"project_id", projectID,
		"settlement_token", settlementToken.Hex(),
		"pool", pool.Hex(),
		"fee", fee,
		"twap_window", twapWindow,
		"twap_slippage_tolerance", twapSlippageTolerance,
	)

	return pool, nil
}

// SetTwapWindow changes the project's TWAP window, keeping its tolerance
func (r *Registry) SetTwapWindow(ctx context.Context, caller common.Address, projectID uint64, window uint32) error {
	if err := r.authorize(ctx, caller, projectID, PermissionSetTwapParams); err != nil {
		return err
	}
	if err := validateWindow(window); err != nil {
		return err
	}

	old, err := r.updateTwapParams(ctx, projectID, func(p *TwapParams) { p.Window = window })
	if err != nil {
		return err
	}

	r.events.Emit(ctx, events.TwapWindowChanged(caller, projectID, old.Window, window))
	r.metrics.RecordConfigChange(ctx, string(events.KindTwapWindowChanged))
	r.logger.LogInfo(ctx, "TWAP window changed", "project_id", projectID, "old", old.Window, "new", window)
	return nil
}

// SetTwapSlippageTolerance changes the project's tolerance, keeping its window
func (r *Registry) SetTwapSlippageTolerance(ctx context.Context, caller common.Address, projectID uint64, tolerance uint32) error {
	if err := r.authorize(ctx, caller, projectID, PermissionSetTwapParams); err != nil {
		return err
	}
	if err := validateTolerance(tolerance); err != nil {
		return err
	}

	old, err := r.updateTwapParams(ctx, projectID, func(p *TwapParams) { p.SlippageTolerance = tolerance })
	if err != nil {
		return err
	}

	r.events.Emit(ctx, events.TwapSlippageToleranceChanged(caller, projectID, old.SlippageTolerance, tolerance))
	r.metrics.RecordConfigChange(ctx, string(events.KindTwapSlippageToleranceChanged))
	r.logger.LogInfo(ctx, "TWAP slippage tolerance changed", "project_id", projectID, "old", old.SlippageTolerance, "new", tolerance)
	return nil
}

func (r *Registry) updateTwapParams(ctx context.Context, projectID uint64, mutate func(*TwapParams)) (TwapParams, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, _, err := r.store.GetTwapParams(ctx, projectID)
	if err != nil {
		return TwapParams{}, fmt.Errorf("failed to read TWAP params: %w", err)
	}
	updated := old
	mutate(&updated)
	if err := r.store.PutTwapParams(ctx, projectID, updated); err != nil {
		return TwapParams{}, fmt.Errorf("failed to store TWAP params: %w", err)
	}
	return old, nil
}

// Config returns the pair's configuration; false when no pool is set
func (r *Registry) Config(ctx context.Context, projectID uint64, settlementToken common.Address) (ProjectPoolConfig, bool, error) {
	settlementToken = r.Normalize(settlementToken)

	entry, ok, err := r.store.GetPool(ctx, projectID, settlementToken)
	if err != nil {
		return ProjectPoolConfig{}, false, fmt.Errorf("failed to read pool: %w", err)
	}
	if !ok {
		return ProjectPoolConfig{}, false, nil
	}

	params, err := r.TwapParams(ctx, projectID)
	if err != nil {
		return ProjectPoolConfig{}, false, err
	}

	return ProjectPoolConfig{
		ProjectID:             projectID,
		SettlementToken:       settlementToken,
		Pool:                  entry.Pool,
		ProjectToken:          entry.ProjectToken,
		Fee:                   entry.Fee,
		TwapWindow:            params.Window,
		TwapSlippageTolerance: params.SlippageTolerance,
	}, true, nil
}

// TwapParams returns the project's TWAP parameters, zero when unset
func (r *Registry) TwapParams(ctx context.Context, projectID uint64) (TwapParams, error) {
	params, _, err := r.store.GetTwapParams(ctx, projectID)
	if err != nil {
		return TwapParams{}, fmt.Errorf("failed to read TWAP params: %w", err)
	}
	return params, nil
}
