package sim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bananapus/juice-buyback-hook/internal/buyback"
	"github.com/Bananapus/juice-buyback-hook/internal/events"
	"github.com/Bananapus/juice-buyback-hook/internal/metadata"
	"github.com/Bananapus/juice-buyback-hook/internal/money"
	"github.com/Bananapus/juice-buyback-hook/internal/oracle"
	"github.com/Bananapus/juice-buyback-hook/internal/platform/observability"
	"github.com/Bananapus/juice-buyback-hook/internal/pooladdress"
	"github.com/Bananapus/juice-buyback-hook/internal/registry"
)

// Default accounts
var (
	DefaultHookAddress     = common.HexToAddress("0x00000000000000000000000000000000b0b0b0b0")
	DefaultTerminalAddress = common.HexToAddress("0x000000000000000000000000000000007e7e7e7e")
)

// EnvironmentConfig holds environment dependencies; zero values get defaults
type EnvironmentConfig struct {
	Store           registry.Store
	HookAddress     common.Address
	TerminalAddress common.Address
	WrappedNative   common.Address
	Factory         common.Address
	InitCodeHash    common.Hash
	Events          events.Sink
	Logger          *observability.Logger
	Metrics         *observability.Metrics
	Tracer          observability.Tracer
}

// Environment is a fully wired buyback deployment on a simulated chain
type Environment struct {
	Chain       *Chain
	Controller  *Controller
	Terminal    *Terminal
	Permissions *Permissions
	Registry    *registry.Registry
	Oracle      *oracle.Engine
	Hook        *buyback.Hook
	Deriver     *pooladdress.Deriver
}

// NewEnvironment wires a chain, ledger, registry, oracle and hook together
func NewEnvironment(cfg EnvironmentConfig) (*Environment, error) {
	if cfg.Store == nil {
		cfg.Store = registry.NewMemoryStore()
	}
	if cfg.HookAddress == (common.Address{}) {
		cfg.HookAddress = DefaultHookAddress
	}
	if cfg.TerminalAddress == (common.Address{}) {
		cfg.TerminalAddress = DefaultTerminalAddress
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}

	chain := NewChain(ChainConfig{
		WrappedNative: cfg.WrappedNative,
		Events:        cfg.Events,
		Logger:        cfg.Logger,
	})
	controller := NewController(chain)
	permissions := NewPermissions()
	terminal := NewTerminal(TerminalConfig{
		Address:    cfg.TerminalAddress,
		Chain:      chain,
		Controller: controller,
		Logger:     cfg.Logger,
	})
	terminal.AcceptToken(metadata.NativeToken, 18)
	terminal.AcceptToken(chain.WrappedNativeToken(), 18)

	deriver := pooladdress.NewDeriver(cfg.Factory, cfg.InitCodeHash)
	reg, err := registry.New(registry.Config{
		Store:         cfg.Store,
		Tokens:        controller,
		Permissions:   permissions,
		Resolver:      deriver,
		WrappedNative: chain.WrappedNativeToken(),
		Events:        cfg.Events,
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	engine := oracle.New(oracle.Config{
		Registry: reg,
		Pools:    chain,
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
		Tracer:   cfg.Tracer,
	})

	hook, err := buyback.New(buyback.Config{
		Address:       cfg.HookAddress,
		Registry:      reg,
		Oracle:        engine,
		Pools:         chain,
		Directory:     terminal,
		Controller:    controller,
		Terminal:      terminal,
		Tokens:        chain,
		WrappedNative: chain,
		Events:        chain,
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
		Tracer:        cfg.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create hook: %w", err)
	}

	return &Environment{
		Chain:       chain,
		Controller:  controller,
		Terminal:    terminal,
		Permissions: permissions,
		Registry:    reg,
		Oracle:      engine,
		Hook:        hook,
		Deriver:     deriver,
	}, nil
}

// ProjectConfig describes a project to launch
type ProjectConfig struct {
	ID                  uint64
	Owner               common.Address
	Weight              *big.Int
	ReservedRate        money.BPS
	ReservedBeneficiary common.Address
}

// LaunchProject issues the project's token, records its owner and weight and
// installs the buyback hook on the terminal
func (e *Environment) LaunchProject(p ProjectConfig) (common.Address, error) {
	token, err := e.Controller.IssueToken(p.ID)
	if err != nil {
		return common.Address{}, err
	}
	e.Controller.SetReservedRate(p.ID, p.ReservedRate, p.ReservedBeneficiary)
	e.Permissions.SetOwner(p.ID, p.Owner)
	e.Terminal.SetWeight(p.ID, p.Weight)
	e.Terminal.SetHook(p.ID, e.Hook)
	return token, nil
}

// PoolSeed describes the pool backing a project's buyback
type PoolSeed struct {
	ProjectID       uint64
	SettlementToken common.Address
	Fee             uint32
	// SqrtPriceX96 of token0 in token1
	SqrtPriceX96 *big.Int
	Liquidity    *big.Int
	Reserve0     *big.Int
	Reserve1     *big.Int
}

// DeployProjectPool deploys the pool for a project's token and settlement
// token at the address the registry derives for it
func (e *Environment) DeployProjectPool(ctx context.Context, seed PoolSeed) (*Pool, error) {
	projectToken, err := e.Controller.TokenOf(ctx, seed.ProjectID)
	if err != nil {
		return nil, err
	}
	if projectToken == (common.Address{}) {
		return nil, fmt.Errorf("%w: project %d", ErrNoToken, seed.ProjectID)
	}
	return e.Chain.DeployPool(PoolConfig{
		TokenA:       projectToken,
		TokenB:       e.Registry.Normalize(seed.SettlementToken),
		Fee:          seed.Fee,
		SqrtPriceX96: seed.SqrtPriceX96,
		Liquidity:    seed.Liquidity,
		Reserve0:     seed.Reserve0,
		Reserve1:     seed.Reserve1,
		Factory:      e.Deriver.Factory,
		InitCodeHash: e.Deriver.InitCodeHash,
	})
}
