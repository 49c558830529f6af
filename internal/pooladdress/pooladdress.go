// Package pooladdress maps a token pair and fee tier to the Uniswap V3 pool
// that holds them.
package pooladdress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Canonical Uniswap V3 deployment values
var (
	DefaultFactory      = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	DefaultInitCodeHash = common.HexToHash("0xe34f199b19b2b4f47f68442619d555527d244f78a3297ea89325f843f87b8b54")
)

var (
	ErrZeroAddress     = errors.New("pooladdress: zero address")
	ErrIdenticalTokens = errors.New("pooladdress: identical tokens")
	ErrInvalidFee      = errors.New("pooladdress: fee exceeds uint24")
)

const maxFee = 1<<24 - 1

// Resolver returns the pool for a token pair and fee tier.
type Resolver interface {
	Resolve(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error)
}

// SortTokens orders two tokens by numeric address value.
func SortTokens(a, b common.Address) (token0, token1 common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}

// IsToken0 reports whether token sorts before other.
func IsToken0(token, other common.Address) bool {
	return bytes.Compare(token.Bytes(), other.Bytes()) < 0
}

// Derive computes the CREATE2 address of the pool deployed by factory for the
// pair and fee. The pool does not need to exist.
func Derive(factory common.Address, initCodeHash common.Hash, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	if factory == (common.Address{}) || tokenA == (common.Address{}) || tokenB == (common.Address{}) {
		return common.Address{}, ErrZeroAddress
	}
	if tokenA == tokenB {
		return common.Address{}, ErrIdenticalTokens
	}
	if fee > maxFee {
		return common.Address{}, ErrInvalidFee
	}

	token0, token1 := SortTokens(tokenA, tokenB)

	// salt = keccak256(abi.encode(token0, token1, fee))
	encoded := make([]byte, 0, 96)
	encoded = append(encoded, common.LeftPadBytes(token0.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(token1.Bytes(), 32)...)
	encoded = append(encoded, common.LeftPadBytes(big.NewInt(int64(fee)).Bytes(), 32)...)
	salt := crypto.Keccak256Hash(encoded)

	return crypto.CreateAddress2(factory, salt, initCodeHash.Bytes()), nil
}

// Deriver resolves pools offline through CREATE2.
type Deriver struct {
	Factory      common.Address
	InitCodeHash common.Hash
}

// NewDeriver returns a Deriver, falling back to the canonical deployment for
// zero values.
func NewDeriver(factory common.Address, initCodeHash common.Hash) *Deriver {
	if factory == (common.Address{}) {
		factory = DefaultFactory
	}
	if initCodeHash == (common.Hash{}) {
		initCodeHash = DefaultInitCodeHash
	}
	return &Deriver{Factory: factory, InitCodeHash: initCodeHash}
}

// Resolve implements Resolver.
func (d *Deriver) Resolve(_ context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	return Derive(d.Factory, d.InitCodeHash, tokenA, tokenB, fee)
}

const factoryABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "tokenA", "type": "address"},
			{"internalType": "address", "name": "tokenB", "type": "address"},
			{"internalType": "uint24", "name": "fee", "type": "uint24"}
		],
		"name": "getPool",
		"outputs": [
			{"internalType": "address", "name": "pool", "type": "address"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// FactoryResolver asks the factory contract for the pool. A zero address from
// the factory means the pool has not been provisioned; Resolve then returns the
// derived address so the pair can still be registered ahead of deployment, and
// Provisioned reports false.
type FactoryResolver struct {
	deriver  *Deriver
	contract *bind.BoundContract
}

// NewFactoryResolver binds the factory contract at deriver.Factory.
func NewFactoryResolver(caller bind.ContractCaller, deriver *Deriver) (*FactoryResolver, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller is required")
	}
	if deriver == nil {
		deriver = NewDeriver(common.Address{}, common.Hash{})
	}

	parsed, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}

	return &FactoryResolver{
		deriver:  deriver,
		contract: bind.NewBoundContract(deriver.Factory, parsed, caller, nil, nil),
	}, nil
}

// Resolve implements Resolver.
func (f *FactoryResolver) Resolve(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	derived, err := f.deriver.Resolve(ctx, tokenA, tokenB, fee)
	if err != nil {
		return common.Address{}, err
	}

	onChain, err := f.getPool(ctx, tokenA, tokenB, fee)
	if err != nil {
		return common.Address{}, err
	}
	if onChain == (common.Address{}) {
		return derived, nil
	}
	if onChain != derived {
		return common.Address{}, fmt.Errorf("factory pool %s does not match derived address %s", onChain.Hex(), derived.Hex())
	}
	return onChain, nil
}

// Provisioned reports whether the factory has deployed a pool for the pair.
func (f *FactoryResolver) Provisioned(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (bool, error) {
	pool, err := f.getPool(ctx, tokenA, tokenB, fee)
	if err != nil {
		return false, err
	}
	return pool != (common.Address{}), nil
}

func (f *FactoryResolver) getPool(ctx context.Context, tokenA, tokenB common.Address, fee uint32) (common.Address, error) {
	var result []interface{}
	err := f.contract.Call(&bind.CallOpts{Context: ctx}, &result, "getPool", tokenA, tokenB, big.NewInt(int64(fee)))
	if err != nil {
		return common.Address{}, fmt.Errorf("factory getPool failed: %w", err)
	}
	if len(result) != 1 {
		return common.Address{}, fmt.Errorf("factory getPool returned %d values", len(result))
	}
	pool, ok := result[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("factory getPool returned %T", result[0])
	}
	return pool, nil
}
