package pooladdress

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	usdc = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	weth = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
)

func TestDerive_KnownPools(t *testing.T) {
	tests := []struct {
		name     string
		tokenA   common.Address
		tokenB   common.Address
		fee      uint32
		expected common.Address
	}{
		{"USDC/WETH 0.05%", usdc, weth, 500, common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")},
		{"WETH/USDC 0.3% reversed input", weth, usdc, 3000, common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Derive(DefaultFactory, DefaultInitCodeHash, tt.tokenA, tt.tokenB, tt.fee)
			require.NoError(t, err)
			require.Equal(t, tt.expected, got)
		})
	}
}

func TestDerive_OrderIndependent(t *testing.T) {
	a, err := Derive(DefaultFactory, DefaultInitCodeHash, usdc, weth, 10000)
	require.NoError(t, err)
	b, err := Derive(DefaultFactory, DefaultInitCodeHash, weth, usdc, 10000)
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := Derive(DefaultFactory, DefaultInitCodeHash, weth, usdc, 500)
	require.NoError(t, err)
	require.NotEqual(t, a, c)
}

func TestDerive_InvalidInputs(t *testing.T) {
	tests := []struct {
		name    string
		factory common.Address
		tokenA  common.Address
		tokenB  common.Address
		fee     uint32
		err     error
	}{
		{"zero factory", common.Address{}, usdc, weth, 500, ErrZeroAddress},
		{"zero token", DefaultFactory, common.Address{}, weth, 500, ErrZeroAddress},
		{"identical", DefaultFactory, weth, weth, 500, ErrIdenticalTokens},
		{"fee overflow", DefaultFactory, usdc, weth, 1 << 24, ErrInvalidFee},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Derive(tt.factory, DefaultInitCodeHash, tt.tokenA, tt.tokenB, tt.fee)
			require.ErrorIs(t, err, tt.err)
		})
	}
}

func TestSortTokens(t *testing.T) {
	token0, token1 := SortTokens(weth, usdc)
	require.Equal(t, usdc, token0)
	require.Equal(t, weth, token1)
	require.True(t, IsToken0(usdc, weth))
	require.False(t, IsToken0(weth, usdc))
}

// fakeFactory answers getPool calls with a fixed address.
type fakeFactory struct {
	pool common.Address
	err  error
}

func (f *fakeFactory) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeFactory) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	parsed, err := abi.JSON(strings.NewReader(factoryABI))
	if err != nil {
		return nil, err
	}
	return parsed.Methods["getPool"].Outputs.Pack(f.pool)
}

func TestFactoryResolver(t *testing.T) {
	ctx := context.Background()
	deriver := NewDeriver(common.Address{}, common.Hash{})
	derived, err := deriver.Resolve(ctx, usdc, weth, 500)
	require.NoError(t, err)

	t.Run("provisioned pool", func(t *testing.T) {
		resolver, err := NewFactoryResolver(&fakeFactory{pool: derived}, deriver)
		require.NoError(t, err)

		got, err := resolver.Resolve(ctx, usdc, weth, 500)
		require.NoError(t, err)
		require.Equal(t, derived, got)

		ok, err := resolver.Provisioned(ctx, usdc, weth, 500)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("not yet provisioned", func(t *testing.T) {
		resolver, err := NewFactoryResolver(&fakeFactory{}, deriver)
		require.NoError(t, err)

		got, err := resolver.Resolve(ctx, usdc, weth, 500)
		require.NoError(t, err)
		require.Equal(t, derived, got)

		ok, err := resolver.Provisioned(ctx, usdc, weth, 500)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("mismatch", func(t *testing.T) {
		resolver, err := NewFactoryResolver(&fakeFactory{pool: common.HexToAddress("0xdead")}, deriver)
		require.NoError(t, err)

		_, err = resolver.Resolve(ctx, usdc, weth, 500)
		require.Error(t, err)
	})

	t.Run("rpc error", func(t *testing.T) {
		resolver, err := NewFactoryResolver(&fakeFactory{err: errors.New("boom")}, deriver)
		require.NoError(t, err)

		_, err = resolver.Resolve(ctx, usdc, weth, 500)
		require.Error(t, err)
	})
}
