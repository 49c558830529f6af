// Package metadata reads and writes Juicebox-style multiplexed payment
// metadata and the buyback quote carried inside it.
//
// Layout: 32 reserved bytes, a lookup table of 5-byte entries (4-byte id and
// 1-byte offset counted in 32-byte words) padded to a word boundary, then the
// data blocks in table order. Each block runs until the next block's offset or
// the end of the metadata.
package metadata

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	reservedSize = 32
	idSize       = 4
	entrySize    = idSize + 1
	wordSize     = 32
	minSize      = reservedSize + entrySize + 1
	maxOffset    = 255
)

// NativeToken is the sentinel address for the chain's native currency.
var NativeToken = common.HexToAddress("0x000000000000000000000000000000000000EEEe")

// QuotePurpose names the quote entry.
const QuotePurpose = "quote"

var (
	ErrMalformed = errors.New("metadata: malformed")
	ErrTooLarge  = errors.New("metadata: exceeds 255 words")
)

// ID identifies one entry in the lookup table.
type ID [idSize]byte

func (id ID) String() string {
	return fmt.Sprintf("0x%x", id[:])
}

// IDFor derives the entry id for a purpose scoped to a target address:
// the first four bytes of target XOR keccak256(purpose).
func IDFor(purpose string, target common.Address) ID {
	hash := crypto.Keccak256([]byte(purpose))
	var id ID
	for i := range id {
		id[i] = target[i] ^ hash[i]
	}
	return id
}

// Entry is one id/data pair to encode.
type Entry struct {
	ID   ID
	Data []byte
}

// Build encodes entries into metadata. Data blocks are right padded to a
// whole number of words.
func Build(entries ...Entry) ([]byte, error) {
	tableSize := pad(len(entries) * entrySize)
	offset := (reservedSize + tableSize) / wordSize

	out := make([]byte, reservedSize+tableSize)
	var data []byte
	for i, e := range entries {
		if offset > maxOffset {
			return nil, ErrTooLarge
		}
		pos := reservedSize + i*entrySize
		copy(out[pos:pos+idSize], e.ID[:])
		out[pos+idSize] = byte(offset)

		block := make([]byte, pad(len(e.Data)))
		copy(block, e.Data)
		data = append(data, block...)
		offset += len(block) / wordSize
	}

	return append(out, data...), nil
}

// Lookup returns the data block stored under id.
func Lookup(id ID, metadata []byte) ([]byte, bool, error) {
	if len(metadata) < minSize {
		return nil, false, nil
	}

	firstOffset := int(metadata[reservedSize+idSize])
	tableEnd := firstOffset * wordSize
	if firstOffset == 0 || tableEnd > len(metadata) {
		return nil, false, ErrMalformed
	}

	for i := reservedSize; i+entrySize <= tableEnd; i += entrySize {
		current := int(metadata[i+idSize])
		if current == 0 {
			break
		}
		if ID(metadata[i:i+idSize]) != id {
			continue
		}

		start := current * wordSize
		end := len(metadata)
		next := i + entrySize + idSize
		if next < tableEnd && metadata[next] != 0 {
			end = int(metadata[next]) * wordSize
		}
		if start > end || end > len(metadata) {
			return nil, false, ErrMalformed
		}
		return metadata[start:end], true, nil
	}

	return nil, false, nil
}

// Quote is the payer-supplied swap instruction.
type Quote struct {
	AmountToSwapWith     *big.Int
	MinimumSwapAmountOut *big.Int
}

var quoteArgs = mustQuoteArgs()

func mustQuoteArgs() abi.Arguments {
	uint256, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: uint256}, {Type: uint256}}
}

// EncodeQuote ABI-encodes a quote as (uint256, uint256).
func EncodeQuote(q Quote) ([]byte, error) {
	amount, minimum := q.AmountToSwapWith, q.MinimumSwapAmountOut
	if amount == nil {
		amount = new(big.Int)
	}
	if minimum == nil {
		minimum = new(big.Int)
	}
	return quoteArgs.Pack(amount, minimum)
}

// DecodeQuote parses an ABI-encoded (uint256, uint256) quote.
func DecodeQuote(data []byte) (Quote, error) {
	values, err := quoteArgs.Unpack(data)
	if err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	if len(values) != 2 {
		return Quote{}, fmt.Errorf("decode quote: %w", ErrMalformed)
	}
	amount, ok1 := values[0].(*big.Int)
	minimum, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return Quote{}, fmt.Errorf("decode quote: %w", ErrMalformed)
	}
	return Quote{AmountToSwapWith: amount, MinimumSwapAmountOut: minimum}, nil
}

// QuoteFor looks up and decodes the quote addressed to hook.
func QuoteFor(hook common.Address, metadata []byte) (Quote, bool, error) {
	data, ok, err := Lookup(IDFor(QuotePurpose, hook), metadata)
	if err != nil || !ok {
		return Quote{}, false, err
	}
	q, err := DecodeQuote(data)
	if err != nil {
		return Quote{}, false, err
	}
	return q, true, nil
}

func pad(n int) int {
	return (n + wordSize - 1) / wordSize * wordSize
}
