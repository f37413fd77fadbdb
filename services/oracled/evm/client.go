package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrNoContract is returned when a call targets an address without code.
var ErrNoContract = errors.New("evm: empty call result")

// Caller is the subset of the RPC client needed for view calls.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// HeaderReader exposes block headers.
type HeaderReader interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// Client is the RPC surface the readers depend on.
type Client interface {
	Caller
	HeaderReader
	Close()
}

// Dial connects to an EVM JSON-RPC endpoint.
func Dial(ctx context.Context, url string) (Client, error) {
	trimmed := strings.TrimSpace(url)
	if trimmed == "" {
		return nil, fmt.Errorf("evm: rpc url required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("evm: dial: %w", err)
	}
	return client, nil
}

type contract struct {
	name   string
	abi    abi.ABI
	caller Caller
}

func newContract(name, definition string, caller Caller) (contract, error) {
	if caller == nil {
		return contract{}, fmt.Errorf("evm: %s caller required", name)
	}
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		return contract{}, fmt.Errorf("evm: parse %s abi: %w", name, err)
	}
	return contract{name: name, abi: parsed, caller: caller}, nil
}

func (c contract) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s.%s: %w", c.name, method, err)
	}
	var blockNumber *big.Int
	if pinned, ok := pinnedBlock(ctx); ok {
		blockNumber = pinned.number
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("evm: call %s.%s at %s: %w", c.name, method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s.%s at %s", ErrNoContract, c.name, method, to.Hex())
	}
	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s.%s: %w", c.name, method, err)
	}
	return values, nil
}

func unexpected(method string, values []any) error {
	return fmt.Errorf("evm: unexpected %s result %v", method, values)
}

type blockKey struct{}

type block struct {
	number *big.Int
	time   uint64
}

// WithBlock pins contract reads made with ctx to number, whose timestamp is
// time.
func WithBlock(ctx context.Context, number *big.Int, time uint64) context.Context {
	return context.WithValue(ctx, blockKey{}, block{number: new(big.Int).Set(number), time: time})
}

func pinnedBlock(ctx context.Context) (block, bool) {
	b, ok := ctx.Value(blockKey{}).(block)
	return b, ok
}

// HeaderClock reports block timestamps. Unpinned calls read the latest header.
type HeaderClock struct {
	headers HeaderReader
}

func NewHeaderClock(headers HeaderReader) *HeaderClock {
	return &HeaderClock{headers: headers}
}

func (c *HeaderClock) Now(ctx context.Context) (uint64, error) {
	if b, ok := pinnedBlock(ctx); ok {
		return b.time, nil
	}
	header, err := c.latest(ctx)
	if err != nil {
		return 0, err
	}
	return header.Time, nil
}

// Pin fixes ctx to the latest block. An already pinned ctx is kept so nested
// adapter calls share the outer block.
func (c *HeaderClock) Pin(ctx context.Context) (context.Context, error) {
	if _, ok := pinnedBlock(ctx); ok {
		return ctx, nil
	}
	header, err := c.latest(ctx)
	if err != nil {
		return nil, err
	}
	if header.Number == nil {
		return nil, fmt.Errorf("evm: latest header has no number")
	}
	return WithBlock(ctx, header.Number, header.Time), nil
}

func (c *HeaderClock) latest(ctx context.Context) (*types.Header, error) {
	header, err := c.headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: latest header: %w", err)
	}
	if header == nil {
		return nil, fmt.Errorf("evm: latest header missing")
	}
	return header, nil
}
