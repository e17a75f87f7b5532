// Package evmtest provides an in-memory contract backend for tests.
package evmtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Handler answers one contract method. It receives the decoded inputs and
// returns the outputs to encode, or an error to surface as a failed call.
type Handler func(args []any) ([]any, error)

type route struct {
	method abi.Method
	fn     Handler
}

// Caller implements bind.ContractCaller by dispatching eth_call requests to
// registered handlers keyed by contract address and method selector.
type Caller struct {
	mu     sync.Mutex
	routes map[common.Address]map[[4]byte]route
	calls  map[string]int
}

// NewCaller returns an empty backend.
func NewCaller() *Caller {
	return &Caller{
		routes: make(map[common.Address]map[[4]byte]route),
		calls:  make(map[string]int),
	}
}

// Handle registers fn for method of parsed at addr.
func (c *Caller) Handle(addr common.Address, parsed abi.ABI, method string, fn Handler) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic("evmtest: unknown method " + method)
	}
	var sel [4]byte
	copy(sel[:], m.ID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.routes[addr] == nil {
		c.routes[addr] = make(map[[4]byte]route)
	}
	c.routes[addr][sel] = route{method: m, fn: fn}
}

// Returns registers a handler that always answers with outs.
func (c *Caller) Returns(addr common.Address, parsed abi.ABI, method string, outs ...any) {
	c.Handle(addr, parsed, method, func([]any) ([]any, error) { return outs, nil })
}

// Calls reports how many times method was invoked on any address.
func (c *Caller) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// CodeAt reports non-empty code for every registered address.
func (c *Caller) CodeAt(_ context.Context, contract common.Address, _ *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.routes[contract]; ok {
		return []byte{0x60}, nil
	}
	return nil, nil
}

// CallContract executes the registered handler.
func (c *Caller) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, errors.New("evmtest: malformed call")
	}
	var sel [4]byte
	copy(sel[:], msg.Data[:4])

	c.mu.Lock()
	r, ok := c.routes[*msg.To][sel]
	if ok {
		c.calls[r.method.Name]++
	}
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("evmtest: no handler for %x at %s", sel, msg.To.Hex())
	}

	args, err := r.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("evmtest: decode %s: %w", r.method.Name, err)
	}
	outs, err := r.fn(args)
	if err != nil {
		return nil, err
	}
	return r.method.Outputs.Pack(outs...)
}
