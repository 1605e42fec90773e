// Package chaintest provides an in-memory contract router for eth_call based tests.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handler receives the unpacked call arguments and returns output values to pack.
type Handler func(args []any) ([]any, error)

type route struct {
	method abi.Method
	handle Handler
}

// Contracts answers eth_call requests for registered (address, method) pairs. Calls to
// unknown addresses return empty data like an account without code.
type Contracts struct {
	mu     sync.Mutex
	routes map[common.Address][]route
	calls  map[string]int
}

func NewContracts() *Contracts {
	return &Contracts{routes: map[common.Address][]route{}, calls: map[string]int{}}
}

// Handle registers h for method of parsed on the contract at to.
func (c *Contracts) Handle(to common.Address, parsed abi.ABI, method string, h Handler) {
	m, ok := parsed.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: unknown method %s", method))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[to] = append(c.routes[to], route{method: m, handle: h})
}

// Returns registers a handler that always returns values.
func (c *Contracts) Returns(to common.Address, parsed abi.ABI, method string, values ...any) {
	c.Handle(to, parsed, method, func([]any) ([]any, error) { return values, nil })
}

// Calls reports how many times method was called on to.
func (c *Contracts) Calls(to common.Address, method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[to.Hex()+"."+method]
}

// CallContract satisfies chain.Caller.
func (c *Contracts) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, nil
	}
	c.mu.Lock()
	routes := c.routes[*msg.To]
	var matched *route
	for i := range routes {
		if bytes.Equal(routes[i].method.ID, msg.Data[:4]) {
			matched = &routes[i]
			break
		}
	}
	if matched != nil {
		c.calls[msg.To.Hex()+"."+matched.method.Name]++
	}
	c.mu.Unlock()
	if matched == nil {
		return nil, nil
	}

	args, err := matched.method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, fmt.Errorf("chaintest: unpack %s input: %w", matched.method.Name, err)
	}
	out, err := matched.handle(args)
	if err != nil {
		return nil, err
	}
	return matched.method.Outputs.Pack(out...)
}

// Field reads a named field from an unpacked tuple argument.
func Field(tuple any, name string) any {
	v := reflect.ValueOf(tuple)
	if v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	return v.FieldByName(name).Interface()
}

// RevertError mimics the JSON-RPC error returned for a reverted eth_call.
type RevertError struct {
	Data []byte
}

func (e RevertError) Error() string { return "execution reverted" }

func (e RevertError) ErrorData() interface{} { return hexutil.Encode(e.Data) }

// Revert builds a RevertError carrying Error(string) data for reason.
func Revert(reason string) RevertError {
	stringType, _ := abi.NewType("string", "", nil)
	packed, err := abi.Arguments{{Type: stringType}}.Pack(reason)
	if err != nil {
		panic(err)
	}
	return RevertError{Data: append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)}
}
