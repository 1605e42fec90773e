// Package exectest provides a recording transaction sender for component tests.
package exectest

import (
	"context"
	"fmt"
	"sync"

	clierr "github.com/ggonzalez94/v3swap/internal/errors"
	"github.com/ggonzalez94/v3swap/internal/execution"
)

// Sender records every request. OnSend, when set, decides the outcome of each call. An
// error flagged as reverted comes back with a status-0 receipt, like a mined revert.
type Sender struct {
	mu       sync.Mutex
	Requests []execution.TxRequest
	OnSend   func(req execution.TxRequest) error
}

func (s *Sender) Send(_ context.Context, req execution.TxRequest) (*execution.Receipt, error) {
	s.mu.Lock()
	s.Requests = append(s.Requests, req)
	n := len(s.Requests)
	s.mu.Unlock()

	receipt := &execution.Receipt{
		Label:       req.Label,
		TxHash:      fmt.Sprintf("0x%064x", n),
		GasLimit:    150_000,
		GasUsed:     100_000,
		BlockNumber: uint64(n),
		Status:      1,
	}
	if s.OnSend != nil {
		if err := s.OnSend(req); err != nil {
			if !clierr.IsReverted(err) {
				return nil, err
			}
			receipt.Status = 0
			return receipt, err
		}
	}
	return receipt, nil
}

// Labels lists the labels of recorded requests in order.
func (s *Sender) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.Requests))
	for _, r := range s.Requests {
		out = append(out, r.Label)
	}
	return out
}
