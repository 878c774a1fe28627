package chain

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Simulator is an in-process Executor for local development. It mints
// references and tracks escrow holds in memory; releasing the same escrow
// twice reports duplicate success, matching the real service's idempotency
// contract.
type Simulator struct {
	mu       sync.Mutex
	escrows  map[string]EscrowParams
	released map[string]string
}

// NewSimulator creates an in-memory chain executor.
func NewSimulator() *Simulator {
	return &Simulator{
		escrows:  make(map[string]EscrowParams),
		released: make(map[string]string),
	}
}

func (s *Simulator) Transfer(ctx context.Context, assetID, from, to string, units float64) (string, error) {
	return "tx-" + uuid.NewString(), nil
}

func (s *Simulator) OpenEscrow(ctx context.Context, params EscrowParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := "escrow-" + uuid.NewString()
	s.escrows[ref] = params
	return ref, nil
}

func (s *Simulator) ReleaseEscrow(ctx context.Context, escrowRef, recipient string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.released[escrowRef]; ok {
		if prev == recipient {
			return nil
		}
		return fmt.Errorf("escrow %s already released to %s: %w", escrowRef, prev, ErrSettlementFailed)
	}
	if _, ok := s.escrows[escrowRef]; !ok {
		return fmt.Errorf("unknown escrow %s: %w", escrowRef, ErrSettlementFailed)
	}

	s.released[escrowRef] = recipient
	delete(s.escrows, escrowRef)
	return nil
}
