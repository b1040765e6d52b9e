// Copyright ©️ Ant Group. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"sync"
)

// Standalone executes each accepted command in order on a single node.
type Standalone struct {
	gate    *Gate
	applier Applier

	// mu queues commands in acceptance order.
	mu sync.Mutex
}

func NewStandalone(gate *Gate, applier Applier) *Standalone {
	return &Standalone{gate: gate, applier: applier}
}

func (s *Standalone) Execute(ctx context.Context, cmd *Command) (*Result, error) {
	if err := s.gate.Check(cmd); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.applier.Apply(ctx, cmd)
}

func (s *Standalone) IsLeader() bool {
	return true
}

func (s *Standalone) Close() error {
	return nil
}
