package service

import (
	"context"

	"github.com/privacysandbox/pbs-go/internal/config"
	"github.com/privacysandbox/pbs-go/internal/consumer"
	"github.com/privacysandbox/pbs-go/internal/parser"
	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"github.com/privacysandbox/pbs-go/internal/store"
)

// NewStoreConsumeFunc binds a *store.Store to the ConsumeFunc seam,
// implementing spec.md §4.6 step 4: inside the store callback, ask the
// consumer for its read plan, read those rows, and hand them back to
// ConsumeBudget for the merge/exhaustion/mutation-building work.
func NewStoreConsumeFunc(s *store.Store) ConsumeFunc {
	return func(ctx context.Context, phase config.MigrationPhase, keys []parser.ParsedKey) ([]consumer.Mutation, []int, error) {
		c := consumer.New(phase)
		if err := c.ParseTransactionRequest(keys); err != nil {
			return nil, nil, err
		}

		mutations, err := s.Commit(ctx, func(ctx context.Context, tx *store.Tx) ([]consumer.Mutation, error) {
			rows, err := tx.ReadRows(ctx, c.GetSpannerKeySet(), c.GetReadColumns())
			if err != nil {
				return nil, err
			}

			m, exhausted, err := c.ConsumeBudget(rows)
			if err != nil {
				return nil, err
			}
			if len(exhausted) > 0 {
				return nil, pbserrors.Exhausted(exhausted)
			}
			return m, nil
		})

		if err != nil {
			if pbsErr, ok := err.(*pbserrors.Error); ok && pbsErr.Code == pbserrors.CodeBudgetExhausted {
				return nil, pbsErr.ExhaustedIndices, err
			}
			return nil, nil, err
		}

		return mutations, nil, nil
	}
}
