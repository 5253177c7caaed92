// Package store implements BudgetStore (spec.md §4.5): row reads against
// the budget_rows table and an atomic multi-row commit, built on gorm's
// transaction primitive rather than a hand-rolled two-phase commit.
package store

import (
	"context"
	"errors"

	"github.com/privacysandbox/pbs-go/internal/budgetkey"
	"github.com/privacysandbox/pbs-go/internal/consumer"
	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BudgetRow is the gorm model for the budget_rows table (spec.md §6
// "Persisted schema"): composite primary key (budget_key, timeframe), with
// both the legacy JSON column and the new proto column present during the
// migration window. Value is typed datatypes.JSON (jsonb) rather than a
// plain bytea so the legacy column stays queryable/indexable in Postgres
// the way the teacher's models store structured JSON fields.
type BudgetRow struct {
	BudgetKey  string         `gorm:"column:budget_key;primaryKey"`
	Timeframe  string         `gorm:"column:timeframe;primaryKey"`
	Value      datatypes.JSON `gorm:"column:value"`
	ValueProto []byte         `gorm:"column:value_proto"`
}

func (BudgetRow) TableName() string { return "budget_rows" }

// TxFunc is the caller-supplied unit of work passed to Commit; it reads
// whatever rows it needs through the *Tx handed to it and returns the
// mutations to apply, or a *pbserrors.Error to abort the transaction with.
type TxFunc func(ctx context.Context, tx *Tx) ([]consumer.Mutation, error)

// Store is the top-level BudgetStore handle, backed by one *gorm.DB
// connection pool.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Tx is the transaction-scoped handle passed into TxFunc; it is only valid
// for the duration of one Commit call.
type Tx struct {
	gormTx *gorm.DB
}

// ReadRows fetches the requested columns for the given PrimaryKeys. Keys
// with no matching row are simply absent from the result, mirroring
// spec.md §4.4 step 2's "no row" case.
func (tx *Tx) ReadRows(ctx context.Context, keys []budgetkey.PrimaryKey, columns []consumer.ReadColumn) ([]consumer.StoredRow, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	selectCols := []string{"budget_key", "timeframe"}
	for _, c := range columns {
		selectCols = append(selectCols, string(c))
	}

	q := tx.gormTx.WithContext(ctx).Select(selectCols)
	for i, k := range keys {
		clause := tx.gormTx.Where("budget_key = ? AND timeframe = ?", string(k.BudgetKey), k.Day.Timeframe())
		if i == 0 {
			q = q.Where(clause)
		} else {
			q = q.Or(clause)
		}
	}

	var rows []BudgetRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]consumer.StoredRow, len(rows))
	for i, r := range rows {
		pk := budgetkey.PrimaryKey{BudgetKey: budgetkey.Key(r.BudgetKey), Day: parseTimeframe(r.Timeframe)}
		out[i] = consumer.StoredRow{Key: pk, Value: []byte(r.Value), ValueProto: r.ValueProto}
	}
	return out, nil
}

func parseTimeframe(s string) budgetkey.Day {
	var d int64
	for _, c := range s {
		d = d*10 + int64(c-'0')
	}
	return budgetkey.Day(d)
}

// Commit runs fn inside a gorm transaction and applies its returned
// mutations as an upsert before committing. Any error fn returns aborts
// the transaction with no partial writes (spec.md §4.4 invariant). A
// *pbserrors.Error returned by fn (BudgetExhausted, ParsingError, ...) is
// surfaced verbatim; any other error is wrapped as FailToCommit.
func (s *Store) Commit(ctx context.Context, fn TxFunc) ([]consumer.Mutation, error) {
	var mutations []consumer.Mutation
	var appErr *pbserrors.Error

	err := s.db.WithContext(ctx).Transaction(func(gormTx *gorm.DB) error {
		tx := &Tx{gormTx: gormTx}
		m, err := fn(ctx, tx)
		if err != nil {
			var pe *pbserrors.Error
			if errors.As(err, &pe) {
				appErr = pe
				return err
			}
			return err
		}
		if err := upsertRows(gormTx, m); err != nil {
			return err
		}
		mutations = m
		return nil
	})

	if appErr != nil {
		return nil, appErr
	}
	if err != nil {
		s.logger.Error("budget store commit failed", zap.Error(err))
		return nil, pbserrors.Wrap(pbserrors.CodeFailToCommit, "store rejected commit", err)
	}
	return mutations, nil
}

func upsertRows(tx *gorm.DB, mutations []consumer.Mutation) error {
	for _, m := range mutations {
		row := BudgetRow{
			BudgetKey:  string(m.Key.BudgetKey),
			Timeframe:  m.Key.Day.Timeframe(),
			Value:      datatypes.JSON(m.Value),
			ValueProto: m.ValueProto,
		}
		if err := tx.Save(&row).Error; err != nil {
			return err
		}
	}
	return nil
}
