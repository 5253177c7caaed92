// Package consumer implements the binary BudgetConsumer (spec.md §4.4):
// it turns a parsed request into the set of (budget key, day) rows to
// read, merges the stored per-hour vectors against the hours the request
// touches, detects exhaustion, and builds the mutation set committed by
// BudgetStore.Commit.
package consumer

import (
	"fmt"
	"sort"

	"github.com/privacysandbox/pbs-go/internal/budgetkey"
	"github.com/privacysandbox/pbs-go/internal/config"
	"github.com/privacysandbox/pbs-go/internal/parser"
	"github.com/privacysandbox/pbs-go/internal/pbserrors"
)

// requestCell identifies one cell this request touches within a row.
type requestCell struct {
	hour         budgetkey.Hour
	requestIndex int
}

// Consumer accumulates the parsed view of one transaction and, once fed
// the corresponding stored rows, computes the consumption outcome.
type Consumer struct {
	phase config.MigrationPhase

	// order preserves first-seen PrimaryKey order so GetSpannerKeySet and
	// mutation emission are deterministic across otherwise-equal requests.
	order []budgetkey.PrimaryKey
	cells map[budgetkey.PrimaryKey][]requestCell
}

// New builds a Consumer for the given migration phase; call
// ParseTransactionRequest to populate it.
func New(phase config.MigrationPhase) *Consumer {
	return &Consumer{
		phase: phase,
		cells: make(map[budgetkey.PrimaryKey][]requestCell),
	}
}

// ParseTransactionRequest builds the internal (BudgetKey, Day) → hours map
// from the already-validated parser output, rejecting intra-request
// collisions on the same (BudgetKey, Day, Hour) triple.
func (c *Consumer) ParseTransactionRequest(keys []parser.ParsedKey) error {
	seen := make(map[triple]struct{}, len(keys))

	for _, k := range keys {
		reportingTime, err := budgetkey.ParseReportingTime(k.ReportingTime)
		if err != nil {
			return pbserrors.InvalidRequestBody("key %q: %v", k.Key, err)
		}
		day, hour := budgetkey.DayAndHour(reportingTime)

		bk := budgetkey.NewKey(k.ReportingOrigin, k.Key)
		t := triple{bk, day, hour}
		if _, dup := seen[t]; dup {
			return pbserrors.InvalidRequest("duplicate (budget_key, day, hour) for key %q", k.Key)
		}
		seen[t] = struct{}{}

		pk := budgetkey.PrimaryKey{BudgetKey: bk, Day: day}
		if _, known := c.cells[pk]; !known {
			c.order = append(c.order, pk)
		}
		c.cells[pk] = append(c.cells[pk], requestCell{hour: hour, requestIndex: k.RequestIndex})
	}

	return nil
}

type triple struct {
	budgetKey budgetkey.Key
	day       budgetkey.Day
	hour      budgetkey.Hour
}

// GetKeyCount returns the number of distinct (BudgetKey, Day, Hour) triples
// in the parsed request.
func (c *Consumer) GetKeyCount() int {
	n := 0
	for _, cells := range c.cells {
		n += len(cells)
	}
	return n
}

// GetSpannerKeySet returns the distinct PrimaryKeys the request touches, in
// first-seen order.
func (c *Consumer) GetSpannerKeySet() []budgetkey.PrimaryKey {
	out := make([]budgetkey.PrimaryKey, len(c.order))
	copy(out, c.order)
	return out
}

// ReadColumn names the store column that is truth for the configured
// migration phase.
type ReadColumn string

const (
	ColumnValue      ReadColumn = "value"
	ColumnValueProto ReadColumn = "value_proto"
)

// GetReadColumns returns the column(s) ConsumeBudget needs to read, driven
// by the migration phase (spec.md §3's phase table).
func (c *Consumer) GetReadColumns() []ReadColumn {
	if c.phase.ReadsJSON() {
		return []ReadColumn{ColumnValue}
	}
	return []ReadColumn{ColumnValueProto}
}

// StoredRow is one row read back from the store for a requested
// PrimaryKey; exactly one of Value/ValueProto is populated, matching
// GetReadColumns.
type StoredRow struct {
	Key        budgetkey.PrimaryKey
	Value      []byte // legacy JSON column, when truth is JSON
	ValueProto []byte // proto column, when truth is proto
}

// Mutation is one InsertOrUpdate the store must apply atomically.
type Mutation struct {
	Key        budgetkey.PrimaryKey
	Value      []byte // set when the phase writes JSON
	ValueProto []byte // set when the phase writes proto
}

// ConsumeBudget implements spec.md §4.4 step 1-4: it merges rows (a subset
// of, or none of, the requested PrimaryKeys may be present — a missing key
// means a fresh FULL vector), detects exhaustion, and returns either the
// sorted client-facing exhausted indices or the mutation set to commit.
//
// rows need not cover every key in GetSpannerKeySet; any row whose key is
// not part of this request is ignored, per spec.md §4.4 step 1.
func (c *Consumer) ConsumeBudget(rows []StoredRow) (mutations []Mutation, exhaustedIndices []int, err error) {
	rowByKey := make(map[budgetkey.PrimaryKey]StoredRow, len(rows))
	for _, r := range rows {
		if _, requested := c.cells[r.Key]; !requested {
			continue
		}
		rowByKey[r.Key] = r
	}

	var exhausted []int
	mutations = make([]Mutation, 0, len(c.order))

	for _, pk := range c.order {
		vector, err := c.decodeOrDefault(rowByKey, pk)
		if err != nil {
			return nil, nil, err
		}

		for _, cell := range c.cells[pk] {
			if vector[cell.hour] == budgetkey.Empty {
				exhausted = append(exhausted, cell.requestIndex)
				continue
			}
			vector[cell.hour] = budgetkey.Empty
		}

		mutations = append(mutations, c.buildMutation(pk, vector))
	}

	if len(exhausted) > 0 {
		sort.Ints(exhausted)
		return nil, exhausted, nil
	}

	return mutations, nil, nil
}

func (c *Consumer) decodeOrDefault(rowByKey map[budgetkey.PrimaryKey]StoredRow, pk budgetkey.PrimaryKey) (budgetkey.BudgetValue, error) {
	row, found := rowByKey[pk]
	if !found {
		return budgetkey.NewFullBudgetValue(), nil
	}

	if c.phase.ReadsJSON() {
		v, err := budgetkey.UnmarshalJSONValue(row.Value)
		if err != nil {
			return budgetkey.BudgetValue{}, pbserrors.Wrap(pbserrors.CodeParsingError,
				fmt.Sprintf("corrupt JSON budget value for key %s", pk.BudgetKey), err)
		}
		return v, nil
	}

	v, err := budgetkey.UnmarshalProtoValue(row.ValueProto)
	if err != nil {
		return budgetkey.BudgetValue{}, pbserrors.Wrap(pbserrors.CodeParsingError,
			fmt.Sprintf("corrupt proto budget value for key %s", pk.BudgetKey), err)
	}
	return v, nil
}

func (c *Consumer) buildMutation(pk budgetkey.PrimaryKey, vector budgetkey.BudgetValue) Mutation {
	m := Mutation{Key: pk}
	if c.phase.WritesJSON() {
		// MarshalJSONValue only errors on encoder failures, which cannot
		// happen for a fixed-shape struct; any error here is a bug, not a
		// runtime condition the phase table anticipates.
		raw, _ := budgetkey.MarshalJSONValue(vector)
		m.Value = raw
	}
	if c.phase.WritesProto() {
		m.ValueProto = budgetkey.MarshalProtoValue(vector)
	}
	return m
}
