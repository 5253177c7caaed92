package consumer

import (
	"testing"

	"github.com/privacysandbox/pbs-go/internal/budgetkey"
	"github.com/privacysandbox/pbs-go/internal/config"
	"github.com/privacysandbox/pbs-go/internal/parser"
	"github.com/privacysandbox/pbs-go/internal/pbserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func oneKey(origin, key, reportingTime string, idx int) parser.ParsedKey {
	return parser.ParsedKey{
		ReportingOrigin: origin,
		Key:             key,
		Token:           1,
		ReportingTime:   reportingTime,
		BudgetType:      "BUDGET_TYPE_BINARY_BUDGET",
		RequestIndex:    idx,
	}
}

// TestConsumeBudgetNewKeySuccess mirrors spec.md scenario S1.
func TestConsumeBudgetNewKeySuccess(t *testing.T) {
	c := New(config.MigrationPhase1)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
	}))

	assert.Equal(t, 1, c.GetKeyCount())
	keys := c.GetSpannerKeySet()
	require.Len(t, keys, 1)
	assert.Equal(t, budgetkey.Key("https://a.test/k"), keys[0].BudgetKey)
	assert.Equal(t, "18241", keys[0].Day.Timeframe())

	mutations, exhausted, err := c.ConsumeBudget(nil)
	require.NoError(t, err)
	assert.Empty(t, exhausted)
	require.Len(t, mutations, 1)

	v, err := budgetkey.UnmarshalJSONValue(mutations[0].Value)
	require.NoError(t, err)
	for h, s := range v {
		if h == 7 {
			assert.Equal(t, budgetkey.Empty, s)
		} else {
			assert.Equal(t, budgetkey.Full, s)
		}
	}
}

// TestConsumeBudgetRepeatExhausts mirrors spec.md scenario S2: replaying S1
// against the row S1 produced reports index 0 exhausted and writes nothing.
func TestConsumeBudgetRepeatExhausts(t *testing.T) {
	c := New(config.MigrationPhase1)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
	}))

	pk := c.GetSpannerKeySet()[0]
	already := budgetkey.NewFullBudgetValue()
	already[7] = budgetkey.Empty
	raw, err := budgetkey.MarshalJSONValue(already)
	require.NoError(t, err)

	mutations, exhausted, err := c.ConsumeBudget([]StoredRow{{Key: pk, Value: raw}})
	require.NoError(t, err)
	assert.Nil(t, mutations)
	assert.Equal(t, []int{0}, exhausted)
}

// TestConsumeBudgetMultiOriginSuccess mirrors spec.md scenario S3.
func TestConsumeBudgetMultiOriginSuccess(t *testing.T) {
	c := New(config.MigrationPhase1)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k1", "2019-12-11T07:20:50Z", 0),
		oneKey("https://a.test", "k2", "2019-12-12T08:20:50Z", 1),
		oneKey("https://b.test", "k3", "2019-12-11T09:20:50Z", 2),
	}))

	assert.Equal(t, 3, c.GetKeyCount())
	assert.Len(t, c.GetSpannerKeySet(), 3)

	mutations, exhausted, err := c.ConsumeBudget(nil)
	require.NoError(t, err)
	assert.Empty(t, exhausted)
	assert.Len(t, mutations, 3)
}

// TestParseTransactionRequestRejectsDuplicateCell mirrors spec.md scenario S4.
func TestParseTransactionRequestRejectsDuplicateCell(t *testing.T) {
	c := New(config.MigrationPhase1)
	err := c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 1),
	})
	require.Error(t, err)
	pbsErr, ok := err.(*pbserrors.Error)
	require.True(t, ok)
	assert.Equal(t, pbserrors.CodeInvalidRequest, pbsErr.Code)
}

// TestConsumeBudgetCorruptedRow mirrors spec.md scenario S6: a JSON row
// with only 3 tokens must fail as ParsingError, producing no mutation.
func TestConsumeBudgetCorruptedRow(t *testing.T) {
	c := New(config.MigrationPhase1)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
	}))
	pk := c.GetSpannerKeySet()[0]

	_, _, err := c.ConsumeBudget([]StoredRow{
		{Key: pk, Value: []byte(`{"TokenCount": "1 1 1"}`)},
	})
	require.Error(t, err)
	pbsErr, ok := err.(*pbserrors.Error)
	require.True(t, ok)
	assert.Equal(t, pbserrors.CodeParsingError, pbsErr.Code)
}

func TestConsumeBudgetIgnoresUnrequestedRows(t *testing.T) {
	c := New(config.MigrationPhase1)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
	}))

	foreign := budgetkey.PrimaryKey{BudgetKey: "https://a.test/other", Day: 18241}
	mutations, exhausted, err := c.ConsumeBudget([]StoredRow{
		{Key: foreign, Value: []byte(`garbage`)},
	})
	require.NoError(t, err)
	assert.Empty(t, exhausted)
	require.Len(t, mutations, 1)
}

func TestGetReadColumnsFollowsMigrationPhase(t *testing.T) {
	assert.Equal(t, []ReadColumn{ColumnValue}, New(config.MigrationPhase1).GetReadColumns())
	assert.Equal(t, []ReadColumn{ColumnValue}, New(config.MigrationPhase2).GetReadColumns())
	assert.Equal(t, []ReadColumn{ColumnValueProto}, New(config.MigrationPhase3).GetReadColumns())
	assert.Equal(t, []ReadColumn{ColumnValueProto}, New(config.MigrationPhase4).GetReadColumns())
}

func TestConsumeBudgetWritesBothColumnsDuringPhase2(t *testing.T) {
	c := New(config.MigrationPhase2)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
	}))

	mutations, exhausted, err := c.ConsumeBudget(nil)
	require.NoError(t, err)
	assert.Empty(t, exhausted)
	require.Len(t, mutations, 1)
	assert.NotEmpty(t, mutations[0].Value)
	assert.NotEmpty(t, mutations[0].ValueProto)
}

func TestConsumeBudgetPhase4WritesOnlyProto(t *testing.T) {
	c := New(config.MigrationPhase4)
	require.NoError(t, c.ParseTransactionRequest([]parser.ParsedKey{
		oneKey("https://a.test", "k", "2019-12-11T07:20:50Z", 0),
	}))

	mutations, _, err := c.ConsumeBudget(nil)
	require.NoError(t, err)
	require.Len(t, mutations, 1)
	assert.Empty(t, mutations[0].Value)
	assert.NotEmpty(t, mutations[0].ValueProto)
}
