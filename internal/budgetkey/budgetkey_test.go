package budgetkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestDayAndHour(t *testing.T) {
	// spec.md scenario S1: 2019-12-11T07:20:50Z -> Timeframe "18241", hour 7.
	ts, err := ParseReportingTime("2019-12-11T07:20:50Z")
	require.NoError(t, err)

	day, hour := DayAndHour(ts)
	assert.Equal(t, "18241", day.Timeframe())
	assert.Equal(t, Hour(7), hour)
}

func TestParseReportingTimeRejectsPreEpoch(t *testing.T) {
	_, err := ParseReportingTime("1969-12-31T23:59:59Z")
	assert.Error(t, err)
}

func TestParseReportingTimeRejectsMalformed(t *testing.T) {
	_, err := ParseReportingTime("not-a-time")
	assert.Error(t, err)
}

func TestNewKey(t *testing.T) {
	assert.Equal(t, Key("https://a.test/client-1"), NewKey("https://a.test", "client-1"))
}

func TestJSONValueRoundTrip(t *testing.T) {
	full := NewFullBudgetValue()
	raw, err := MarshalJSONValue(full)
	require.NoError(t, err)

	got, err := UnmarshalJSONValue(raw)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestJSONValueMixedRoundTrip(t *testing.T) {
	var v BudgetValue
	for i := range v {
		if i%2 == 0 {
			v[i] = Full
		}
	}
	raw, err := MarshalJSONValue(v)
	require.NoError(t, err)

	got, err := UnmarshalJSONValue(raw)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

// TestJSONValueRejectsShortTokenCount mirrors spec.md scenario S6: a row
// corrupted to carry only 3 tokens instead of 24 must fail to decode, not
// silently zero-fill.
func TestJSONValueRejectsShortTokenCount(t *testing.T) {
	_, err := UnmarshalJSONValue([]byte(`{"TokenCount": "1 1 1"}`))
	assert.Error(t, err)
}

func TestJSONValueRejectsOutOfRangeToken(t *testing.T) {
	tokens := "2 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	_, err := UnmarshalJSONValue([]byte(`{"TokenCount": "` + tokens + `"}`))
	assert.Error(t, err)
}

func TestJSONValueRejectsMalformedJSON(t *testing.T) {
	_, err := UnmarshalJSONValue([]byte(`not json`))
	assert.Error(t, err)
}

func TestProtoValueRoundTrip(t *testing.T) {
	full := NewFullBudgetValue()
	raw := MarshalProtoValue(full)

	got, err := UnmarshalProtoValue(raw)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestProtoValueMixedRoundTrip(t *testing.T) {
	var v BudgetValue
	for i := range v {
		if i%3 == 0 {
			v[i] = Full
		}
	}
	raw := MarshalProtoValue(v)

	got, err := UnmarshalProtoValue(raw)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestProtoValueRejectsWrongEntryCount(t *testing.T) {
	// Hand-build a packed varint field with only 3 entries.
	short := []byte{}
	for i := 0; i < 3; i++ {
		short = protowire.AppendVarint(short, uint64(ProtoFull))
	}
	_, err := UnmarshalProtoValue(wrapBudgetField(short))
	assert.Error(t, err)
}

func TestProtoValueRejectsGarbage(t *testing.T) {
	_, err := UnmarshalProtoValue([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}

func TestProtoValueRejectsMissingField(t *testing.T) {
	_, err := UnmarshalProtoValue(nil)
	assert.Error(t, err)
}

// wrapBudgetField re-implements just enough of the tag/length framing to
// build a deliberately malformed (too-short) budget field for tests.
func wrapBudgetField(packed []byte) []byte {
	full := MarshalProtoValue(NewFullBudgetValue())
	// full[0] is the tag byte (field 1, bytes type); re-use it and replace
	// the length+payload with our short packed buffer.
	out := []byte{full[0]}
	out = append(out, byte(len(packed)))
	out = append(out, packed...)
	return out
}
