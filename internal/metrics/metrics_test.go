package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyBudgetBucketsShape(t *testing.T) {
	buckets := keyBudgetBuckets()
	require.Len(t, buckets, 26)
	assert.InDelta(t, 1.0, buckets[0], 1e-9)
	assert.InDelta(t, 25251.2, buckets[len(buckets)-1], 1.0)
	for i := 1; i < len(buckets); i++ {
		assert.Greater(t, buckets[i], buckets[i-1])
	}
}

func TestExhaustedBucketsArePowersOfTwo(t *testing.T) {
	buckets := exhaustedBuckets()
	require.NotEmpty(t, buckets)
	assert.InDelta(t, 1.0, buckets[0], 1e-9)
	assert.InDelta(t, 2048.0, buckets[len(buckets)-1], 1e-9)
	for _, b := range buckets {
		n := int(b)
		assert.Equal(t, n&(n-1), 0, "bucket %v is not a power of two", b)
	}
}

func TestRecordFunctionsDoNotPanic(t *testing.T) {
	RecordRequest(RequestLabels{Phase: PhasePrepare, OriginClass: OriginOperator, ClaimedIdentity: "https://a.test", UserAgent: "test-agent"})
	RecordClientError(PhasePrepare, OriginOperator)
	RecordServerError(PhasePrepare, OriginOperator)
	RecordKeysPerTransaction(3)
	RecordSuccessfulBudgetConsumed(3)
	RecordBudgetExhausted(1)
}
