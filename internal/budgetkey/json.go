package budgetkey

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// jsonEnvelope mirrors the legacy on-disk JSON shape from spec.md §3:
// {"TokenCount": "v0 v1 ... v23"}.
type jsonEnvelope struct {
	TokenCount string `json:"TokenCount"`
}

// MarshalJSONValue encodes v into the legacy JSON column representation.
func MarshalJSONValue(v BudgetValue) ([]byte, error) {
	tokens := make([]string, HoursPerDay)
	for i, s := range v {
		tokens[i] = strconv.Itoa(int(s))
	}
	return json.Marshal(jsonEnvelope{TokenCount: strings.Join(tokens, " ")})
}

// UnmarshalJSONValue decodes the legacy JSON column representation,
// rejecting anything that isn't exactly 24 space-separated {0,1} tokens.
func UnmarshalJSONValue(raw []byte) (BudgetValue, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return BudgetValue{}, fmt.Errorf("malformed TokenCount JSON: %w", err)
	}

	fields := strings.Fields(env.TokenCount)
	if len(fields) != HoursPerDay {
		return BudgetValue{}, fmt.Errorf("TokenCount has %d tokens, expected %d", len(fields), HoursPerDay)
	}

	var v BudgetValue
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return BudgetValue{}, fmt.Errorf("TokenCount token %d (%q) is not an integer", i, f)
		}
		if n != int(Empty) && n != int(Full) {
			return BudgetValue{}, fmt.Errorf("TokenCount token %d has value %d, expected 0 or 1", i, n)
		}
		v[i] = BudgetState(n)
	}
	return v, nil
}
