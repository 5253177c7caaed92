package budgetkey

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire format for the "new" proto column introduced by the migration
// (spec.md §3, §6): a LaplaceDpBudgets message with one repeated int32
// field, "budget", holding HoursPerDay entries. No generated .pb.go exists
// for this one-field message in this repo, so it is hand-encoded directly
// against the low-level protowire API rather than through protoc-gen-go.
//
//	message LaplaceDpBudgets {
//	  repeated int32 budget = 1;
//	}
const budgetFieldNumber = protowire.Number(1)

// Per-hour token values in the proto encoding: FULL is the privacy budget
// library's full-budget constant, EMPTY is zero budget remaining.
const (
	ProtoFull  int32 = 6400
	ProtoEmpty int32 = 0
)

// MarshalProtoValue encodes v as a packed-varint LaplaceDpBudgets message.
func MarshalProtoValue(v BudgetValue) []byte {
	var packed []byte
	for _, s := range v {
		packed = protowire.AppendVarint(packed, uint64(stateToProto(s)))
	}

	var out []byte
	out = protowire.AppendTag(out, budgetFieldNumber, protowire.BytesType)
	out = protowire.AppendBytes(out, packed)
	return out
}

// UnmarshalProtoValue decodes a LaplaceDpBudgets message produced by
// MarshalProtoValue (or an equivalent protoc-gen-go encoder), rejecting
// anything that doesn't carry exactly HoursPerDay budget entries.
func UnmarshalProtoValue(data []byte) (BudgetValue, error) {
	var (
		v      BudgetValue
		filled bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return BudgetValue{}, fmt.Errorf("malformed LaplaceDpBudgets: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		if num != budgetFieldNumber || typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return BudgetValue{}, fmt.Errorf("malformed LaplaceDpBudgets: bad field: %w", protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		packed, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return BudgetValue{}, fmt.Errorf("malformed LaplaceDpBudgets: bad budget field: %w", protowire.ParseError(n))
		}
		data = data[n:]

		values, err := decodePackedVarints(packed)
		if err != nil {
			return BudgetValue{}, fmt.Errorf("malformed LaplaceDpBudgets budget field: %w", err)
		}
		if len(values) != HoursPerDay {
			return BudgetValue{}, fmt.Errorf("LaplaceDpBudgets has %d budget entries, expected %d", len(values), HoursPerDay)
		}
		for i, raw := range values {
			state, err := protoToState(int32(raw))
			if err != nil {
				return BudgetValue{}, fmt.Errorf("budget entry %d: %w", i, err)
			}
			v[i] = state
		}
		filled = true
	}

	if !filled {
		return BudgetValue{}, fmt.Errorf("LaplaceDpBudgets has no budget field")
	}
	return v, nil
}

func decodePackedVarints(packed []byte) ([]uint64, error) {
	var out []uint64
	for len(packed) > 0 {
		val, n := protowire.ConsumeVarint(packed)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		out = append(out, val)
		packed = packed[n:]
	}
	return out, nil
}

func stateToProto(s BudgetState) int32 {
	if s == Full {
		return ProtoFull
	}
	return ProtoEmpty
}

func protoToState(n int32) (BudgetState, error) {
	switch n {
	case ProtoFull:
		return Full, nil
	case ProtoEmpty:
		return Empty, nil
	default:
		return 0, fmt.Errorf("value %d is neither FULL (%d) nor EMPTY (%d)", n, ProtoFull, ProtoEmpty)
	}
}
