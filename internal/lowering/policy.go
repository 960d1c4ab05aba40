package lowering

import (
	"fmt"
	"strings"
)

// StructReturn selects how struct results cross the boundary.
type StructReturn int

const (
	// StructReturnDual exports the by-value symbol plus a pointer variant.
	StructReturnDual StructReturn = iota
	// StructReturnPointer redirects the original name to a pointer wrapper,
	// the same way array results are handled.
	StructReturnPointer
	// StructReturnValue exports the by-value symbol only.
	StructReturnValue
)

func (p StructReturn) String() string {
	switch p {
	case StructReturnPointer:
		return "pointer"
	case StructReturnValue:
		return "value"
	default:
		return "dual"
	}
}

// ParseStructReturn parses a policy name. The empty string is dual.
func ParseStructReturn(s string) (StructReturn, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "dual":
		return StructReturnDual, nil
	case "pointer", "ptr":
		return StructReturnPointer, nil
	case "value":
		return StructReturnValue, nil
	default:
		return StructReturnDual, fmt.Errorf("unknown struct return policy %q (want dual, pointer or value)", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p StructReturn) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *StructReturn) UnmarshalText(b []byte) error {
	v, err := ParseStructReturn(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
