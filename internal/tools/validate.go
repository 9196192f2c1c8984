package tools

import (
	"fmt"
	"math"
	"sort"
)

// ValidateArguments checks args against the descriptor's schema. Parameters
// are checked in declared order, then unknown fields in sorted order, so the
// reported field is deterministic.
func ValidateArguments(d Descriptor, args map[string]interface{}) error {
	for _, p := range d.Parameters {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return &InvalidArgumentsError{Tool: d.Name, Field: p.Name, Reason: "is required"}
			}
			continue
		}
		if !matchesType(p.Type, v) {
			return &InvalidArgumentsError{Tool: d.Name, Field: p.Name, Reason: fmt.Sprintf("must be of type %s", p.Type)}
		}
	}

	var unknown []string
	for k := range args {
		if _, ok := d.Parameter(k); !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &InvalidArgumentsError{Tool: d.Name, Field: unknown[0], Reason: "is not a known parameter"}
	}
	return nil
}

func matchesType(t ParamType, v interface{}) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		_, ok := v.(float64)
		return ok
	case TypeInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f) && !math.IsInf(f, 0)
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeObject:
		_, ok := v.(map[string]interface{})
		return ok
	case TypeArray:
		_, ok := v.([]interface{})
		return ok
	}
	return false
}
