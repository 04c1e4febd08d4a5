package domain

import (
	"fmt"
	"strconv"
)

// StrategyParameter is a single name/value/description entry. Values are
// stored as strings and converted to typed values by the strategy at use
// time.
type StrategyParameter struct {
	Name        string
	Value       string
	Description string
}

// Parameters is a parameter bag with typed accessors. Lookups are by name;
// a missing or unparseable value falls back to the supplied default.
type Parameters []StrategyParameter

// Get returns the raw value for name and whether it was present.
func (ps Parameters) Get(name string) (string, bool) {
	for _, p := range ps {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}

// Float returns the parameter parsed as float64, or def when absent or
// invalid.
func (ps Parameters) Float(name string, def float64) float64 {
	if v, ok := ps.Get(name); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// Int returns the parameter parsed as int, or def when absent or invalid.
func (ps Parameters) Int(name string, def int) int {
	if v, ok := ps.Get(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// String returns the raw parameter value, or def when absent.
func (ps Parameters) String(name, def string) string {
	if v, ok := ps.Get(name); ok {
		return v
	}
	return def
}

// Merge overlays other on top of ps, replacing entries with matching names
// and appending the rest.
func (ps Parameters) Merge(other Parameters) Parameters {
	out := make(Parameters, len(ps))
	copy(out, ps)
	for _, p := range other {
		replaced := false
		for i := range out {
			if out[i].Name == p.Name {
				out[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out
}

// Param is a convenience constructor.
func Param(name string, value any) StrategyParameter {
	return StrategyParameter{Name: name, Value: fmt.Sprint(value)}
}

// ParamsFromMap converts a plain string map into Parameters.
func ParamsFromMap(m map[string]string) Parameters {
	ps := make(Parameters, 0, len(m))
	for name, value := range m {
		ps = append(ps, StrategyParameter{Name: name, Value: value})
	}
	return ps
}
