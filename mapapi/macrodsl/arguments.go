package macrodsl

import (
	"fmt"
	"strconv"
)

// Arguments binds the arguments of a call to the parameter slots of its
// declaration: positional arguments fill slots in order, named arguments
// are reordered into their declared slot, and a trailing variadic
// parameter absorbs the remaining positional arguments.
type Arguments struct {
	decl     Declaration
	slots    []*ArgValue
	variadic []ArgValue
}

// BindArguments validates arity and argument shapes against the
// declaration. Errors carry the function name and the offending slot.
func BindArguments(decl Declaration, args []Argument) (Arguments, error) {
	bound := Arguments{
		decl:  decl,
		slots: make([]*ArgValue, len(decl.Parameters)),
	}
	slotIndex := map[string]int{}
	variadicAt := -1
	required := 0
	for i, p := range decl.Parameters {
		slotIndex[p.Name] = i
		if p.Variadic {
			variadicAt = i
		} else if p.Default == nil {
			required++
		}
	}

	pos := 0
	sawNamed := false
	for _, arg := range args {
		if arg.Name != nil {
			sawNamed = true
			idx, ok := slotIndex[*arg.Name]
			if !ok {
				return Arguments{}, fmt.Errorf("%s() has no parameter %q", decl.Identifier, *arg.Name)
			}
			if decl.Parameters[idx].Variadic {
				return Arguments{}, fmt.Errorf("%s(): variadic parameter %q cannot be named", decl.Identifier, *arg.Name)
			}
			if bound.slots[idx] != nil {
				return Arguments{}, fmt.Errorf("%s(): parameter %q given twice", decl.Identifier, *arg.Name)
			}
			value := arg.Value
			bound.slots[idx] = &value
			continue
		}
		if sawNamed {
			return Arguments{}, fmt.Errorf("%s(): positional argument after named argument", decl.Identifier)
		}
		if variadicAt >= 0 && pos >= variadicAt {
			bound.variadic = append(bound.variadic, arg.Value)
			continue
		}
		if pos >= len(decl.Parameters) {
			return Arguments{}, fmt.Errorf("%s() takes at most %d arguments, got %d", decl.Identifier, len(decl.Parameters), len(args))
		}
		value := arg.Value
		bound.slots[pos] = &value
		pos++
	}

	for i, p := range decl.Parameters {
		if p.Variadic {
			continue
		}
		if bound.slots[i] == nil && p.Default == nil {
			return Arguments{}, fmt.Errorf("%s() requires at least %d arguments: missing %q", decl.Identifier, required, p.Name)
		}
		if bound.slots[i] != nil {
			if err := checkShape(decl.Identifier, p, *bound.slots[i]); err != nil {
				return Arguments{}, err
			}
		}
	}
	if variadicAt >= 0 {
		for _, v := range bound.variadic {
			if err := checkShape(decl.Identifier, decl.Parameters[variadicAt], v); err != nil {
				return Arguments{}, err
			}
		}
	}
	return bound, nil
}

// checkShape rejects argument shapes that can never satisfy the slot type.
// Variables pass every check: they resolve at run time.
func checkShape(fn string, p Parameter, v ArgValue) error {
	if v.Variable != nil {
		return nil
	}
	switch p.Type {
	case "number":
		if v.Number == nil {
			return fmt.Errorf("%s(): parameter %q expects a number, got %s", fn, p.Name, describe(v))
		}
	case "macro":
		if v.Sequence == nil {
			return fmt.Errorf("%s(): parameter %q expects a macro, got %s", fn, p.Name, describe(v))
		}
	case "symbol":
		if v.Str == nil {
			if _, ok := v.IsBareSymbol(); !ok {
				return fmt.Errorf("%s(): parameter %q expects a key name, got %s", fn, p.Name, describe(v))
			}
		}
	case "string", "any":
	}
	return nil
}

func describe(v ArgValue) string {
	switch {
	case v.Str != nil:
		return fmt.Sprintf("string %q", *v.Str)
	case v.Number != nil:
		return fmt.Sprintf("number %s", *v.Number)
	case v.Variable != nil:
		return fmt.Sprintf("variable %s", *v.Variable)
	case v.Sequence != nil:
		if sym, ok := v.IsBareSymbol(); ok {
			return fmt.Sprintf("symbol %q", sym)
		}
		return "a macro"
	default:
		return "nothing"
	}
}

// Get returns the value bound to the named slot, falling back to the
// declared default. The second return is false when the slot is empty and
// has no default.
func (a Arguments) Get(name string) (ArgValue, bool) {
	for i, p := range a.decl.Parameters {
		if p.Name != name {
			continue
		}
		if a.slots[i] != nil {
			return *a.slots[i], true
		}
		if p.Default == nil || p.Default.Null {
			return ArgValue{}, false
		}
		if p.Default.Number != nil {
			return ArgValue{Number: p.Default.Number}, true
		}
		if p.Default.Str != nil {
			return ArgValue{Str: p.Default.Str}, true
		}
		return ArgValue{}, false
	}
	return ArgValue{}, false
}

// Variadic returns the values absorbed by the trailing variadic parameter.
func (a Arguments) Variadic() []ArgValue {
	return a.variadic
}

// Int interprets a bound value as an integer.
func (v ArgValue) Int() (int, bool) {
	if v.Number == nil {
		return 0, false
	}
	n, err := strconv.Atoi(*v.Number)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float interprets a bound value as a float.
func (v ArgValue) Float() (float64, bool) {
	if v.Number == nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(*v.Number, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
