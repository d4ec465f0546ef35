package mapper

import (
	"fmt"

	evdev "github.com/holoplot/go-evdev"

	"github.com/remapd/remapd/internal/macro"
	"github.com/remapd/remapd/internal/outdev"
	"github.com/remapd/remapd/mapapi"
)

// TargetFunc resolves a mapping's target device name onto a writer.
type TargetFunc func(name string) (outdev.Writer, error)

// Binding is one mapping compiled to an executable output: a direct key
// code, a compiled macro, or a deliberate sink that consumes the input.
type Binding struct {
	Mapping *mapapi.Mapping

	kind   mapapi.OutputKind
	code   evdev.EvCode
	macro  *macro.Macro
	writer outdev.Writer
}

// Macro returns the compiled macro for macro bindings, nil otherwise.
func (b *Binding) Macro() *macro.Macro {
	return b.macro
}

// Capabilities returns the output codes the binding may emit, used to
// widen the target device before creation.
func (b *Binding) Capabilities() mapapi.Capabilities {
	switch b.kind {
	case mapapi.OutputSymbol:
		return mapapi.NewCapabilities().Add(evdev.EV_KEY, b.code)
	case mapapi.OutputMacro:
		return b.macro.Capabilities()
	default:
		return mapapi.NewCapabilities()
	}
}

// CompileError ties a failed mapping to its cause so the configuration
// source can report it per mapping while the rest stays usable.
type CompileError struct {
	Mapping *mapapi.Mapping
	Err     error
}

func (e CompileError) Error() string {
	return fmt.Sprintf("mapping %s: %v", e.Mapping.Combination, e.Err)
}

func (e CompileError) Unwrap() error {
	return e.Err
}

// CompileBindings turns a validated mapping set into executable bindings.
// Mappings that fail to compile are returned as errors and skipped; valid
// ones are kept.
func CompileBindings(env *macro.Environment, cfg *mapapi.ConfigSet, resolve TargetFunc) ([]*Binding, []CompileError) {
	var (
		bindings []*Binding
		failures []CompileError
	)
	compiler := macro.NewCompiler(env)
	cfg.Each(func(m *mapapi.Mapping) bool {
		b, err := compileBinding(env, compiler, m, resolve)
		if err != nil {
			failures = append(failures, CompileError{Mapping: m, Err: err})
			return true
		}
		bindings = append(bindings, b)
		return true
	})
	return bindings, failures
}

func compileBinding(env *macro.Environment, compiler *macro.Compiler, m *mapapi.Mapping, resolve TargetFunc) (*Binding, error) {
	b := &Binding{Mapping: m, kind: m.Output.Kind}
	if b.kind == mapapi.OutputDisabled {
		return b, nil
	}

	writer, err := resolve(m.Output.Target)
	if err != nil {
		return nil, err
	}
	b.writer = writer

	switch b.kind {
	case mapapi.OutputSymbol:
		if env.Symbols.IsDisable(m.Output.Symbol) {
			b.kind = mapapi.OutputDisabled
			return b, nil
		}
		code, ok := env.Symbols.GetCode(m.Output.Symbol)
		if !ok {
			return nil, fmt.Errorf("unknown key name %q", m.Output.Symbol)
		}
		b.code = code
	case mapapi.OutputMacro:
		compiled, err := compiler.Compile(m.Output.Macro)
		if err != nil {
			return nil, err
		}
		b.macro = compiled
	default:
		return nil, fmt.Errorf("unknown output kind %d", b.kind)
	}
	return b, nil
}
