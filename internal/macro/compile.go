package macro

import (
	"fmt"
	"strings"
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/remapd/remapd/internal/varstore"
	"github.com/remapd/remapd/mapapi"
	"github.com/remapd/remapd/mapapi/macrodsl"
	"github.com/remapd/remapd/pkg/registry"
)

// relTickRate is how often mouse() and wheel() tasks emit motion.
const relTickRate = 10 * time.Millisecond

// declarations is the closed set of macro functions. Construction happens
// in an exhaustive switch in compileCall, so an unknown function is a
// parse-time error by construction.
var declarations = newDeclarations()

func newDeclarations() *registry.Registry[macrodsl.Declaration] {
	r := registry.NewRegistry[macrodsl.Declaration]()
	r.MustRegister("key", macrodsl.MustParseDeclaration(`key(sym: symbol)`))
	r.MustRegister("key_down", macrodsl.MustParseDeclaration(`key_down(sym: symbol)`))
	r.MustRegister("key_up", macrodsl.MustParseDeclaration(`key_up(sym: symbol)`))
	r.MustRegister("event", macrodsl.MustParseDeclaration(`event(type: number, code: number, value: number)`))
	r.MustRegister("wait", macrodsl.MustParseDeclaration(`wait(time: number)`))
	r.MustRegister("hold", macrodsl.MustParseDeclaration(`hold(task: any = null)`))
	r.MustRegister("hold_keys", macrodsl.MustParseDeclaration(`hold_keys(syms: symbol...)`))
	r.MustRegister("repeat", macrodsl.MustParseDeclaration(`repeat(repeats: number, task: macro)`))
	r.MustRegister("modify", macrodsl.MustParseDeclaration(`modify(modifier: symbol, task: macro)`))
	r.MustRegister("set", macrodsl.MustParseDeclaration(`set(variable: any, value: any)`))
	r.MustRegister("add", macrodsl.MustParseDeclaration(`add(variable: any, value: number)`))
	r.MustRegister("if_eq", macrodsl.MustParseDeclaration(`if_eq(variable: any, value: any, then: macro = null, else: macro = null)`))
	r.MustRegister("if_tap", macrodsl.MustParseDeclaration(`if_tap(then: macro = null, else: macro = null, timeout: number = 300)`))
	r.MustRegister("if_single", macrodsl.MustParseDeclaration(`if_single(then: macro = null, else: macro = null, timeout: number = null)`))
	r.MustRegister("mouse", macrodsl.MustParseDeclaration(`mouse(direction: symbol, speed: number)`))
	r.MustRegister("wheel", macrodsl.MustParseDeclaration(`wheel(direction: symbol, speed: number)`))
	return r
}

// Functions lists the callable macro function names.
func Functions() []string {
	return declarations.Keys()
}

// aliases are the short spellings inherited from hand-written presets.
var aliases = map[string]string{
	"k": "key",
	"e": "event",
	"w": "wait",
	"h": "hold",
	"r": "repeat",
	"m": "modify",
}

// mouseDirections and wheelDirections map direction names onto relative
// axes. Vertical wheel scrolling is inverted relative to vertical pointer
// movement, matching hardware convention.
var mouseDirections = map[string]relDirection{
	"up":    {code: evdev.REL_Y, sign: -1},
	"down":  {code: evdev.REL_Y, sign: 1},
	"left":  {code: evdev.REL_X, sign: -1},
	"right": {code: evdev.REL_X, sign: 1},
}

var wheelDirections = map[string]relDirection{
	"up":    {code: evdev.REL_WHEEL, sign: 1},
	"down":  {code: evdev.REL_WHEEL, sign: -1},
	"left":  {code: evdev.REL_HWHEEL, sign: 1},
	"right": {code: evdev.REL_HWHEEL, sign: -1},
}

// IsMacro is the quick test deciding whether mapping output text is macro
// source rather than a plain symbol name.
func IsMacro(src string) bool {
	return strings.ContainsAny(src, "(+")
}

// Compiler turns macro source into executable Macro instances. Symbol
// names that are compile-time constants are validated here, so invalid key
// names fail at parse time, not at run time.
type Compiler struct {
	env *Environment
}

func NewCompiler(env *Environment) *Compiler {
	return &Compiler{env: env}
}

// Compile parses and compiles one macro. Compilation never partially
// succeeds.
func (c *Compiler) Compile(src string) (*Macro, error) {
	seq, err := macrodsl.ParseSequence(src)
	if err != nil {
		return nil, err
	}
	m, err := c.compileSequence(src, seq)
	if err != nil {
		return nil, &macrodsl.ParseError{Source: src, Err: err}
	}
	return m, nil
}

func (c *Compiler) compileSequence(src string, seq *macrodsl.Sequence) (*Macro, error) {
	var tasks []task
	for _, chord := range seq.Chords {
		t, err := c.compileChord(chord)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return newMacro(c.env, src, tasks), nil
}

// compileChord desugars "a+b+task" into nested press-modifier-then-hold
// tasks before compiling: every part but the last must be a key name, and
// the last part becomes the innermost hold.
func (c *Compiler) compileChord(chord macrodsl.Chord) (task, error) {
	if len(chord.Parts) == 1 {
		return c.compilePart(chord.Parts[0], false)
	}
	inner, err := c.compilePart(chord.Parts[len(chord.Parts)-1], true)
	if err != nil {
		return nil, err
	}
	for i := len(chord.Parts) - 2; i >= 0; i-- {
		part := chord.Parts[i]
		sym, err := c.partSymbol(part)
		if err != nil {
			return nil, fmt.Errorf("chord elements before the last must be key names: %w", err)
		}
		inner = modifyTask{
			modifier: sym,
			child:    newMacro(c.env, "", []task{inner}),
		}
	}
	return inner, nil
}

// partSymbol interprets a chord part as a key name or variable.
func (c *Compiler) partSymbol(part macrodsl.Part) (symbolArg, error) {
	switch {
	case part.Symbol != nil:
		return c.resolveSymbol(*part.Symbol)
	case part.Variable != nil:
		return symbolArg{variable: strings.TrimPrefix(*part.Variable, "$")}, nil
	default:
		return symbolArg{}, fmt.Errorf("expected a key name")
	}
}

// compilePart compiles one chord element. In chord position a bare symbol
// means "hold this key"; standing alone it is a configuration mistake.
func (c *Compiler) compilePart(part macrodsl.Part, chordTail bool) (task, error) {
	switch {
	case part.Call != nil:
		return c.compileCall(*part.Call)
	case part.Symbol != nil, part.Variable != nil:
		if !chordTail {
			name := ""
			if part.Symbol != nil {
				name = *part.Symbol
			} else {
				name = *part.Variable
			}
			return nil, fmt.Errorf("bare name %q is not a macro; use key(%s) or map the symbol directly", name, name)
		}
		sym, err := c.partSymbol(part)
		if err != nil {
			return nil, err
		}
		return holdKeysTask{symbols: []symbolArg{sym}}, nil
	default:
		return nil, fmt.Errorf("empty chord element")
	}
}

// compileCall is the single construction point for every task variant.
func (c *Compiler) compileCall(call macrodsl.Call) (task, error) {
	name := strings.ToLower(call.Name)
	if full, ok := aliases[name]; ok {
		name = full
	}
	decl, err := declarations.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown function %q", call.Name)
	}
	args, err := macrodsl.BindArguments(decl, call.Args)
	if err != nil {
		return nil, err
	}

	switch name {
	case "key":
		sym, err := c.symbolSlot(args, "sym")
		if err != nil {
			return nil, err
		}
		return keyTask{symbol: sym}, nil
	case "key_down", "key_up":
		sym, err := c.symbolSlot(args, "sym")
		if err != nil {
			return nil, err
		}
		value := int32(1)
		if name == "key_up" {
			value = 0
		}
		return keyHalfTask{symbol: sym, value: value}, nil
	case "event":
		// Raw events need compile-time constants: the capability they
		// need must be known before any device is created.
		fields := make([]int, 3)
		for i, slot := range []string{"type", "code", "value"} {
			n, ok := mustGet(args, slot).Int()
			if !ok {
				return nil, fmt.Errorf("event(): %q must be a plain number", slot)
			}
			fields[i] = n
		}
		return eventTask{event: mapEvent(fields[0], fields[1], fields[2])}, nil
	case "wait":
		ms, err := c.numberSlot(args, "time")
		if err != nil {
			return nil, err
		}
		return waitTask{ms: ms}, nil
	case "hold":
		return c.compileHold(args)
	case "hold_keys":
		var syms []symbolArg
		for _, v := range args.Variadic() {
			sym, err := c.symbolValue(v)
			if err != nil {
				return nil, err
			}
			syms = append(syms, sym)
		}
		if len(syms) == 0 {
			return nil, fmt.Errorf("hold_keys() needs at least one key name")
		}
		return holdKeysTask{symbols: syms}, nil
	case "repeat":
		count, err := c.numberSlot(args, "repeats")
		if err != nil {
			return nil, err
		}
		child, err := c.macroSlot(args, "task")
		if err != nil {
			return nil, err
		}
		return repeatTask{count: count, child: child}, nil
	case "modify":
		sym, err := c.symbolSlot(args, "modifier")
		if err != nil {
			return nil, err
		}
		child, err := c.macroSlot(args, "task")
		if err != nil {
			return nil, err
		}
		return modifyTask{modifier: sym, child: child}, nil
	case "set":
		varName, err := c.variableName(args, "variable")
		if err != nil {
			return nil, err
		}
		value, err := c.valueSlot(args, "value")
		if err != nil {
			return nil, err
		}
		return setTask{name: varName, value: value}, nil
	case "add":
		varName, err := c.variableName(args, "variable")
		if err != nil {
			return nil, err
		}
		delta, err := c.numberSlot(args, "value")
		if err != nil {
			return nil, err
		}
		return addTask{name: varName, delta: delta}, nil
	case "if_eq":
		varName, err := c.variableName(args, "variable")
		if err != nil {
			return nil, err
		}
		value, err := c.valueSlot(args, "value")
		if err != nil {
			return nil, err
		}
		then, err := c.optionalMacroSlot(args, "then")
		if err != nil {
			return nil, err
		}
		els, err := c.optionalMacroSlot(args, "else")
		if err != nil {
			return nil, err
		}
		return ifEqTask{variable: varName, value: value, then: then, els: els}, nil
	case "if_tap":
		then, err := c.optionalMacroSlot(args, "then")
		if err != nil {
			return nil, err
		}
		els, err := c.optionalMacroSlot(args, "else")
		if err != nil {
			return nil, err
		}
		timeout := 300.0
		if ms, ok := mustGet(args, "timeout").Float(); ok {
			timeout = ms
		}
		return ifTapTask{then: then, els: els, timeout: time.Duration(timeout * float64(time.Millisecond))}, nil
	case "if_single":
		then, err := c.optionalMacroSlot(args, "then")
		if err != nil {
			return nil, err
		}
		els, err := c.optionalMacroSlot(args, "else")
		if err != nil {
			return nil, err
		}
		var timeout time.Duration
		if v, ok := args.Get("timeout"); ok {
			if ms, ok := v.Float(); ok {
				timeout = time.Duration(ms * float64(time.Millisecond))
			}
		}
		return ifSingleTask{then: then, els: els, timeout: timeout}, nil
	case "mouse", "wheel":
		directions := mouseDirections
		if name == "wheel" {
			directions = wheelDirections
		}
		dirValue, _ := args.Get("direction")
		dirName, ok := dirValue.IsBareSymbol()
		if !ok && dirValue.Str != nil {
			dirName, ok = *dirValue.Str, true
		}
		if !ok {
			return nil, fmt.Errorf("%s(): direction must be one of up, down, left, right", name)
		}
		direction, ok := directions[strings.ToLower(dirName)]
		if !ok {
			return nil, fmt.Errorf("%s(): unknown direction %q", name, dirName)
		}
		speed, err := c.numberSlot(args, "speed")
		if err != nil {
			return nil, err
		}
		return relTask{direction: direction, speed: speed, tickRate: relTickRate}, nil
	}
	// Unreachable: every declared name is constructed above.
	return nil, fmt.Errorf("unknown function %q", call.Name)
}

func (c *Compiler) compileHold(args macrodsl.Arguments) (task, error) {
	v, ok := args.Get("task")
	if !ok {
		return holdTask{}, nil
	}
	if sym, isSym := v.IsBareSymbol(); isSym {
		resolved, err := c.resolveSymbol(sym)
		if err != nil {
			return nil, err
		}
		return holdTask{symbol: &resolved}, nil
	}
	if v.Str != nil {
		resolved, err := c.resolveSymbol(*v.Str)
		if err != nil {
			return nil, err
		}
		return holdTask{symbol: &resolved}, nil
	}
	if v.Variable != nil {
		sym := symbolArg{variable: strings.TrimPrefix(*v.Variable, "$")}
		return holdTask{symbol: &sym}, nil
	}
	if v.Sequence != nil {
		child, err := c.compileSequence("", v.Sequence)
		if err != nil {
			return nil, err
		}
		return holdTask{child: child}, nil
	}
	return nil, fmt.Errorf("hold(): expected a key name or a macro")
}

// resolveSymbol validates a compile-time constant key name against the
// symbol table.
func (c *Compiler) resolveSymbol(name string) (symbolArg, error) {
	if c.env.Symbols.IsDisable(name) {
		return symbolArg{}, fmt.Errorf("the %q sentinel cannot be used inside a macro", name)
	}
	code, ok := c.env.Symbols.GetCode(name)
	if !ok {
		return symbolArg{}, fmt.Errorf("unknown key name %q", name)
	}
	return symbolArg{code: code}, nil
}

func (c *Compiler) symbolValue(v macrodsl.ArgValue) (symbolArg, error) {
	if v.Variable != nil {
		return symbolArg{variable: strings.TrimPrefix(*v.Variable, "$")}, nil
	}
	if v.Str != nil {
		return c.resolveSymbol(*v.Str)
	}
	if sym, ok := v.IsBareSymbol(); ok {
		return c.resolveSymbol(sym)
	}
	return symbolArg{}, fmt.Errorf("expected a key name")
}

func (c *Compiler) symbolSlot(args macrodsl.Arguments, slot string) (symbolArg, error) {
	v, ok := args.Get(slot)
	if !ok {
		return symbolArg{}, fmt.Errorf("missing %q", slot)
	}
	return c.symbolValue(v)
}

func (c *Compiler) numberSlot(args macrodsl.Arguments, slot string) (numberArg, error) {
	v, ok := args.Get(slot)
	if !ok {
		return numberArg{}, fmt.Errorf("missing %q", slot)
	}
	if v.Variable != nil {
		return numberArg{variable: strings.TrimPrefix(*v.Variable, "$")}, nil
	}
	if n, ok := v.Float(); ok {
		return numberArg{value: n}, nil
	}
	return numberArg{}, fmt.Errorf("%q expects a number", slot)
}

func (c *Compiler) macroSlot(args macrodsl.Arguments, slot string) (*Macro, error) {
	child, err := c.optionalMacroSlot(args, slot)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("missing %q", slot)
	}
	return child, nil
}

func (c *Compiler) optionalMacroSlot(args macrodsl.Arguments, slot string) (*Macro, error) {
	v, ok := args.Get(slot)
	if !ok {
		return nil, nil
	}
	if v.Sequence == nil {
		return nil, fmt.Errorf("%q expects a macro", slot)
	}
	if _, isSym := v.IsBareSymbol(); isSym {
		return nil, fmt.Errorf("%q expects a macro, got a bare key name", slot)
	}
	return c.compileSequence("", v.Sequence)
}

// variableName accepts $name, a bare name or a quoted name.
func (c *Compiler) variableName(args macrodsl.Arguments, slot string) (string, error) {
	v, ok := args.Get(slot)
	if !ok {
		return "", fmt.Errorf("missing %q", slot)
	}
	switch {
	case v.Variable != nil:
		return strings.TrimPrefix(*v.Variable, "$"), nil
	case v.Str != nil:
		return *v.Str, nil
	default:
		if sym, ok := v.IsBareSymbol(); ok {
			return sym, nil
		}
		return "", fmt.Errorf("%q expects a variable name", slot)
	}
}

func (c *Compiler) valueSlot(args macrodsl.Arguments, slot string) (valueArg, error) {
	v, ok := args.Get(slot)
	if !ok {
		return valueArg{}, fmt.Errorf("missing %q", slot)
	}
	switch {
	case v.Variable != nil:
		return valueArg{variable: strings.TrimPrefix(*v.Variable, "$")}, nil
	case v.Str != nil:
		return valueArg{constant: varstore.StringValue(*v.Str)}, nil
	case v.Number != nil:
		n, _ := v.Float()
		return valueArg{constant: varstore.NumberValue(n)}, nil
	default:
		if sym, ok := v.IsBareSymbol(); ok {
			return valueArg{constant: varstore.StringValue(sym)}, nil
		}
		return valueArg{}, fmt.Errorf("%q expects a value, got a macro", slot)
	}
}

func mustGet(args macrodsl.Arguments, slot string) macrodsl.ArgValue {
	v, _ := args.Get(slot)
	return v
}

func mapEvent(typ, code, value int) mapapi.InputEvent {
	return mapapi.NewInputEvent(evdev.EvType(typ), evdev.EvCode(code), int32(value))
}
