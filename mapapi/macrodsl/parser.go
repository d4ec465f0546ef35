// Package macrodsl contains the grammar of the macro language: chainable
// function calls ("key(a).wait(10)"), "+" chord shorthand, "$name" variable
// references, quoted string literals and "#" end-of-line comments.
//
// The same package also parses function signature declarations
// ("repeat(repeats: number, macro: macro)"), which drive arity checking and
// named-argument reordering.
package macrodsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	ruleWhitespace = lexer.SimpleRule{Name: "Whitespace", Pattern: `[ \t\r\n]+`}
	ruleComment    = lexer.SimpleRule{Name: "Comment", Pattern: `#[^\n]*`}
	ruleString     = lexer.SimpleRule{Name: "String", Pattern: `"(\\"|[^"])*"`}
	ruleNumber     = lexer.SimpleRule{Name: "Number", Pattern: `[-+]?(\d*\.)?\d+`}
	ruleVariable   = lexer.SimpleRule{Name: "Variable", Pattern: `\$[a-zA-Z_][a-zA-Z0-9_]*`}
	ruleType       = lexer.SimpleRule{Name: "Type", Pattern: `(symbol|number|string|macro|any)\b`}
	ruleIdent      = lexer.SimpleRule{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`}
	ruleEllipsis   = lexer.SimpleRule{Name: "Ellipsis", Pattern: `\.\.\.`}
	rulePunct      = lexer.SimpleRule{Name: "Punct", Pattern: `[().,+=:*]`}
)

var sequenceLexer = lexer.MustSimple([]lexer.SimpleRule{
	ruleWhitespace,
	ruleComment,
	ruleString,
	ruleNumber,
	ruleVariable,
	ruleIdent,
	rulePunct,
})

var sequenceParser = participle.MustBuild[Sequence](
	participle.Lexer(sequenceLexer),
	participle.UseLookahead(2),
	participle.Elide(ruleWhitespace.Name, ruleComment.Name),
	participle.Unquote(ruleString.Name),
)

// Sequence is a chain of chords separated by ".".
type Sequence struct {
	Chords []Chord `parser:"@@ ( '.' @@ )*"`
}

// Chord is one or more parts joined by "+". A multi-part chord desugars
// into nested press-modifier-and-hold tasks before compilation.
type Chord struct {
	Parts []Part `parser:"@@ ( '+' @@ )*"`
}

// Part is a single element of a chord: a function call, a variable
// reference or a bare symbol name.
type Part struct {
	Call     *Call   `parser:"@@"`
	Variable *string `parser:"| @Variable"`
	Symbol   *string `parser:"| @Ident"`
}

// Call is a function invocation with a comma-separated argument list.
type Call struct {
	Name string     `parser:"@Ident"`
	Args []Argument `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
}

// Argument is one argument, optionally named ("name=value").
type Argument struct {
	Name  *string  `parser:"( @Ident '=' )?"`
	Value ArgValue `parser:"@@"`
}

// ArgValue is the typed value of an argument. A quoted string is used
// verbatim and never re-parsed; a bare token parses as a nested sequence
// whose single bare symbol the compiler treats as a symbol name.
type ArgValue struct {
	Str      *string   `parser:"@String"`
	Number   *string   `parser:"| @Number"`
	Variable *string   `parser:"| @Variable"`
	Sequence *Sequence `parser:"| @@"`
}

// IsBareSymbol returns the symbol name when the value is a single bare
// identifier rather than a real nested macro.
func (v ArgValue) IsBareSymbol() (string, bool) {
	if v.Sequence == nil || len(v.Sequence.Chords) != 1 {
		return "", false
	}
	chord := v.Sequence.Chords[0]
	if len(chord.Parts) != 1 || chord.Parts[0].Symbol == nil {
		return "", false
	}
	return *chord.Parts[0].Symbol, true
}

var declarationLexer = lexer.MustSimple([]lexer.SimpleRule{
	ruleWhitespace,
	ruleString,
	ruleNumber,
	ruleType,
	ruleIdent,
	ruleEllipsis,
	rulePunct,
})

var declarationParser = participle.MustBuild[Declaration](
	participle.Lexer(declarationLexer),
	participle.UseLookahead(2),
	participle.Elide(ruleWhitespace.Name),
	participle.Unquote(ruleString.Name),
)

// Declaration is a function signature: a name and its typed parameters.
type Declaration struct {
	Identifier string      `parser:"@Ident"`
	Parameters []Parameter `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
}

// Parameter declares one argument slot. A parameter with a default value is
// optional; a variadic parameter must come last and absorbs all remaining
// positional arguments.
type Parameter struct {
	Name     string        `parser:"@( Ident | Type ) ':'"`
	Type     string        `parser:"@Type"`
	Variadic bool          `parser:"@Ellipsis?"`
	Default  *DefaultValue `parser:"( '=' @@ )?"`
}

// DefaultValue is a compile-time constant default for an optional
// parameter.
type DefaultValue struct {
	Number *string `parser:"@Number"`
	Str    *string `parser:"| @String"`
	Null   bool    `parser:"| @'null'"`
}
