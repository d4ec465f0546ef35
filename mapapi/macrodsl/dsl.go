package macrodsl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
)

// ParseError describes a rejected macro source. Fragment points at the
// offending part of the input.
type ParseError struct {
	Source   string
	Fragment string
	Err      error
}

func (e *ParseError) Error() string {
	if e.Fragment != "" && e.Fragment != e.Source {
		return fmt.Sprintf("invalid macro %q near %q: %v", e.Source, e.Fragment, e.Err)
	}
	return fmt.Sprintf("invalid macro %q: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseSequence parses macro source text into its syntax tree. Parsing
// never partially succeeds: any lexical or structural problem rejects the
// whole source.
func ParseSequence(src string) (*Sequence, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Source: src, Err: fmt.Errorf("empty macro")}
	}
	seq, err := sequenceParser.ParseString("", src)
	if err != nil {
		return nil, &ParseError{Source: src, Fragment: fragmentAt(src, err), Err: err}
	}
	return seq, nil
}

// fragmentAt extracts a short piece of the source around a parse error
// position, if the error carries one.
func fragmentAt(src string, err error) string {
	var perr participle.Error
	if !errors.As(err, &perr) {
		return src
	}
	off := perr.Position().Offset
	if off < 0 || off >= len(src) {
		return src
	}
	end := off + 16
	if end > len(src) {
		end = len(src)
	}
	return src[off:end]
}

// ParseDeclaration parses a function signature. Signatures are compile-time
// constants, so failures panic at registration via MustParseDeclaration.
func ParseDeclaration(sig string) (Declaration, error) {
	decl, err := declarationParser.ParseString("", sig)
	if err != nil {
		return Declaration{}, fmt.Errorf("invalid declaration %q: %w", sig, err)
	}
	seenDefault := false
	seenVariadic := false
	for _, p := range decl.Parameters {
		if seenVariadic {
			return Declaration{}, fmt.Errorf("invalid declaration %q: variadic parameter must be last", sig)
		}
		if p.Variadic {
			seenVariadic = true
			if p.Default != nil {
				return Declaration{}, fmt.Errorf("invalid declaration %q: variadic parameter %s cannot have a default", sig, p.Name)
			}
			continue
		}
		if p.Default != nil {
			seenDefault = true
		} else if seenDefault {
			return Declaration{}, fmt.Errorf("invalid declaration %q: required parameter %s after optional one", sig, p.Name)
		}
	}
	return *decl, nil
}

func MustParseDeclaration(sig string) Declaration {
	decl, err := ParseDeclaration(sig)
	if err != nil {
		panic(err)
	}
	return decl
}
