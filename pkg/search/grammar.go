// Package search parses the Lucene-style query language and compiles it
// into storage predicates.
package search

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	svcerr "github.com/samplecove/samplecove/pkg/errors"
)

// The grammar is the Lucene subset the query surface supports: OR over AND
// over unary NOT/-, parenthesized groups, field:value terms with quoted
// phrases, [low TO high] ranges and */? wildcards.

type query struct {
	Expr *orExpr `parser:"@@"`
}

type orExpr struct {
	Left  *andExpr   `parser:"@@"`
	Right []*andExpr `parser:"( 'OR' @@ )*"`
}

type andExpr struct {
	Left  *notExpr   `parser:"@@"`
	Right []*notExpr `parser:"( 'AND' @@ )*"`
}

type notExpr struct {
	Not  bool     `parser:"@( 'NOT' | Minus )?"`
	Base *primary `parser:"@@"`
}

type primary struct {
	Group *orExpr `parser:"'(' @@ ')'"`
	Term  *term   `parser:"| @@"`
}

type term struct {
	Field string `parser:"@Word"`
	Value *value `parser:"( ':' @@ )?"`
}

type value struct {
	Range  *rangeValue `parser:"@@"`
	Phrase *string     `parser:"| @String"`
	Word   *string     `parser:"| @Word"`
}

type rangeValue struct {
	Low  string `parser:"'[' @( Word | String )"`
	High string `parser:"'TO' @( Word | String ) ']'"`
}

var queryLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\"|[^"])*"`},
	{Name: "Word", Pattern: `[a-zA-Z0-9_*?./@][a-zA-Z0-9_*?./@-]*`},
	{Name: "Minus", Pattern: `-`},
	{Name: "Punct", Pattern: `[:\[\]()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var queryParser = participle.MustBuild[query](
	participle.Lexer(queryLexer),
	participle.Unquote("String"),
)

// parseQuery parses a raw query string into its AST.
func parseQuery(raw string) (*query, error) {
	q, err := queryParser.ParseString("", raw)
	if err != nil {
		return nil, svcerr.NewUnsupportedGrammarError("cannot parse query", err)
	}
	return q, nil
}
