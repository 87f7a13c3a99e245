package lexer_test

import (
	"testing"

	"github.com/kristofer/lisb/pkg/lexer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(src string) []lexer.Token {
	l := lexer.New(src)
	var toks []lexer.Token
	for {
		tok := l.Next()
		toks = append(toks, tok)
		if tok.Kind == lexer.Eof {
			return toks
		}
	}
}

func TestScansParensAndAtoms(t *testing.T) {
	toks := scanAll("(+ 1 2.5)")
	require.Len(t, toks, 6)
	assert.Equal(t, lexer.LParen, toks[0].Kind)
	assert.Equal(t, lexer.Symbol, toks[1].Kind)
	assert.Equal(t, "+", toks[1].Lexeme)
	assert.Equal(t, lexer.Number, toks[2].Kind)
	assert.Equal(t, lexer.Number, toks[3].Kind)
	assert.Equal(t, "2.5", toks[3].Lexeme)
	assert.Equal(t, lexer.RParen, toks[4].Kind)
	assert.Equal(t, lexer.Eof, toks[5].Kind)
}

func TestKeywordsAreDistinctFromSymbols(t *testing.T) {
	toks := scanAll("(lambda lambdas)")
	require.Len(t, toks, 5)
	assert.Equal(t, lexer.Lambda, toks[1].Kind)
	assert.Equal(t, lexer.Symbol, toks[2].Kind)
	assert.Equal(t, "lambdas", toks[2].Lexeme)
}

func TestBooleans(t *testing.T) {
	toks := scanAll("#t #f")
	assert.Equal(t, lexer.True, toks[0].Kind)
	assert.Equal(t, lexer.False, toks[1].Kind)
}

func TestNegativeNumberVsSubtractSymbol(t *testing.T) {
	toks := scanAll("(- -5 x)")
	require.Len(t, toks, 6)
	assert.Equal(t, lexer.Symbol, toks[1].Kind)
	assert.Equal(t, "-", toks[1].Lexeme)
	assert.Equal(t, lexer.Number, toks[2].Kind)
	assert.Equal(t, "-5", toks[2].Lexeme)
}

func TestCommentsAreSkipped(t *testing.T) {
	toks := scanAll("; a comment\n(+ 1 2) ; trailing\n")
	assert.Equal(t, lexer.LParen, toks[0].Kind)
}

func TestLineAndColumnTracking(t *testing.T) {
	toks := scanAll("(foo\n  bar)")
	// bar sits on line 2
	var barTok lexer.Token
	for _, tok := range toks {
		if tok.Lexeme == "bar" {
			barTok = tok
		}
	}
	assert.Equal(t, 2, barTok.Line)
}

func TestUnterminatedStringIsAnError(t *testing.T) {
	toks := scanAll(`"abc`)
	assert.Equal(t, lexer.Fail, toks[0].Kind)
}
