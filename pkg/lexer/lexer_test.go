package lexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanAll(source string) []Token {
	l := New(source)
	var tokens []Token
	for {
		tok := l.Next()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}

func TestPunctuationAndOperators(t *testing.T) {
	tokens := scanAll("(){},.-+;:*/ != = == < <= > >=")
	types := make([]TokenType, 0, len(tokens))
	for _, tok := range tokens {
		types = append(types, tok.Type)
	}
	assert.Equal(t, []TokenType{
		TokenLeftParen, TokenRightParen, TokenLeftBrace, TokenRightBrace,
		TokenComma, TokenDot, TokenMinus, TokenPlus, TokenSemicolon, TokenColon,
		TokenStar, TokenSlash, TokenBangEqual, TokenEqual, TokenEqualEqual,
		TokenLess, TokenLessEqual, TokenGreater, TokenGreaterEqual, TokenEOF,
	}, types)
}

func TestKeywordsDoNotShadowIdentifierPrefixes(t *testing.T) {
	tokens := scanAll("class classroom forest for fun function")
	require.Len(t, tokens, 7)
	assert.Equal(t, TokenClass, tokens[0].Type)
	assert.Equal(t, TokenIdentifier, tokens[1].Type)
	assert.Equal(t, TokenIdentifier, tokens[2].Type)
	assert.Equal(t, TokenFor, tokens[3].Type)
	assert.Equal(t, TokenFun, tokens[4].Type)
	assert.Equal(t, TokenIdentifier, tokens[5].Type)
}

func TestPermAndControlFlowKeywords(t *testing.T) {
	tokens := scanAll("perm break continue")
	require.Len(t, tokens, 4)
	assert.Equal(t, TokenPerm, tokens[0].Type)
	assert.Equal(t, TokenBreak, tokens[1].Type)
	assert.Equal(t, TokenContinue, tokens[2].Type)
}

func TestNumberLiterals(t *testing.T) {
	tokens := scanAll("42 3.14 0.5")
	require.Len(t, tokens, 4)
	for _, tok := range tokens[:3] {
		assert.Equal(t, TokenNumber, tok.Type)
	}
	assert.Equal(t, "3.14", tokens[1].Lexeme)
}

func TestStringLiteralKeepsEscapesUninterpreted(t *testing.T) {
	tokens := scanAll(`"hi\n\"there\""`)
	require.Len(t, tokens, 2)
	require.Equal(t, TokenString, tokens[0].Type)
	assert.Equal(t, `"hi\n\"there\""`, tokens[0].Lexeme, "lexer defers escape interpretation to the compiler")
}

func TestUnterminatedStringIsAnErrorToken(t *testing.T) {
	tokens := scanAll(`"never closed`)
	require.Len(t, tokens, 1)
	assert.Equal(t, TokenError, tokens[0].Type)
}

func TestUnterminatedStringEndingInBackslashIsAnErrorToken(t *testing.T) {
	tokens := scanAll(`"never closed\`)
	require.Len(t, tokens, 1)
	assert.Equal(t, TokenError, tokens[0].Type)
}

func TestLineCommentsAreSkipped(t *testing.T) {
	tokens := scanAll("1 // this is a comment\n2")
	require.Len(t, tokens, 3)
	assert.Equal(t, TokenNumber, tokens[0].Type)
	assert.Equal(t, 1, tokens[0].Line)
	assert.Equal(t, TokenNumber, tokens[1].Type)
	assert.Equal(t, 2, tokens[1].Line)
}

func TestLineTrackingAcrossNewlines(t *testing.T) {
	tokens := scanAll("var a = 1;\nvar b = 2;\n")
	lines := make([]int, 0)
	for _, tok := range tokens {
		lines = append(lines, tok.Line)
	}
	assert.Equal(t, 1, lines[0])
	assert.Contains(t, lines, 2)
}

func TestUnexpectedCharacterProducesErrorToken(t *testing.T) {
	tokens := scanAll("@")
	require.Len(t, tokens, 1)
	assert.Equal(t, TokenError, tokens[0].Type)
}
