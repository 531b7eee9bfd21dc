package token_test

import (
	"strings"
	"testing"

	"github.com/mpsl-lang/mpsl/internal/lang"
	"github.com/mpsl-lang/mpsl/internal/token"
)

func scanAll(src string) []token.Token {
	lex := token.New(strings.NewReader(src))
	var toks []token.Token
	for {
		tok := lex.Next()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

func kinds(toks []token.Token) []token.Kind {
	out := make([]token.Kind, len(toks))
	for i, t := range toks {
		out[i] = t.Kind
	}
	return out
}

func TestLexKeywordsAndIdentifiers(t *testing.T) {
	toks := scanAll("if else for while do break continue return const true false foo")
	want := []token.Kind{
		token.KwIf, token.KwElse, token.KwFor, token.KwWhile, token.KwDo,
		token.KwBreak, token.KwContinue, token.KwReturn, token.KwConst,
		token.KwTrue, token.KwFalse, token.Ident, token.EOF,
	}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %d tokens, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d kind = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexTypeKeywordsCarryType(t *testing.T) {
	toks := scanAll("int float4 double2 bool")
	types := []lang.Type{lang.TInt, lang.TFloat4, lang.TDouble2, lang.TBool}
	if len(toks) != len(types)+1 {
		t.Fatalf("got %d tokens, want %d", len(toks), len(types)+1)
	}
	for i, want := range types {
		if toks[i].Kind != token.KwType {
			t.Fatalf("token %d kind = %v, want KwType", i, toks[i].Kind)
		}
		if !toks[i].Type.Equal(want) {
			t.Fatalf("token %d type = %v, want %v", i, toks[i].Type, want)
		}
	}
}

func TestLexIdentifierNeverStartsWithDigit(t *testing.T) {
	// "2x" lexes as an int literal "2" followed by an identifier "x", not
	// a single malformed token.
	toks := scanAll("2x")
	if toks[0].Kind != token.LitInt || toks[0].Lexeme != "2" {
		t.Fatalf("first token = %+v, want LitInt \"2\"", toks[0])
	}
	if toks[1].Kind != token.Ident || toks[1].Lexeme != "x" {
		t.Fatalf("second token = %+v, want Ident \"x\"", toks[1])
	}
}

func TestLexNumericLiteralForms(t *testing.T) {
	cases := []struct {
		src  string
		kind token.Kind
	}{
		{"123", token.LitInt},
		{"0x1F", token.LitHexInt},
		{"1.5", token.LitDouble},
		{"1.5f", token.LitFloat},
		{"1.5F", token.LitFloat},
		{"2f", token.LitFloat},
		{"1e10", token.LitDouble},
		{"1e-3f", token.LitFloat},
	}
	for _, c := range cases {
		toks := scanAll(c.src)
		if toks[0].Kind != c.kind {
			t.Fatalf("scan(%q) kind = %v, want %v", c.src, toks[0].Kind, c.kind)
		}
	}
}

func TestLexOperatorsDisambiguateLongestMatch(t *testing.T) {
	cases := []struct {
		src string
		op  lang.Op
	}{
		{"+", lang.OpAdd}, {"++", lang.OpInc}, {"+=", lang.OpAddAssign},
		{"-", lang.OpSub}, {"--", lang.OpDec}, {"-=", lang.OpSubAssign},
		{"<", lang.OpLt}, {"<=", lang.OpLe}, {"<<", lang.OpShl}, {"<<=", lang.OpShlAssign},
		{">", lang.OpGt}, {">=", lang.OpGe}, {">>", lang.OpShr}, {">>=", lang.OpShrAssign},
		{"&", lang.OpBitAnd}, {"&&", lang.OpLogAnd}, {"&=", lang.OpAndAssign},
		{"|", lang.OpBitOr}, {"||", lang.OpLogOr}, {"|=", lang.OpOrAssign},
		{"=", lang.OpAssign}, {"==", lang.OpEq},
		{"!", lang.OpLogNot}, {"!=", lang.OpNe},
	}
	for _, c := range cases {
		toks := scanAll(c.src)
		if toks[0].Kind != token.Operator {
			t.Fatalf("scan(%q) kind = %v, want Operator", c.src, toks[0].Kind)
		}
		if toks[0].Op != c.op {
			t.Fatalf("scan(%q) op = %v, want %v", c.src, toks[0].Op, c.op)
		}
		if toks[0].Lexeme != c.src {
			t.Fatalf("scan(%q) lexeme = %q, want %q", c.src, toks[0].Lexeme, c.src)
		}
	}
}

func TestLexSkipsLineAndBlockComments(t *testing.T) {
	toks := scanAll("1 // trailing comment\n+ /* block\ncomment */ 2")
	want := []token.Kind{token.LitInt, token.Operator, token.LitInt, token.EOF}
	got := kinds(toks)
	if len(got) != len(want) {
		t.Fatalf("got %d tokens %v, want %d", len(got), got, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d kind = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLexUnterminatedBlockCommentIsInvalid(t *testing.T) {
	toks := scanAll("1 /* never closed")
	if toks[0].Kind != token.LitInt {
		t.Fatalf("first token kind = %v, want LitInt", toks[0].Kind)
	}
	if toks[1].Kind != token.Invalid {
		t.Fatalf("second token kind = %v, want Invalid", toks[1].Kind)
	}
}

func TestLexerPeekDoesNotConsume(t *testing.T) {
	lex := token.New(strings.NewReader("a b"))
	first := lex.Peek()
	second := lex.Peek()
	if first.Lexeme != second.Lexeme {
		t.Fatalf("Peek() is not idempotent: %q then %q", first.Lexeme, second.Lexeme)
	}
	consumed := lex.Next()
	if consumed.Lexeme != first.Lexeme {
		t.Fatalf("Next() after Peek() = %q, want %q", consumed.Lexeme, first.Lexeme)
	}
	next := lex.Next()
	if next.Lexeme != "b" {
		t.Fatalf("second Next() = %q, want \"b\"", next.Lexeme)
	}
}

func TestLexUnknownCharacterIsInvalid(t *testing.T) {
	toks := scanAll("@")
	if toks[0].Kind != token.Invalid {
		t.Fatalf("scan(\"@\") kind = %v, want Invalid", toks[0].Kind)
	}
}
