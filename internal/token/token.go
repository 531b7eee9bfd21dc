// Package token implements the MPSL tokenizer: a lazy, one-token-lookahead
// sequence of tokens with source positions, numeric literal
// classification, and the character classifier.
package token

import (
	"github.com/mpsl-lang/mpsl/internal/diag"
	"github.com/mpsl-lang/mpsl/internal/lang"
)

// Kind enumerates every lexical token MPSL source can produce.
type Kind int

const (
	Invalid Kind = iota
	EOF

	Ident
	LitInt
	LitHexInt
	LitFloat
	LitDouble

	// Punctuation
	LParen
	RParen
	LBrace
	RBrace
	LBracket
	RBracket
	Comma
	Semicolon
	Colon
	Dot
	Question

	// Operators (payload carried in Token.Op as a lang.Op)
	Operator

	// Keywords
	KwIf
	KwElse
	KwFor
	KwWhile
	KwDo
	KwBreak
	KwContinue
	KwReturn
	KwConst
	KwTrue
	KwFalse

	// Type keywords: bool/int/float/double and their _2/_3/_4 vector forms,
	// spelled without the underscore on the surface (bool2, int4, ...).
	KwType
)

func (k Kind) String() string {
	names := map[Kind]string{
		Invalid: "<invalid>", EOF: "<eof>", Ident: "<identifier>",
		LitInt: "<int>", LitHexInt: "<hex int>", LitFloat: "<float>", LitDouble: "<double>",
		LParen: "(", RParen: ")", LBrace: "{", RBrace: "}",
		LBracket: "[", RBracket: "]", Comma: ",", Semicolon: ";",
		Colon: ":", Dot: ".", Question: "?", Operator: "<operator>",
		KwIf: "if", KwElse: "else", KwFor: "for", KwWhile: "while", KwDo: "do",
		KwBreak: "break", KwContinue: "continue", KwReturn: "return",
		KwConst: "const", KwTrue: "true", KwFalse: "false", KwType: "<type>",
	}
	if s, ok := names[k]; ok {
		return s
	}
	return "<unknown token>"
}

// Token is one lexeme plus its source position.
type Token struct {
	Kind   Kind
	Lexeme string
	Op     lang.Op   // valid when Kind == Operator
	Type   lang.Type // valid when Kind == KwType
	Pos    diag.Pos
	Begin  int
	End    int
}

var keywords = map[string]Kind{
	"if": KwIf, "else": KwElse, "for": KwFor, "while": KwWhile, "do": KwDo,
	"break": KwBreak, "continue": KwContinue, "return": KwReturn,
	"const": KwConst, "true": KwTrue, "false": KwFalse,
}

var typeKeywords = map[string]lang.Type{
	"bool": lang.TBool, "bool2": lang.TBool2, "bool3": lang.TBool3, "bool4": lang.TBool4,
	"int": lang.TInt, "int2": lang.TInt2, "int3": lang.TInt3, "int4": lang.TInt4,
	"float": lang.TFloat, "float2": lang.TFloat2, "float3": lang.TFloat3, "float4": lang.TFloat4,
	"double": lang.TDouble, "double2": lang.TDouble2, "double3": lang.TDouble3, "double4": lang.TDouble4,
	"void": lang.TVoid,
}
