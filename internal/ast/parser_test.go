// Copyright (c) 2024 The Falcon Contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package ast_test

import (
	"strings"
	"testing"

	"github.com/mpsl-lang/mpsl/internal/ast"
	"github.com/mpsl-lang/mpsl/internal/lang"
)

func mustParse(t *testing.T, src string) *ast.Program {
	t.Helper()
	p := ast.NewParser(strings.NewReader(src))
	prog := p.Parse()
	if errs := p.Errors(); len(errs) > 0 {
		t.Fatalf("unexpected parse errors for %q: %v", src, errs)
	}
	return prog
}

func mainReturn(t *testing.T, prog *ast.Program) ast.Expr {
	t.Helper()
	for _, fn := range prog.Functions {
		if fn.Name != "main" {
			continue
		}
		for _, s := range fn.Body.Stmts {
			if r, ok := s.(*ast.Return); ok {
				return r.Value
			}
		}
	}
	t.Fatal("no return statement found in main")
	return nil
}

func TestParseFunctionAndGlobalDecl(t *testing.T) {
	prog := mustParse(t, `
int offset = 1;
int main() { return offset; }
`)
	if len(prog.Globals) != 1 || prog.Globals[0].Name != "offset" {
		t.Fatalf("globals = %v, want one named \"offset\"", prog.Globals)
	}
	if len(prog.Functions) != 1 || prog.Functions[0].Name != "main" {
		t.Fatalf("functions = %v, want one named \"main\"", prog.Functions)
	}
}

func TestParseFunctionParams(t *testing.T) {
	prog := mustParse(t, `int add(int a, float b) { return a; }`)
	fn := prog.Functions[0]
	if len(fn.Params) != 2 {
		t.Fatalf("got %d params, want 2", len(fn.Params))
	}
	if fn.Params[0].Name != "a" || !fn.Params[0].Type.Equal(lang.TInt) {
		t.Fatalf("param 0 = %+v, want {a, int}", fn.Params[0])
	}
	if fn.Params[1].Name != "b" || !fn.Params[1].Type.Equal(lang.TFloat) {
		t.Fatalf("param 1 = %+v, want {b, float}", fn.Params[1])
	}
}

func TestParseArithmeticPrecedence(t *testing.T) {
	// 2 + 3 * 4 must bind as 2 + (3 * 4), not (2 + 3) * 4.
	prog := mustParse(t, `int main() { return 2 + 3 * 4; }`)
	top, ok := mainReturn(t, prog).(*ast.Binary)
	if !ok {
		t.Fatalf("return value is %T, want *ast.Binary", mainReturn(t, prog))
	}
	if top.Op != lang.OpAdd {
		t.Fatalf("top operator = %v, want OpAdd", top.Op)
	}
	right, ok := top.Right.(*ast.Binary)
	if !ok {
		t.Fatalf("right operand is %T, want *ast.Binary (the multiplication)", top.Right)
	}
	if right.Op != lang.OpMul {
		t.Fatalf("right operator = %v, want OpMul", right.Op)
	}
	if _, ok := top.Left.(*ast.Imm); !ok {
		t.Fatalf("left operand is %T, want *ast.Imm", top.Left)
	}
}

func TestParseParenthesesOverridePrecedence(t *testing.T) {
	// (2 + 3) * 4 must bind the addition first.
	prog := mustParse(t, `int main() { return (2 + 3) * 4; }`)
	top, ok := mainReturn(t, prog).(*ast.Binary)
	if !ok {
		t.Fatalf("return value is %T, want *ast.Binary", mainReturn(t, prog))
	}
	if top.Op != lang.OpMul {
		t.Fatalf("top operator = %v, want OpMul", top.Op)
	}
	if _, ok := top.Left.(*ast.Binary); !ok {
		t.Fatalf("left operand is %T, want *ast.Binary (the parenthesized addition)", top.Left)
	}
}

func TestParseRightAssociativeAssignmentChain(t *testing.T) {
	// a = b = 1 must parse as a = (b = 1): Assign's right operand is
	// itself another Assign, not a syntax error or a left-grouped tree.
	prog := mustParse(t, `
int main() {
	int a = 0;
	int b = 0;
	a = b = 1;
	return a;
}
`)
	fn := prog.Functions[0]
	var outer *ast.Assign
	for _, s := range fn.Body.Stmts {
		if es, ok := s.(*ast.ExprStmt); ok {
			if a, ok := es.X.(*ast.Assign); ok {
				outer = a
			}
		}
	}
	if outer == nil {
		t.Fatal("no top-level assignment statement found")
	}
	if _, ok := outer.Right.(*ast.Assign); !ok {
		t.Fatalf("outer assign's right operand is %T, want a nested *ast.Assign", outer.Right)
	}
}

func TestParseTernaryIsRightAssociative(t *testing.T) {
	prog := mustParse(t, `int main() { return 1 ? 2 : 3 ? 4 : 5; }`)
	top, ok := mainReturn(t, prog).(*ast.Ternary)
	if !ok {
		t.Fatalf("return value is %T, want *ast.Ternary", mainReturn(t, prog))
	}
	if _, ok := top.Else.(*ast.Ternary); !ok {
		t.Fatalf("else branch is %T, want a nested *ast.Ternary", top.Else)
	}
}

func TestParsePrefixAndPostfixIncrementDistinguished(t *testing.T) {
	prog := mustParse(t, `
int main() {
	int x = 0;
	++x;
	x++;
	return x;
}
`)
	fn := prog.Functions[0]
	var prefix, postfix *ast.Unary
	for _, s := range fn.Body.Stmts {
		if es, ok := s.(*ast.ExprStmt); ok {
			if u, ok := es.X.(*ast.Unary); ok {
				if prefix == nil {
					prefix = u
				} else {
					postfix = u
				}
			}
		}
	}
	if prefix == nil || postfix == nil {
		t.Fatal("expected two increment statements")
	}
	if prefix.Postfix {
		t.Fatal("++x parsed with Postfix = true, want false")
	}
	if !postfix.Postfix {
		t.Fatal("x++ parsed with Postfix = false, want true")
	}
}

func TestParseSwizzleAndIndex(t *testing.T) {
	prog := mustParse(t, `
int4 main() {
	int4 v = a;
	int x = v.xy.x;
	int y = v[0];
	return v;
}
`)
	fn := prog.Functions[0]
	var decls []*ast.VarDecl
	for _, s := range fn.Body.Stmts {
		if d, ok := s.(*ast.VarDecl); ok {
			decls = append(decls, d)
		}
	}
	if len(decls) != 3 {
		t.Fatalf("got %d var decls, want 3", len(decls))
	}
	outer, ok := decls[1].Init.(*ast.Swizzle)
	if !ok {
		t.Fatalf("v.xy.x inits with %T, want *ast.Swizzle", decls[1].Init)
	}
	if outer.Mask != "x" {
		t.Fatalf("outer swizzle mask = %q, want \"x\"", outer.Mask)
	}
	inner, ok := outer.Operand.(*ast.Swizzle)
	if !ok {
		t.Fatalf("outer swizzle operand is %T, want *ast.Swizzle", outer.Operand)
	}
	if inner.Mask != "xy" {
		t.Fatalf("inner swizzle mask = %q, want \"xy\"", inner.Mask)
	}

	idx, ok := decls[2].Init.(*ast.Index)
	if !ok {
		t.Fatalf("v[0] inits with %T, want *ast.Index", decls[2].Init)
	}
	if _, ok := idx.Idx.(*ast.Imm); !ok {
		t.Fatalf("index expression is %T, want *ast.Imm", idx.Idx)
	}
}

func TestParseCallWithArguments(t *testing.T) {
	prog := mustParse(t, `float main() { return sqrt(value); }`)
	call, ok := mainReturn(t, prog).(*ast.Call)
	if !ok {
		t.Fatalf("return value is %T, want *ast.Call", mainReturn(t, prog))
	}
	if call.Callee != "sqrt" {
		t.Fatalf("callee = %q, want \"sqrt\"", call.Callee)
	}
	if len(call.Args) != 1 {
		t.Fatalf("got %d args, want 1", len(call.Args))
	}
}

func TestParseIfElseIfChain(t *testing.T) {
	prog := mustParse(t, `
int main() {
	if (true) {
		return 1;
	} else if (false) {
		return 2;
	} else {
		return 3;
	}
}
`)
	fn := prog.Functions[0]
	top, ok := fn.Body.Stmts[0].(*ast.If)
	if !ok {
		t.Fatalf("first statement is %T, want *ast.If", fn.Body.Stmts[0])
	}
	chained, ok := top.Else.(*ast.If)
	if !ok {
		t.Fatalf("else branch is %T, want a chained *ast.If", top.Else)
	}
	if _, ok := chained.Else.(*ast.Block); !ok {
		t.Fatalf("innermost else is %T, want *ast.Block", chained.Else)
	}
}

func TestParseForLoopClauses(t *testing.T) {
	prog := mustParse(t, `
int main() {
	int sum = 0;
	for (int i = 0; i < 10; i = i + 1) {
		sum = sum + i;
	}
	return sum;
}
`)
	fn := prog.Functions[0]
	var loop *ast.For
	for _, s := range fn.Body.Stmts {
		if f, ok := s.(*ast.For); ok {
			loop = f
		}
	}
	if loop == nil {
		t.Fatal("no for loop found")
	}
	if _, ok := loop.Init.(*ast.VarDecl); !ok {
		t.Fatalf("for-init is %T, want *ast.VarDecl", loop.Init)
	}
	if loop.Cond == nil {
		t.Fatal("for-cond is nil")
	}
	if _, ok := loop.Post.(*ast.ExprStmt); !ok {
		t.Fatalf("for-post is %T, want *ast.ExprStmt", loop.Post)
	}
}

func TestParseDoWhileRequiresTrailingSemicolon(t *testing.T) {
	prog := mustParse(t, `
int main() {
	int i = 0;
	do {
		i = i + 1;
	} while (i < 10);
	return i;
}
`)
	fn := prog.Functions[0]
	var loop *ast.DoWhile
	for _, s := range fn.Body.Stmts {
		if d, ok := s.(*ast.DoWhile); ok {
			loop = d
		}
	}
	if loop == nil {
		t.Fatal("no do-while loop found")
	}
	if loop.Cond == nil {
		t.Fatal("do-while cond is nil")
	}
}

func TestParseErrorRecoveryContinuesPastBadStatement(t *testing.T) {
	// A malformed statement followed by a valid one: Parse must report the
	// first error and still recover to parse the rest of the function.
	p := ast.NewParser(strings.NewReader(`
int main() {
	1 + ;
	return 1;
}
`))
	prog := p.Parse()
	if len(p.Errors()) == 0 {
		t.Fatal("expected at least one syntax error")
	}
	if len(prog.Functions) != 1 {
		t.Fatalf("got %d functions after recovery, want 1", len(prog.Functions))
	}
}

func TestParentLinksAreSetAfterParse(t *testing.T) {
	prog := mustParse(t, `int main() { return 1; }`)
	fn := prog.Functions[0]
	if fn.Parent() != prog {
		t.Fatal("function's parent is not the program")
	}
	ret := fn.Body.Stmts[0]
	if ret.Parent() != fn.Body {
		t.Fatal("return statement's parent is not its enclosing block")
	}
}
