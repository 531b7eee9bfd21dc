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
package ast

import "github.com/mpsl-lang/mpsl/internal/xutil"

// Visitor is called for every node the walker visits. Returning false from
// Enter skips the node's children (used by sema to stop descending into an
// already-errored subtree).
type Visitor struct {
	Enter func(n Node, parent Node, depth int) bool
	Leave func(n Node, parent Node, depth int)
}

// Walk performs a depth-first pre/post traversal of the tree rooted at n:
// one big type switch over the node kinds, since Go has no sum types to
// pattern-match on directly.
func Walk(n Node, v Visitor) {
	walk(n, nil, 0, v)
}

func walk(n Node, parent Node, depth int, v Visitor) {
	if n == nil {
		return
	}
	descend := true
	if v.Enter != nil {
		descend = v.Enter(n, parent, depth)
	}
	if descend {
		switch node := n.(type) {
		case *Program:
			for _, g := range node.Globals {
				walk(g, node, depth+1, v)
			}
			for _, f := range node.Functions {
				walk(f, node, depth+1, v)
			}
		case *Function:
			walk(node.Body, node, depth+1, v)
		case *Block:
			for _, s := range node.Stmts {
				walk(s, node, depth+1, v)
			}
		case *VarDecl:
			walk(node.Init, node, depth+1, v)
		case *Return:
			walk(node.Value, node, depth+1, v)
		case *If:
			walk(node.Cond, node, depth+1, v)
			walk(node.Then, node, depth+1, v)
			walk(node.Else, node, depth+1, v)
		case *For:
			walk(node.Init, node, depth+1, v)
			walk(node.Cond, node, depth+1, v)
			walk(node.Post, node, depth+1, v)
			walk(node.Body, node, depth+1, v)
		case *While:
			walk(node.Cond, node, depth+1, v)
			walk(node.Body, node, depth+1, v)
		case *DoWhile:
			walk(node.Body, node, depth+1, v)
			walk(node.Cond, node, depth+1, v)
		case *Break, *Continue:
			// no children
		case *ExprStmt:
			walk(node.X, node, depth+1, v)
		case *Unary:
			walk(node.Operand, node, depth+1, v)
		case *Binary:
			walk(node.Left, node, depth+1, v)
			walk(node.Right, node, depth+1, v)
		case *Ternary:
			walk(node.Cond, node, depth+1, v)
			walk(node.Then, node, depth+1, v)
			walk(node.Else, node, depth+1, v)
		case *Assign:
			walk(node.Left, node, depth+1, v)
			walk(node.Right, node, depth+1, v)
		case *Call:
			for _, a := range node.Args {
				walk(a, node, depth+1, v)
			}
		case *Cast:
			walk(node.Operand, node, depth+1, v)
		case *Index:
			walk(node.Operand, node, depth+1, v)
			walk(node.Idx, node, depth+1, v)
		case *Swizzle:
			walk(node.Operand, node, depth+1, v)
		case *Imm, *Symbol:
			// leaves
		default:
			xutil.Unimplement()
		}
	}
	if v.Leave != nil {
		v.Leave(n, parent, depth)
	}
}
