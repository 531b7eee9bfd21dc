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

// mpsl is a standalone compile-and-dump driver: it runs one source file
// through the full pipeline with every debug dump enabled and reports any
// diagnostic the sink receives. It has no host Layout of its own (the
// embedding API's Layout is meant to be authored by the program linking
// mpsl in, not guessed from a bare .mpsl file), so it cannot exercise
// Program.Run — that exists for integration tests against a real Layout,
// not this CLI.
package main

import (
	"fmt"
	"os"

	"github.com/mpsl-lang/mpsl/internal/lang"

	"github.com/mpsl-lang/mpsl"
)

type logSink struct{}

func (s *logSink) Log(msg mpsl.Message) {
	if msg.Pos != nil {
		fmt.Printf("[%s] %s at %s: %s\n", msg.Category, msg.Header, msg.Pos, msg.Body)
	} else {
		fmt.Printf("[%s] %s\n%s\n", msg.Category, msg.Header, msg.Body)
	}
}

func main() {
	if len(os.Args) != 2 {
		fmt.Println("Usage: mpsl test.mpsl")
		os.Exit(1)
	}
	src, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	layout := mpsl.NewLayout().
		AddMember(mpsl.RetMemberName, lang.TInt, 0)

	ctx := mpsl.NewContext()
	defer ctx.Release()

	sink := &logSink{}
	opts := mpsl.Verbose | mpsl.DebugAST | mpsl.DebugIR | mpsl.DebugASM
	prog, cerr := mpsl.Compile(ctx, string(src), opts, layout, sink)
	if cerr != nil {
		fmt.Fprintf(os.Stderr, "compile failed: %v\n", cerr)
		os.Exit(1)
	}
	prog.Release()
	os.Exit(0)
}
