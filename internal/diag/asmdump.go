package diag

import (
	"fmt"
	"strings"

	"github.com/klauspost/asmfmt"
	"golang.org/x/arch/x86/x86asm"
)

// RenderMachineCode disassembles the just-finalized code buffer and renders
// it as a gofmt'd-looking Plan 9 assembly listing for the MachineCode
// diagnostic category, so DebugASM dumps read like a `go tool objdump`
// transcript instead of a hex blob.
//
// Disassembly-then-format rather than printing from the encoder's own
// mnemonic log: it catches encoder bugs (wrong opcode, wrong operand size)
// that a direct "what did I mean to emit" log would silently agree with.
func RenderMachineCode(code []byte, is64Bit bool) string {
	var b strings.Builder
	mode := 32
	if is64Bit {
		mode = 64
	}
	pc := uint64(0)
	for pc < uint64(len(code)) {
		inst, err := x86asm.Decode(code[pc:], mode)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(&b, "\tBYTE $0x%02x\n", code[pc])
			pc++
			continue
		}
		syntax := x86asm.Plan9Syntax(inst, pc, nil)
		fmt.Fprintf(&b, "\t%s\n", syntax)
		pc += uint64(inst.Len)
	}

	formatted, err := asmfmt.Format(strings.NewReader(b.String()))
	if err != nil {
		// asmfmt is a cosmetic pass; a formatting failure must never hide
		// the raw disassembly from a developer staring at DebugASM output.
		return b.String()
	}
	return string(formatted)
}
