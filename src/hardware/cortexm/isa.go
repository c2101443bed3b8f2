package cortexm

import (
	"encoding/binary"
	"fmt"
)

// Opcode is the first byte of an instruction.
type Opcode uint8

const (
	OpNop    Opcode = iota
	OpMovImm        // rd = imm
	OpAddImm        // rd = rd + imm, sets N,Z
	OpSubImm        // rd = rd - imm, sets N,Z
	OpAdd           // rd = rd + rn, sets N,Z
	OpCmpImm        // flags of rd - imm
	OpB             // pc = imm
	OpBEQ           // pc = imm if Z
	OpBNE           // pc = imm if !Z
	OpLdrb          // rd = mem8[rn + imm]
	OpStrb          // mem8[rn + imm] = rd
	OpMovSP         // rd = sp
	OpSubSP         // sp = sp - imm
	OpSvc           // supervisor call #imm
	OpWfi           // wait for interrupt
	opLimit
)

// InstrSize is the size of every encoded instruction in bytes.
const InstrSize = 8

var opNames = [...]string{"nop", "movi", "addi", "subi", "add", "cmpi", "b", "beq", "bne",
	"ldrb", "strb", "movsp", "subsp", "svc", "wfi"}

func (o Opcode) String() string {
	if o >= opLimit {
		return fmt.Sprintf("op(%d)", uint8(o))
	}
	return opNames[o]
}

//
// Instr is one decoded instruction.  The encoding is fixed width:
//   byte 0: opcode, byte 1: rd, byte 2: rn, byte 3: zero, bytes 4-7: imm (LE)
//
type Instr struct {
	Op  Opcode
	Rd  uint8
	Rn  uint8
	Imm uint32
}

func (i Instr) Encode() [InstrSize]byte {
	var b [InstrSize]byte
	b[0] = byte(i.Op)
	b[1] = i.Rd
	b[2] = i.Rn
	binary.LittleEndian.PutUint32(b[4:], i.Imm)
	return b
}

// Decode turns the bytes at addr back into an instruction.  Unknown
// opcodes and register numbers are UNDEFINSTR usage faults.
func Decode(addr uint32, b []byte) (Instr, error) {
	if len(b) < InstrSize {
		return Instr{}, &Fault{Kind: UsageFault, Addr: addr, Reason: "truncated instruction"}
	}
	i := Instr{
		Op:  Opcode(b[0]),
		Rd:  b[1],
		Rn:  b[2],
		Imm: binary.LittleEndian.Uint32(b[4:8]),
	}
	if i.Op >= opLimit || b[3] != 0 {
		return Instr{}, &Fault{Kind: UsageFault, Addr: addr, Reason: "undefined instruction"}
	}
	if i.Rd >= NumRegisters || i.Rn >= NumRegisters {
		return Instr{}, &Fault{Kind: UsageFault, Addr: addr, Reason: "undefined register"}
	}
	return i, nil
}

func (i Instr) String() string {
	switch i.Op {
	case OpNop, OpWfi:
		return i.Op.String()
	case OpB, OpBEQ, OpBNE:
		return fmt.Sprintf("%s %#08x", i.Op, i.Imm)
	case OpSvc, OpSubSP:
		return fmt.Sprintf("%s #%d", i.Op, i.Imm)
	case OpMovSP:
		return fmt.Sprintf("%s r%d", i.Op, i.Rd)
	case OpAdd:
		return fmt.Sprintf("%s r%d, r%d", i.Op, i.Rd, i.Rn)
	case OpLdrb, OpStrb:
		return fmt.Sprintf("%s r%d, [r%d, #%d]", i.Op, i.Rd, i.Rn, i.Imm)
	}
	return fmt.Sprintf("%s r%d, #%d", i.Op, i.Rd, i.Imm)
}
