package loader

import (
	"fmt"
	"sort"

	"lake/src/hardware/cortexm"
)

//
// Assembler builds a flash image: code first, read only data after it.
// Branch targets and data addresses are given by label and resolved when
// the image is assembled.
//
type Assembler struct {
	base   uint32
	code   []cortexm.Instr
	fixups map[int]string //instruction index -> label for Imm
	labels map[string]int //label -> instruction index
	data   []byte
	dataAt map[string]int //label -> offset in data
	err    error
}

func NewAssembler(base uint32) *Assembler {
	return &Assembler{
		base:   base,
		fixups: make(map[int]string),
		labels: make(map[string]int),
		dataAt: make(map[string]int),
	}
}

func (a *Assembler) fail(format string, params ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf(format, params...)
	}
}

// Label names the next instruction.
func (a *Assembler) Label(name string) {
	if a.defined(name) {
		a.fail("label %q defined twice", name)
		return
	}
	a.labels[name] = len(a.code)
}

func (a *Assembler) defined(name string) bool {
	_, code := a.labels[name]
	_, data := a.dataAt[name]
	return code || data
}

// Emit appends one instruction.
func (a *Assembler) Emit(in cortexm.Instr) {
	if in.Rd >= cortexm.NumRegisters || in.Rn >= cortexm.NumRegisters {
		a.fail("instruction %d: register out of range in %s", len(a.code), in)
		return
	}
	a.code = append(a.code, in)
}

func (a *Assembler) emitRef(in cortexm.Instr, label string) {
	a.fixups[len(a.code)] = label
	a.Emit(in)
}

func (a *Assembler) Nop() { a.Emit(cortexm.Instr{Op: cortexm.OpNop}) }
func (a *Assembler) Wfi() { a.Emit(cortexm.Instr{Op: cortexm.OpWfi}) }
func (a *Assembler) Svc(n uint32) { a.Emit(cortexm.Instr{Op: cortexm.OpSvc, Imm: n}) }
func (a *Assembler) Movi(rd uint8, v uint32) { a.Emit(cortexm.Instr{Op: cortexm.OpMovImm, Rd: rd, Imm: v}) }
func (a *Assembler) Addi(rd uint8, v uint32) { a.Emit(cortexm.Instr{Op: cortexm.OpAddImm, Rd: rd, Imm: v}) }
func (a *Assembler) Subi(rd uint8, v uint32) { a.Emit(cortexm.Instr{Op: cortexm.OpSubImm, Rd: rd, Imm: v}) }
func (a *Assembler) Add(rd, rn uint8) { a.Emit(cortexm.Instr{Op: cortexm.OpAdd, Rd: rd, Rn: rn}) }
func (a *Assembler) Cmpi(rd uint8, v uint32) { a.Emit(cortexm.Instr{Op: cortexm.OpCmpImm, Rd: rd, Imm: v}) }
func (a *Assembler) MovSP(rd uint8) { a.Emit(cortexm.Instr{Op: cortexm.OpMovSP, Rd: rd}) }
func (a *Assembler) SubSP(n uint32) { a.Emit(cortexm.Instr{Op: cortexm.OpSubSP, Imm: n}) }

func (a *Assembler) Ldrb(rd, rn uint8, off uint32) {
	a.Emit(cortexm.Instr{Op: cortexm.OpLdrb, Rd: rd, Rn: rn, Imm: off})
}

func (a *Assembler) Strb(rd, rn uint8, off uint32) {
	a.Emit(cortexm.Instr{Op: cortexm.OpStrb, Rd: rd, Rn: rn, Imm: off})
}

func (a *Assembler) B(label string) { a.emitRef(cortexm.Instr{Op: cortexm.OpB}, label) }
func (a *Assembler) Beq(label string) { a.emitRef(cortexm.Instr{Op: cortexm.OpBEQ}, label) }
func (a *Assembler) Bne(label string) { a.emitRef(cortexm.Instr{Op: cortexm.OpBNE}, label) }

// Adr loads the address of a code or data label into rd.
func (a *Assembler) Adr(rd uint8, label string) {
	a.emitRef(cortexm.Instr{Op: cortexm.OpMovImm, Rd: rd}, label)
}

// String places s (not terminated) in read only data under label.
func (a *Assembler) String(label string, s string) {
	a.Bytes(label, []byte(s))
}

func (a *Assembler) Bytes(label string, b []byte) {
	if a.defined(label) {
		a.fail("label %q defined twice", label)
		return
	}
	a.dataAt[label] = len(a.data)
	a.data = append(a.data, b...)
}

//
// Image is an assembled flash image.
//
type Image struct {
	Base    uint32
	Bytes   []byte
	Symbols map[string]uint32
}

// Assemble resolves labels and encodes everything.
func (a *Assembler) Assemble() (*Image, error) {
	if a.err != nil {
		return nil, a.err
	}
	dataBase := a.base + uint32(len(a.code))*cortexm.InstrSize
	symbols := make(map[string]uint32, len(a.labels)+len(a.dataAt))
	for name, idx := range a.labels {
		symbols[name] = a.base + uint32(idx)*cortexm.InstrSize
	}
	for name, off := range a.dataAt {
		symbols[name] = dataBase + uint32(off)
	}
	out := make([]byte, 0, len(a.code)*cortexm.InstrSize+len(a.data))
	for i, in := range a.code {
		if label, ok := a.fixups[i]; ok {
			addr, ok := symbols[label]
			if !ok {
				return nil, fmt.Errorf("instruction %d (%s): undefined label %q", i, in.Op, label)
			}
			in.Imm = addr
		}
		enc := in.Encode()
		out = append(out, enc[:]...)
	}
	out = append(out, a.data...)
	return &Image{Base: a.base, Bytes: out, Symbols: symbols}, nil
}

// Symbol is the address of a label.
func (im *Image) Symbol(name string) (uint32, error) {
	addr, ok := im.Symbols[name]
	if !ok {
		return 0, fmt.Errorf("no symbol %q in image", name)
	}
	return addr, nil
}

// End is the first address past the image.
func (im *Image) End() uint32 {
	return im.Base + uint32(len(im.Bytes))
}

// SymbolNames lists the symbols in address order.
func (im *Image) SymbolNames() []string {
	names := make([]string, 0, len(im.Symbols))
	for n := range im.Symbols {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if im.Symbols[names[i]] == im.Symbols[names[j]] {
			return names[i] < names[j]
		}
		return im.Symbols[names[i]] < im.Symbols[names[j]]
	})
	return names
}
