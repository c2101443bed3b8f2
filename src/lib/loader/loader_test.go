package loader

import (
	"testing"

	"lake/src/hardware/cortexm"
)

func TestAssembleResolvesLabels(t *testing.T) {
	a := NewAssembler(0x0800_0000)
	a.Label("start")
	a.Adr(0, "msg")
	a.Movi(1, 5)
	a.Svc(2)
	a.B("start")
	a.String("msg", "hello")
	im, err := a.Assemble()
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(im.Bytes) != 4*cortexm.InstrSize+5 {
		t.Errorf("unexpected image size %d", len(im.Bytes))
	}
	msg, _ := im.Symbol("msg")
	if msg != 0x0800_0000+4*cortexm.InstrSize {
		t.Errorf("data should follow code, msg at %08x", msg)
	}
	adr, err := cortexm.Decode(0, im.Bytes[:cortexm.InstrSize])
	if err != nil || adr.Op != cortexm.OpMovImm || adr.Imm != msg {
		t.Errorf("adr not resolved: %s %v", adr, err)
	}
	b, _ := cortexm.Decode(0, im.Bytes[3*cortexm.InstrSize:4*cortexm.InstrSize])
	if b.Op != cortexm.OpB || b.Imm != 0x0800_0000 {
		t.Errorf("branch not resolved: %s", b)
	}
	if names := im.SymbolNames(); len(names) != 2 || names[0] != "start" || names[1] != "msg" {
		t.Errorf("symbols out of order: %v", names)
	}
	if im.End() != 0x0800_0000+uint32(len(im.Bytes)) {
		t.Errorf("bad end %08x", im.End())
	}
}

func TestAssembleErrors(t *testing.T) {
	a := NewAssembler(0)
	a.B("nowhere")
	if _, err := a.Assemble(); err == nil {
		t.Errorf("undefined label should fail")
	}
	a = NewAssembler(0)
	a.Label("x")
	a.String("x", "dup")
	if _, err := a.Assemble(); err == nil {
		t.Errorf("duplicate label should fail")
	}
	a = NewAssembler(0)
	a.Movi(13, 0)
	if _, err := a.Assemble(); err == nil {
		t.Errorf("register 13 should fail")
	}
	if _, err := (&Image{Symbols: map[string]uint32{}}).Symbol("x"); err == nil {
		t.Errorf("missing symbol should fail")
	}
}

func TestLoad(t *testing.T) {
	flash := cortexm.NewRegion("flash", 0x0800_0000, 0x100, true)
	bus := cortexm.NewBus(flash)
	a := NewAssembler(0x0800_0000)
	a.Nop()
	a.Wfi()
	im, err := a.Assemble()
	if err != nil {
		t.Fatalf("%v", err)
	}
	if err := Load(bus, im, nil); err != nil {
		t.Fatalf("%v", err)
	}
	raw, _ := bus.ReadBytes(0x0800_0000+cortexm.InstrSize, cortexm.InstrSize)
	if in, err := cortexm.Decode(0, raw); err != nil || in.Op != cortexm.OpWfi {
		t.Errorf("expected wfi in flash, got %s %v", in, err)
	}
	far := &Image{Base: 0x0800_00f8, Bytes: make([]byte, 16)}
	if err := Load(bus, far, nil); err == nil {
		t.Errorf("image past the end of flash should fail")
	}
}
