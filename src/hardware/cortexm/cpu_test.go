package cortexm

import (
	"errors"
	"strings"
	"testing"
)

const (
	codeBase = 0x0800_0000
	mainTop  = 0x2000_1000
)

func testCore(t *testing.T, prog ...Instr) *CPU {
	t.Helper()
	b := testBus()
	var code []byte
	for _, in := range prog {
		e := in.Encode()
		code = append(code, e[:]...)
	}
	if err := b.Load(codeBase, code); err != nil {
		t.Fatalf("load: %v", err)
	}
	c := NewCPU(b)
	c.Regs.PC = codeBase
	c.Regs.MSP = mainTop
	return c
}

func step(t *testing.T, c *CPU, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := c.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
}

func TestExceptionRoundTrip(t *testing.T) {
	c := testCore(t)
	for i := 0; i < 4; i++ {
		c.Regs.R[i] = uint32(0x100 + i)
	}
	c.Regs.R[12] = 0x112
	c.Regs.LR = 0x0800_0101
	c.Regs.XPSR |= XPSRZero
	called := false
	c.SetHandler(ExcPendSV, func(c *CPU) error {
		called = true
		if c.Mode() != HandlerMode || c.Active() != ExcPendSV {
			t.Errorf("expected to run in handler mode for PendSV")
		}
		if c.Regs.LR != ExcReturnThreadMSP || c.EnteredFrom() != MainStack {
			t.Errorf("expected EXC_RETURN for thread/MSP, got %08x", c.Regs.LR)
		}
		if c.Regs.MSP != mainTop-HardwareFrameSize {
			t.Errorf("frame not on MSP: %08x", c.Regs.MSP)
		}
		f, err := ReadFrame(c.Bus, c.StackedFrameAddr())
		if err != nil {
			t.Fatalf("%v", err)
		}
		want := ExceptionFrame{0x100, 0x101, 0x102, 0x103, 0x112, 0x0800_0101, codeBase, XPSRThumb | XPSRZero}
		if f != want {
			t.Errorf("expected frame %+v, got %+v", want, f)
		}
		// scratch registers are the handler's to clobber
		c.Regs.R[0], c.Regs.R[12] = 0, 0
		return nil
	})
	c.PendSV()
	step(t, c, 1)
	if !called {
		t.Fatalf("handler not called")
	}
	if c.Regs.R[0] != 0x100 || c.Regs.R[12] != 0x112 || c.Regs.LR != 0x0800_0101 {
		t.Errorf("registers not restored: %s", &c.Regs)
	}
	if c.Regs.MSP != mainTop || c.Mode() != ThreadMode || c.Active() != ExcNone {
		t.Errorf("core not back in thread mode with MSP %08x", c.Regs.MSP)
	}
	if c.Regs.XPSR&XPSRZero == 0 {
		t.Errorf("flags lost across the exception")
	}
	if c.Entries(ExcPendSV) != 1 || c.Pending(ExcPendSV) {
		t.Errorf("expected exactly one PendSV")
	}
}

func TestExceptionFromProcessStack(t *testing.T) {
	c := testCore(t)
	c.Regs.Control = ControlSPSel | ControlNPriv
	c.Regs.PSP = 0x2000_0800
	if c.Privileged() {
		t.Errorf("nPRIV thread mode should be unprivileged")
	}
	c.SetHandler(ExcPendSV, func(c *CPU) error {
		if c.EnteredFrom() != ProcessStack || c.Regs.LR != ExcReturnThreadPSP {
			t.Errorf("expected entry from PSP, LR %08x", c.Regs.LR)
		}
		if c.StackedFrameAddr() != 0x2000_0800-HardwareFrameSize {
			t.Errorf("frame at %08x", c.StackedFrameAddr())
		}
		if !c.Privileged() {
			t.Errorf("handler mode is always privileged")
		}
		if c.Regs.MSP != mainTop {
			t.Errorf("MSP should be untouched")
		}
		return nil
	})
	c.PendSV()
	step(t, c, 1)
	if c.Regs.PSP != 0x2000_0800 || c.SP() != 0x2000_0800 {
		t.Errorf("PSP not restored: %08x", c.Regs.PSP)
	}
}

func TestExceptionRealignsStack(t *testing.T) {
	c := testCore(t)
	c.Regs.Control = ControlSPSel
	c.Regs.PSP = 0x2000_0804
	c.SetHandler(ExcPendSV, func(c *CPU) error {
		if c.Regs.PSP != 0x2000_0800-HardwareFrameSize {
			t.Errorf("expected realigned frame, PSP %08x", c.Regs.PSP)
		}
		return nil
	})
	c.PendSV()
	step(t, c, 1)
	if c.Regs.PSP != 0x2000_0804 {
		t.Errorf("expected original PSP back, got %08x", c.Regs.PSP)
	}
	if c.Regs.XPSR&xpsrAlign != 0 {
		t.Errorf("alignment marker leaked into xPSR")
	}
}

func TestTailChain(t *testing.T) {
	c := testCore(t, Instr{Op: OpSvc, Imm: 1}, Instr{Op: OpNop})
	var order []Exception
	c.SetHandler(ExcSVCall, func(c *CPU) error {
		order = append(order, c.Active())
		c.PendSV()
		return nil
	})
	c.SetHandler(ExcPendSV, func(c *CPU) error {
		order = append(order, c.Active())
		if c.Regs.LR != ExcReturnThreadMSP {
			t.Errorf("tail chained handler should see the original EXC_RETURN, got %08x", c.Regs.LR)
		}
		if c.Regs.MSP != mainTop-HardwareFrameSize {
			t.Errorf("tail chaining should not stack a second frame, MSP %08x", c.Regs.MSP)
		}
		return nil
	})
	step(t, c, 2)
	if len(order) != 2 || order[0] != ExcSVCall || order[1] != ExcPendSV {
		t.Fatalf("expected SVCall then PendSV, got %v", order)
	}
	if c.Regs.PC != codeBase+InstrSize || c.Regs.MSP != mainTop {
		t.Errorf("expected return after the svc, PC %08x MSP %08x", c.Regs.PC, c.Regs.MSP)
	}
}

func TestSvcStacksReturnAddress(t *testing.T) {
	c := testCore(t,
		Instr{Op: OpMovImm, Rd: 0, Imm: 5},
		Instr{Op: OpSvc, Imm: 3},
		Instr{Op: OpNop})
	c.SetHandler(ExcSVCall, func(c *CPU) error {
		f, err := ReadFrame(c.Bus, c.StackedFrameAddr())
		if err != nil {
			return err
		}
		if f.PC != codeBase+2*InstrSize || f.R0 != 5 {
			t.Errorf("unexpected frame %+v", f)
		}
		f.R0 = 42
		return WriteFrame(c.Bus, c.StackedFrameAddr(), f)
	})
	step(t, c, 3)
	if c.Regs.R[0] != 42 {
		t.Errorf("result written to the frame should land in r0, got %d", c.Regs.R[0])
	}
}

func TestPrimaskHoldsSysTick(t *testing.T) {
	c := testCore(t, Instr{Op: OpB, Imm: codeBase})
	if err := c.SysTick.SetReload(2); err != nil {
		t.Fatalf("%v", err)
	}
	c.SysTick.Enable(true)
	ticks := 0
	c.SetHandler(ExcSysTick, func(c *CPU) error {
		ticks++
		return nil
	})
	prev := c.DisableInterrupts()
	if prev {
		t.Errorf("PRIMASK should start clear")
	}
	step(t, c, 4)
	if ticks != 0 || !c.Pending(ExcSysTick) {
		t.Errorf("masked SysTick should stay pending, ran %d times", ticks)
	}
	c.EnableInterrupts(prev)
	step(t, c, 1)
	if ticks != 1 {
		t.Errorf("expected SysTick to be taken once unmasked, got %d", ticks)
	}
}

func TestSvcWhileMaskedEscalates(t *testing.T) {
	c := testCore(t, Instr{Op: OpSvc})
	var fault *Fault
	c.SetHandler(ExcHardFault, func(c *CPU) error {
		fault = c.LastFault()
		c.Regs.Primask = false
		return nil
	})
	c.DisableInterrupts()
	step(t, c, 2)
	if fault == nil || !strings.Contains(fault.Reason, "svc") {
		t.Errorf("expected a hard fault for the masked svc, got %v", fault)
	}
	if c.Entries(ExcSVCall) != 0 {
		t.Errorf("svc should not have been taken")
	}
}

func TestFaultPendsHardFault(t *testing.T) {
	c := testCore(t, Instr{Op: OpMovImm, Rd: 1, Imm: 0x4000_0000}, Instr{Op: OpLdrb, Rd: 0, Rn: 1})
	var stackedPC uint32
	c.SetHandler(ExcHardFault, func(c *CPU) error {
		f, err := ReadFrame(c.Bus, c.StackedFrameAddr())
		stackedPC = f.PC
		// skip the bad load
		f.PC += InstrSize
		if err == nil {
			err = WriteFrame(c.Bus, c.StackedFrameAddr(), f)
		}
		return err
	})
	step(t, c, 2)
	if !c.Pending(ExcHardFault) || c.Regs.PC != codeBase+InstrSize {
		t.Fatalf("fault should pend with PC on the load, PC %08x", c.Regs.PC)
	}
	if f := c.LastFault(); f == nil || f.Kind != BusFault || f.Addr != 0x4000_0000 {
		t.Errorf("expected bus fault at 40000000, got %v", c.LastFault())
	}
	step(t, c, 1)
	if stackedPC != codeBase+InstrSize {
		t.Errorf("stacked PC should be the faulting instruction, got %08x", stackedPC)
	}
	if c.Regs.PC != codeBase+2*InstrSize {
		t.Errorf("expected to resume after the load, got %08x", c.Regs.PC)
	}
}

func TestBadExceptionReturn(t *testing.T) {
	c := testCore(t)
	c.SetHandler(ExcPendSV, func(c *CPU) error {
		c.Regs.LR = ExcReturnHandlerMSP
		return nil
	})
	c.PendSV()
	err := c.Step()
	var f *Fault
	if !errors.As(err, &f) || f.Kind != UsageFault || !strings.Contains(f.Reason, "INVPC") {
		t.Errorf("expected INVPC, got %v", err)
	}

	c = testCore(t)
	c.SetHandler(ExcPendSV, func(c *CPU) error {
		return c.Bus.Write32(c.StackedFrameAddr()+28, 0)
	})
	c.PendSV()
	if err := c.Step(); err == nil || !strings.Contains(err.Error(), "INVSTATE") {
		t.Errorf("expected INVSTATE, got %v", err)
	}
}

func TestNoHandler(t *testing.T) {
	c := testCore(t)
	c.PendSV()
	if err := c.Step(); !errors.Is(err, ErrNoHandler) {
		t.Errorf("expected ErrNoHandler, got %v", err)
	}
}

func TestWfiWaitsForSysTick(t *testing.T) {
	c := testCore(t, Instr{Op: OpWfi}, Instr{Op: OpNop})
	if err := c.Step(); err == nil {
		t.Errorf("wfi with no interrupt source should fail")
	}
	c.Regs.PC = codeBase
	if err := c.SysTick.SetReload(100); err != nil {
		t.Fatalf("%v", err)
	}
	c.SysTick.Enable(true)
	step(t, c, 1)
	if c.Cycles() != 100 || !c.Pending(ExcSysTick) {
		t.Errorf("expected to sleep 100 cycles into a tick, cycles %d", c.Cycles())
	}
	if c.Regs.PC != codeBase+InstrSize {
		t.Errorf("wfi should complete, PC %08x", c.Regs.PC)
	}
}

func TestSysTickPeriod(t *testing.T) {
	c := testCore(t, Instr{Op: OpB, Imm: codeBase})
	if err := c.SysTick.SetReload(0); err == nil {
		t.Errorf("zero reload should be rejected")
	}
	if err := c.SysTick.SetReload(SysTickReloadMax + 1); err == nil {
		t.Errorf("reload above 24 bits should be rejected")
	}
	if err := c.SysTick.SetReload(5); err != nil {
		t.Fatalf("%v", err)
	}
	c.SysTick.Enable(true)
	c.SetHandler(ExcSysTick, func(c *CPU) error { return nil })
	for c.Cycles() < 20 {
		step(t, c, 1)
	}
	step(t, c, 1) //the tick raised by the 20th cycle
	if c.Entries(ExcSysTick) != 4 {
		t.Errorf("expected 4 ticks in 20 cycles, got %d", c.Entries(ExcSysTick))
	}
	if c.SysTick.Control&SysTickCountFlag == 0 {
		t.Errorf("COUNTFLAG should be set")
	}
}

func TestFlagsAndBranches(t *testing.T) {
	c := testCore(t,
		Instr{Op: OpMovImm, Rd: 2, Imm: 3},
		Instr{Op: OpSubImm, Rd: 2, Imm: 1}, // loop
		Instr{Op: OpCmpImm, Rd: 2, Imm: 0},
		Instr{Op: OpBNE, Imm: codeBase + InstrSize},
		Instr{Op: OpMovSP, Rd: 3},
		Instr{Op: OpSubSP, Imm: 16},
		Instr{Op: OpAddImm, Rd: 2, Imm: 0xffff_ffff},
	)
	step(t, c, 1+3*3+3)
	if c.Regs.R[3] != mainTop || c.SP() != mainTop-16 {
		t.Errorf("sp ops: r3 %08x sp %08x", c.Regs.R[3], c.SP())
	}
	if c.Regs.R[2] != 0xffff_ffff || c.Regs.XPSR&XPSRNegative == 0 {
		t.Errorf("expected negative result, r2 %08x xpsr %08x", c.Regs.R[2], c.Regs.XPSR)
	}
}
