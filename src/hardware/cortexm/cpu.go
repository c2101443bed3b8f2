package cortexm

import (
	"errors"
	"fmt"
)

// ErrNoHandler is returned when an exception is taken with an empty vector.
var ErrNoHandler = errors.New("no handler installed for exception")

//
// CPU is a software model of a single ARMv7-M core, reduced to what a small
// kernel needs: banked stack pointers, the two modes, exception entry and
// return with tail chaining, PRIMASK, SysTick and a fixed width instruction
// set.  Handlers are Go functions installed in the vector table; while one
// runs the core is in handler mode with the interrupted context stacked,
// exactly like the hardware.
//
type CPU struct {
	Regs    Registers
	Bus     *Bus
	SysTick SysTick

	mode      Mode
	active    Exception
	pending   [numVectors]bool
	vectors   [numVectors]Handler
	entries   [numVectors]uint64
	cycles    uint64
	dsb       uint64
	isb       uint64
	lastFault *Fault
}

// NewCPU returns a core in privileged thread mode on MSP, the reset state.
func NewCPU(bus *Bus) *CPU {
	c := &CPU{Bus: bus}
	c.Regs.XPSR = XPSRThumb
	return c
}

func (c *CPU) SetHandler(exc Exception, h Handler) {
	c.vectors[exc] = h
}

func (c *CPU) Mode() Mode {
	return c.mode
}

// Active is the exception being handled, ExcNone in thread mode.
func (c *CPU) Active() Exception {
	return c.active
}

func (c *CPU) Cycles() uint64 {
	return c.cycles
}

// Entries is how many times exc has been taken.
func (c *CPU) Entries(exc Exception) uint64 {
	return c.entries[exc]
}

// Privileged is true in handler mode or in thread mode with nPRIV clear.
func (c *CPU) Privileged() bool {
	return c.mode == HandlerMode || c.Regs.Control&ControlNPriv == 0
}

// SP is the live stack pointer.
func (c *CPU) SP() uint32 {
	return c.stackPointer(c.currentStack())
}

func (c *CPU) currentStack() StackSel {
	if c.mode == ThreadMode && c.Regs.Control&ControlSPSel != 0 {
		return ProcessStack
	}
	return MainStack
}

func (c *CPU) stackPointer(sel StackSel) uint32 {
	if sel == ProcessStack {
		return c.Regs.PSP
	}
	return c.Regs.MSP
}

func (c *CPU) setStackPointer(sel StackSel, v uint32) {
	if sel == ProcessStack {
		c.Regs.PSP = v
	} else {
		c.Regs.MSP = v
	}
}

// PendSV sets ICSR.PENDSVSET.
func (c *CPU) PendSV() {
	c.pending[ExcPendSV] = true
}

func (c *CPU) Pending(exc Exception) bool {
	return c.pending[exc]
}

// DisableInterrupts is CPSID i.  It returns the previous PRIMASK.
func (c *CPU) DisableInterrupts() bool {
	prev := c.Regs.Primask
	c.Regs.Primask = true
	return prev
}

// EnableInterrupts restores PRIMASK to the given state (CPSIE i when false).
func (c *CPU) EnableInterrupts(primask bool) {
	c.Regs.Primask = primask
}

// DSB is the data synchronization barrier.
func (c *CPU) DSB() {
	c.dsb++
}

// ISB is the instruction synchronization barrier.
func (c *CPU) ISB() {
	c.isb++
}

// Barriers returns how many DSB and ISB have been executed.
func (c *CPU) Barriers() (uint64, uint64) {
	return c.dsb, c.isb
}

// LastFault is the fault that caused the current (or last) HardFault.
func (c *CPU) LastFault() *Fault {
	return c.lastFault
}

// Step either takes the highest priority pending exception (running its
// handler and any tail chained ones to completion) or executes one
// instruction.
func (c *CPU) Step() error {
	if exc, ok := c.nextException(); ok {
		return c.takeException(exc)
	}
	if c.mode != ThreadMode {
		return fmt.Errorf("cpu stuck in %s mode", c.mode)
	}
	return c.execute()
}

func (c *CPU) nextException() (Exception, bool) {
	if c.active != ExcNone {
		return ExcNone, false
	}
	for _, exc := range takeOrder {
		if !c.pending[exc] {
			continue
		}
		// PRIMASK blocks everything with configurable priority, which is
		// all of these but HardFault
		if c.Regs.Primask && exc != ExcHardFault {
			continue
		}
		return exc, true
	}
	return ExcNone, false
}

func (c *CPU) takeException(exc Exception) error {
	if err := c.enter(exc); err != nil {
		return err
	}
	for {
		h := c.vectors[exc]
		if h == nil {
			return fmt.Errorf("%s: %w", exc, ErrNoHandler)
		}
		if err := h(c); err != nil {
			return err
		}
		next, ok := c.tailChain()
		if !ok {
			break
		}
		exc = next
	}
	return c.ExceptionReturn(c.Regs.LR)
}

// tailChain picks the next pending exception to run without unstacking.
func (c *CPU) tailChain() (Exception, bool) {
	if c.Regs.Primask {
		return ExcNone, false
	}
	for _, exc := range takeOrder {
		if c.pending[exc] && exc != ExcHardFault {
			c.pending[exc] = false
			c.active = exc
			c.Regs.XPSR = (c.Regs.XPSR &^ xpsrIPSRMask) | uint32(exc)
			c.entries[exc]++
			return exc, true
		}
	}
	return ExcNone, false
}

func (c *CPU) fault(f *Fault) {
	c.lastFault = f
	c.pending[ExcHardFault] = true
}

func (c *CPU) tick(n uint64) {
	c.cycles += n
	if c.SysTick.advance(n) > 0 {
		c.pending[ExcSysTick] = true
	}
}

// execute runs the instruction at PC.  Faults in thread mode become a
// pending HardFault with PC left on the faulting instruction.
func (c *CPU) execute() error {
	pc := c.Regs.PC
	raw, err := c.Bus.ReadBytes(pc, InstrSize)
	if err != nil {
		c.fault(asFault(err, pc))
		return nil
	}
	in, err := Decode(pc, raw)
	if err != nil {
		c.fault(asFault(err, pc))
		return nil
	}
	next := pc + InstrSize
	r := &c.Regs.R
	switch in.Op {
	case OpNop:
	case OpMovImm:
		r[in.Rd] = in.Imm
	case OpAddImm:
		r[in.Rd] += in.Imm
		c.setFlags(r[in.Rd])
	case OpSubImm:
		r[in.Rd] -= in.Imm
		c.setFlags(r[in.Rd])
	case OpAdd:
		r[in.Rd] += r[in.Rn]
		c.setFlags(r[in.Rd])
	case OpCmpImm:
		c.setFlags(r[in.Rd] - in.Imm)
	case OpB:
		next = in.Imm
	case OpBEQ:
		if c.Regs.XPSR&XPSRZero != 0 {
			next = in.Imm
		}
	case OpBNE:
		if c.Regs.XPSR&XPSRZero == 0 {
			next = in.Imm
		}
	case OpLdrb:
		v, err := c.Bus.Read8(r[in.Rn] + in.Imm)
		if err != nil {
			c.fault(asFault(err, pc))
			return nil
		}
		r[in.Rd] = uint32(v)
	case OpStrb:
		if err := c.Bus.Write8(r[in.Rn]+in.Imm, uint8(r[in.Rd])); err != nil {
			c.fault(asFault(err, pc))
			return nil
		}
	case OpMovSP:
		r[in.Rd] = c.SP()
	case OpSubSP:
		c.setStackPointer(c.currentStack(), c.SP()-in.Imm)
	case OpSvc:
		if c.Regs.Primask {
			// SVC with the exception blocked escalates
			c.Regs.PC = pc
			c.fault(&Fault{Kind: HardFault, Addr: pc, Reason: "svc while masked"})
			return nil
		}
		c.pending[ExcSVCall] = true
	case OpWfi:
		c.Regs.PC = next
		if wait := c.SysTick.UntilExpiry(); wait > 0 {
			c.tick(wait)
			return nil
		}
		return fmt.Errorf("wfi at %08x with no interrupt source enabled", pc)
	}
	c.Regs.PC = next
	c.tick(1)
	return nil
}

func (c *CPU) setFlags(v uint32) {
	c.Regs.XPSR &^= XPSRZero | XPSRNegative
	if v == 0 {
		c.Regs.XPSR |= XPSRZero
	}
	if v&0x8000_0000 != 0 {
		c.Regs.XPSR |= XPSRNegative
	}
}

func asFault(err error, pc uint32) *Fault {
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Kind: HardFault, Addr: pc, Reason: err.Error()}
}
