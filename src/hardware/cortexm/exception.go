package cortexm

import "fmt"

// Exception is an exception number, as found in IPSR.
type Exception uint8

const (
	ExcNone      Exception = 0
	ExcHardFault Exception = 3
	ExcSVCall    Exception = 11
	ExcPendSV    Exception = 14
	ExcSysTick   Exception = 15
	numVectors             = 16
)

func (e Exception) String() string {
	switch e {
	case ExcNone:
		return "none"
	case ExcHardFault:
		return "HardFault"
	case ExcSVCall:
		return "SVCall"
	case ExcPendSV:
		return "PendSV"
	case ExcSysTick:
		return "SysTick"
	}
	return fmt.Sprintf("exception(%d)", uint8(e))
}

// takeOrder is the priority order used when several exceptions are pending.
var takeOrder = [...]Exception{ExcHardFault, ExcSVCall, ExcSysTick, ExcPendSV}

// HardwareFrameWords is the number of words the core stacks on entry.
const HardwareFrameWords = 8

// HardwareFrameSize is the size in bytes of the automatically stacked frame.
const HardwareFrameSize = HardwareFrameWords * 4

//
// ExceptionFrame is the part of the register file the core pushes by
// itself on exception entry, lowest address first.
//
type ExceptionFrame struct {
	R0   uint32
	R1   uint32
	R2   uint32
	R3   uint32
	R12  uint32
	LR   uint32
	PC   uint32
	XPSR uint32
}

func (f *ExceptionFrame) Words() [HardwareFrameWords]uint32 {
	return [HardwareFrameWords]uint32{f.R0, f.R1, f.R2, f.R3, f.R12, f.LR, f.PC, f.XPSR}
}

func FrameFromWords(w [HardwareFrameWords]uint32) ExceptionFrame {
	return ExceptionFrame{
		R0: w[0], R1: w[1], R2: w[2], R3: w[3],
		R12: w[4], LR: w[5], PC: w[6], XPSR: w[7],
	}
}

// ReadFrame loads the stacked frame at addr.
func ReadFrame(bus *Bus, addr uint32) (ExceptionFrame, error) {
	var w [HardwareFrameWords]uint32
	if err := bus.ReadWords(addr, w[:]); err != nil {
		return ExceptionFrame{}, err
	}
	return FrameFromWords(w), nil
}

// WriteFrame stores a frame at addr.
func WriteFrame(bus *Bus, addr uint32, f ExceptionFrame) error {
	w := f.Words()
	return bus.WriteWords(addr, w[:])
}

// Handler is an exception handler.  It runs in handler mode on MSP with
// the interrupted context already stacked.
type Handler func(c *CPU) error

// enter performs the hardware side of exception entry.
func (c *CPU) enter(exc Exception) error {
	var excReturn uint32
	var sel StackSel
	switch {
	case c.mode == HandlerMode:
		excReturn, sel = ExcReturnHandlerMSP, MainStack
	case c.Regs.Control&ControlSPSel != 0:
		excReturn, sel = ExcReturnThreadPSP, ProcessStack
	default:
		excReturn, sel = ExcReturnThreadMSP, MainStack
	}
	sp := c.stackPointer(sel)
	xpsr := c.Regs.XPSR
	if sp%8 != 0 {
		sp -= 4
		xpsr |= xpsrAlign
	} else {
		xpsr &^= xpsrAlign
	}
	sp -= HardwareFrameSize
	frame := ExceptionFrame{
		R0: c.Regs.R[0], R1: c.Regs.R[1], R2: c.Regs.R[2], R3: c.Regs.R[3],
		R12: c.Regs.R[12], LR: c.Regs.LR, PC: c.Regs.PC, XPSR: xpsr,
	}
	if err := WriteFrame(c.Bus, sp, frame); err != nil {
		return fmt.Errorf("stacking %s on %s: %w", exc, sel, err)
	}
	c.setStackPointer(sel, sp)
	c.Regs.LR = excReturn
	c.Regs.XPSR = (c.Regs.XPSR &^ xpsrIPSRMask) | uint32(exc)
	c.mode = HandlerMode
	c.active = exc
	c.pending[exc] = false
	c.entries[exc]++
	return nil
}

// ExceptionReturn is the hardware side of loading EXC_RETURN into PC.
func (c *CPU) ExceptionReturn(excReturn uint32) error {
	if c.mode != HandlerMode {
		return &Fault{Kind: UsageFault, Addr: excReturn, Reason: "exception return from thread mode"}
	}
	var sel StackSel
	switch excReturn {
	case ExcReturnThreadMSP:
		sel = MainStack
	case ExcReturnThreadPSP:
		sel = ProcessStack
	default:
		// handler to handler returns only happen with nesting, which this
		// core never does
		return &Fault{Kind: UsageFault, Addr: excReturn, Reason: "invalid EXC_RETURN (INVPC)"}
	}
	sp := c.stackPointer(sel)
	frame, err := ReadFrame(c.Bus, sp)
	if err != nil {
		return fmt.Errorf("unstacking from %s: %w", sel, err)
	}
	if frame.XPSR&XPSRThumb == 0 {
		return &Fault{Kind: UsageFault, Addr: frame.PC, Reason: "stacked xPSR has no thumb bit (INVSTATE)"}
	}
	sp += HardwareFrameSize
	if frame.XPSR&xpsrAlign != 0 {
		sp += 4
	}
	c.setStackPointer(sel, sp)
	c.Regs.R[0], c.Regs.R[1], c.Regs.R[2], c.Regs.R[3] = frame.R0, frame.R1, frame.R2, frame.R3
	c.Regs.R[12] = frame.R12
	c.Regs.LR = frame.LR
	c.Regs.PC = frame.PC
	c.Regs.XPSR = frame.XPSR &^ (xpsrAlign | xpsrIPSRMask)
	if sel == ProcessStack {
		c.Regs.Control |= ControlSPSel
	} else {
		c.Regs.Control &^= ControlSPSel
	}
	c.mode = ThreadMode
	c.active = ExcNone
	return nil
}

// EnteredFrom reports which stack was live when the current exception was
// taken.  Only meaningful in handler mode, before LR is rewritten.
func (c *CPU) EnteredFrom() StackSel {
	if c.Regs.LR == ExcReturnThreadPSP {
		return ProcessStack
	}
	return MainStack
}

// StackedFrameAddr is the address of the frame pushed on entry to the
// current exception.
func (c *CPU) StackedFrameAddr() uint32 {
	return c.stackPointer(c.EnteredFrom())
}
