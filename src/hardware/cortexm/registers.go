package cortexm

import "fmt"

// CONTROL register bits.
const (
	ControlNPriv uint32 = 1 << 0 // thread mode is unprivileged
	ControlSPSel uint32 = 1 << 1 // thread mode uses PSP
)

// xPSR bits.
const (
	XPSRNegative uint32 = 1 << 31
	XPSRZero     uint32 = 1 << 30
	XPSRThumb    uint32 = 1 << 24
	xpsrAlign    uint32 = 1 << 9 // stack was realigned by 4 on entry
	xpsrIPSRMask uint32 = 0x1ff
)

// EXC_RETURN values the hardware puts in LR on exception entry.  Loading
// one of them into PC is the exception return.
const (
	ExcReturnHandlerMSP uint32 = 0xFFFFFFF1
	ExcReturnThreadMSP  uint32 = 0xFFFFFFF9
	ExcReturnThreadPSP  uint32 = 0xFFFFFFFD
)

// NumRegisters is R0-R12, the ones the instruction set can name.
const NumRegisters = 13

//
// Registers is the architectural state of the core.  SP is banked: MSP is
// always used in handler mode, thread mode picks with CONTROL.SPSEL.
//
type Registers struct {
	R       [NumRegisters]uint32
	MSP     uint32
	PSP     uint32
	LR      uint32
	PC      uint32
	XPSR    uint32
	Control uint32
	Primask bool
}

func (r *Registers) String() string {
	return fmt.Sprintf("r0=%08x r1=%08x r2=%08x r3=%08x r4=%08x r5=%08x r6=%08x r7=%08x "+
		"r8=%08x r9=%08x r10=%08x r11=%08x r12=%08x msp=%08x psp=%08x lr=%08x pc=%08x "+
		"xpsr=%08x control=%x",
		r.R[0], r.R[1], r.R[2], r.R[3], r.R[4], r.R[5], r.R[6], r.R[7],
		r.R[8], r.R[9], r.R[10], r.R[11], r.R[12], r.MSP, r.PSP, r.LR, r.PC,
		r.XPSR, r.Control)
}

// Mode is the execution mode of the core.
type Mode int

const (
	ThreadMode Mode = iota
	HandlerMode
)

func (m Mode) String() string {
	if m == HandlerMode {
		return "handler"
	}
	return "thread"
}

// StackSel names one of the two banked stack pointers.
type StackSel int

const (
	MainStack StackSel = iota
	ProcessStack
)

func (s StackSel) String() string {
	if s == ProcessStack {
		return "psp"
	}
	return "msp"
}

// FaultKind is the class of a fault, roughly the fault status registers.
type FaultKind int

const (
	HardFault FaultKind = iota
	BusFault
	UsageFault
)

var faultNames = []string{"hard fault", "bus fault", "usage fault"}

//
// Fault is what the core reports when an access or an instruction cannot
// complete.
//
type Fault struct {
	Kind   FaultKind
	Addr   uint32
	Reason string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at %08x: %s", faultNames[f.Kind], f.Addr, f.Reason)
}
