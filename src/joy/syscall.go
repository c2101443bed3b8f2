package joy

import (
	"fmt"

	"lake/src/hardware/cortexm"
)

// Syscall numbers, the immediate of the SVC instruction.
const (
	SysYield    = 0
	SysSleep    = 1
	SysWrite    = 2
	SysReadChar = 3
	SysExit     = 4
	SysSetPin   = 5
)

// Exit codes the kernel records when it ends a process itself.
const (
	ExitInvalidSyscall uint32 = 0xffff_fff0
	ExitBadBuffer      uint32 = 0xffff_fff1
	ExitFault          uint32 = 0xffff_fff2
)

// ResultError is what a failed call finds in r0.
const ResultError = 0xffff_ffff

// Syscall is a decoded request.  It is one of Yield, Sleep, Write,
// ReadChar, Exit or SetPin.
type Syscall interface {
	Number() uint32
}

type Yield struct{}

type Sleep struct {
	Ticks uint32
}

type Write struct {
	Addr uint32
	Len  uint32
}

type ReadChar struct{}

type Exit struct {
	Code uint32
}

type SetPin struct {
	Pin   uint8
	Level bool
}

func (Yield) Number() uint32    { return SysYield }
func (Sleep) Number() uint32    { return SysSleep }
func (Write) Number() uint32    { return SysWrite }
func (ReadChar) Number() uint32 { return SysReadChar }
func (Exit) Number() uint32     { return SysExit }
func (SetPin) Number() uint32   { return SysSetPin }

func (s Sleep) String() string  { return fmt.Sprintf("sleep(%d)", s.Ticks) }
func (w Write) String() string  { return fmt.Sprintf("write(%08x,%d)", w.Addr, w.Len) }
func (e Exit) String() string   { return fmt.Sprintf("exit(%d)", e.Code) }
func (s SetPin) String() string { return fmt.Sprintf("set_pin(%d,%v)", s.Pin, s.Level) }
func (Yield) String() string    { return "yield" }
func (ReadChar) String() string { return "read_char" }

// DecodeSyscall turns the svc number and the argument registers into a
// request.  This is the only place the register convention is known.
func DecodeSyscall(number uint32, args [4]uint32) (Syscall, error) {
	switch number {
	case SysYield:
		return Yield{}, nil
	case SysSleep:
		return Sleep{Ticks: args[0]}, nil
	case SysWrite:
		return Write{Addr: args[0], Len: args[1]}, nil
	case SysReadChar:
		return ReadChar{}, nil
	case SysExit:
		return Exit{Code: args[0]}, nil
	case SysSetPin:
		if args[0] > 0xff {
			return nil, fmt.Errorf("%w: pin %d", ErrorSyscallInvalid, args[0])
		}
		return SetPin{Pin: uint8(args[0]), Level: args[1] != 0}, nil
	}
	return nil, fmt.Errorf("%w: number %d", ErrorSyscallInvalid, number)
}

// outcome is what the dispatcher tells the trap: the value for r0 (when
// set is true) and whether the scheduler has to run.
type outcome struct {
	result   uint32
	set      bool
	decision bool
}

func returns(v uint32) outcome {
	return outcome{result: v, set: true}
}

// svcall is the SVCall handler.  It reads the request out of the frame the
// core stacked on the caller's PSP and writes the result back there.
func (k *Kernel) svcall(cpu *cortexm.CPU) error {
	if cpu.EnteredFrom() != cortexm.ProcessStack || k.current == NoProcessId {
		return MakeError(ErrorFaultNoCurrent, k.current)
	}
	p := &k.table.slots[k.current]
	addr := cpu.StackedFrameAddr()
	frame, err := cortexm.ReadFrame(cpu.Bus, addr)
	if err != nil {
		return err
	}
	svcAt := frame.PC - cortexm.InstrSize
	raw, err := cpu.Bus.ReadBytes(svcAt, cortexm.InstrSize)
	if err != nil {
		return err
	}
	in, err := cortexm.Decode(svcAt, raw)
	if err != nil {
		return err
	}
	if in.Op != cortexm.OpSvc {
		return fmt.Errorf("svcall entered but %08x holds %s", svcAt, in)
	}

	call, err := DecodeSyscall(in.Imm, [4]uint32{frame.R0, frame.R1, frame.R2, frame.R3})
	var out outcome
	if err != nil {
		k.svcLog.Warnf("process %s (%s): %v", p.Id, p.Name, err)
		out = k.terminate(p, ExitInvalidSyscall)
	} else {
		k.svcLog.Debugf("process %s: %v", p.Id, call)
		k.calls[call.Number()]++
		out = k.dispatch(p, call)
	}

	if out.set {
		frame.R0 = out.result
		if err := cortexm.WriteFrame(cpu.Bus, addr, frame); err != nil {
			return err
		}
	}
	if out.decision {
		cpu.PendSV()
	}
	return nil
}

func (k *Kernel) dispatch(p *ProcessControlBlock, call Syscall) outcome {
	switch c := call.(type) {
	case Yield:
		return outcome{set: true, decision: true}
	case Sleep:
		if c.Ticks == 0 {
			return outcome{set: true, decision: true}
		}
		p.State = StateBlocked
		p.wait = waitSleep
		p.wakeTick = k.ticks + uint64(c.Ticks)
		return outcome{set: true, decision: true}
	case Write:
		return k.write(p, c)
	case ReadChar:
		if ch, ok := k.console.ReadChar(); ok {
			return returns(uint32(ch))
		}
		p.State = StateBlocked
		p.wait = waitInput
		return outcome{decision: true}
	case Exit:
		p.State = StateTerminated
		p.ExitCode = c.Code
		k.log.Infof("process %s (%s) exited with %d", p.Id, p.Name, c.Code)
		return outcome{decision: true}
	case SetPin:
		if k.pins == nil {
			return returns(ResultError)
		}
		if err := k.pins.Set(c.Pin, c.Level); err != nil {
			k.svcLog.Warnf("process %s: %v", p.Id, err)
			return returns(ResultError)
		}
		return returns(0)
	}
	return k.terminate(p, ExitInvalidSyscall)
}

// write copies the caller's buffer to the console.  The buffer has to be in
// read only memory or inside the caller's own stack.
func (k *Kernel) write(p *ProcessControlBlock, w Write) outcome {
	if w.Len == 0 {
		return returns(0)
	}
	if !k.readable(p, w.Addr, w.Len) {
		k.svcLog.Warnf("process %s (%s): %v: [%08x,+%d)", p.Id, p.Name,
			MakeError(ErrorSyscallBadBuffer, p.Id), w.Addr, w.Len)
		return k.terminate(p, ExitBadBuffer)
	}
	b, err := k.cpu.Bus.ReadBytes(w.Addr, w.Len)
	if err != nil {
		return k.terminate(p, ExitBadBuffer)
	}
	if err := k.console.WriteString(string(b)); err != nil {
		k.svcLog.Errorf("console: %v", err)
		return returns(ResultError)
	}
	k.written += uint64(len(b))
	return returns(w.Len)
}

func (k *Kernel) readable(p *ProcessControlBlock, addr uint32, n uint32) bool {
	if p.Stack.Contains(addr, n) {
		return true
	}
	for _, r := range k.cpu.Bus.Regions() {
		if r.ReadOnly && addr >= r.Base && uint64(addr)+uint64(n) <= uint64(r.End()) {
			return true
		}
	}
	return false
}

// terminate ends p on the kernel's initiative.
func (k *Kernel) terminate(p *ProcessControlBlock, code uint32) outcome {
	p.State = StateTerminated
	p.ExitCode = code
	p.wait = waitNone
	k.log.Warnf("process %s (%s) terminated, code %#x", p.Id, p.Name, code)
	return outcome{decision: true}
}
