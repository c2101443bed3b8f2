package joy

import (
	"fmt"

	"lake/src/hardware/cortexm"
)

//
// contextSwitch is the PendSV handler and the only place the running
// process changes.  It runs with interrupts masked, saves the outgoing
// process (if there is one), asks SelectNext for the incoming one, and
// arranges the exception return so the core resumes it.  With nothing to
// run it returns to the kernel idle loop on MSP.
//
func (k *Kernel) contextSwitch(cpu *cortexm.CPU) error {
	primask := cpu.DisableInterrupts()
	defer cpu.EnableInterrupts(primask)
	if k.inSwitch {
		return MakeError(ErrorFaultReentered, k.current)
	}
	k.inSwitch = true
	defer func() { k.inSwitch = false }()

	outgoing := k.current
	from := cpu.EnteredFrom()
	if (from == cortexm.ProcessStack) != (outgoing != NoProcessId) {
		return fmt.Errorf("%w: entered from %s, LR %08x",
			MakeError(ErrorFaultTrapMismatch, outgoing), from, cpu.Regs.LR)
	}

	if outgoing != NoProcessId {
		p := &k.table.slots[outgoing]
		if p.State != StateTerminated {
			sp, err := SaveContext(cpu)
			if err != nil {
				return fmt.Errorf("saving process %s: %w", outgoing, err)
			}
			p.SavedSP = sp
		}
	}

	incoming := SelectNext(k.table, outgoing)
	k.switches++
	if incoming == NoProcessId {
		if err := k.enterIdle(cpu, outgoing); err != nil {
			return err
		}
	} else {
		if outgoing == NoProcessId {
			// the idle loop's frame is not coming back
			cpu.Regs.MSP += cortexm.HardwareFrameSize
		}
		if err := RestoreContext(cpu, k.table.slots[incoming].SavedSP); err != nil {
			return fmt.Errorf("restoring process %s: %w", incoming, err)
		}
	}
	if incoming != outgoing {
		k.log.Debugf("switch %s -> %s", outgoing, incoming)
	}
	k.current = incoming
	cpu.DSB()
	cpu.ISB()
	return nil
}

// enterIdle sets up a return to the idle loop in privileged thread mode.
// When the idle loop itself was interrupted its frame is still on MSP.
func (k *Kernel) enterIdle(cpu *cortexm.CPU, outgoing ProcessId) error {
	if outgoing != NoProcessId {
		sp := cpu.Regs.MSP - cortexm.HardwareFrameSize
		f := cortexm.ExceptionFrame{PC: k.idleEntry, XPSR: cortexm.XPSRThumb}
		if err := cortexm.WriteFrame(cpu.Bus, sp, f); err != nil {
			return fmt.Errorf("idle frame: %w", err)
		}
		cpu.Regs.MSP = sp
		k.log.Debugf("idle")
	}
	cpu.Regs.Control = 0
	cpu.Regs.LR = cortexm.ExcReturnThreadMSP
	return nil
}

//
// sysTick is the time slice.  It advances the tick count, wakes sleepers
// whose time has come, hands pending input to a process blocked in
// read_char, and asks for a switch.
//
func (k *Kernel) sysTick(cpu *cortexm.CPU) error {
	k.ticks++
	var err error
	k.table.Each(func(p *ProcessControlBlock) {
		if p.State != StateBlocked || err != nil {
			return
		}
		switch p.wait {
		case waitSleep:
			if k.ticks >= p.wakeTick {
				p.State = StateReady
				p.wait = waitNone
			}
		case waitInput:
			ch, ok := k.console.ReadChar()
			if !ok {
				return
			}
			err = k.setResult(cpu, p, uint32(ch))
			p.State = StateReady
			p.wait = waitNone
		}
	})
	if err != nil {
		return err
	}
	cpu.PendSV()
	return nil
}

// setResult writes r0 of a process that is not executing.  A process that
// blocked during this same trap has not been switched out yet, so its frame
// is still at the live PSP.
func (k *Kernel) setResult(cpu *cortexm.CPU, p *ProcessControlBlock, v uint32) error {
	addr := p.SavedSP + SoftwareFrameSize
	if p.Id == k.current {
		addr = cpu.Regs.PSP
	}
	return cpu.Bus.WriteWords(addr, []uint32{v})
}

//
// hardFault ends the process that faulted.  A fault in the kernel's own
// thread context has nobody to blame and stops the system.
//
func (k *Kernel) hardFault(cpu *cortexm.CPU) error {
	f := cpu.LastFault()
	if cpu.EnteredFrom() != cortexm.ProcessStack || k.current == NoProcessId {
		return fmt.Errorf("%w: %v", MakeError(ErrorFaultKernelMode, NoProcessId), f)
	}
	p := &k.table.slots[k.current]
	k.log.Errorf("process %s (%s): %v", p.Id, p.Name, f)
	k.terminate(p, ExitFault)
	cpu.PendSV()
	return nil
}
