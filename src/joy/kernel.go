package joy

import (
	"context"
	"fmt"

	"lake/src/hardware/cortexm"
	"lake/src/lib/trust"
	"lake/src/lib/upbeat"
)

//
// Kernel owns the process table and the four exception vectors it installs
// on the core.  Everything it mutates is touched only from those handlers,
// or before Start.
//
type Kernel struct {
	params    upbeat.BootParams
	cpu       *cortexm.CPU
	table     *Table
	current   ProcessId
	idleEntry uint32
	mainStack uint32
	started   bool
	inSwitch  bool

	console Console
	pins    PinDriver
	log     *trust.Logger
	svcLog  *trust.Logger

	ticks    uint64
	switches uint64
	written  uint64
	calls    [SysSetPin + 1]uint64
}

type Option func(k *Kernel)

// WithConsole sets the device behind write and read_char.
func WithConsole(c Console) Option {
	return func(k *Kernel) { k.console = c }
}

// WithPins sets the device behind set_pin.
func WithPins(p PinDriver) Option {
	return func(k *Kernel) { k.pins = p }
}

func WithLogger(l *trust.Logger) Option {
	return func(k *Kernel) {
		k.log = l
		k.svcLog = l.With("trap", "svc")
	}
}

// WithMainStack sets the initial MSP.  By default it is the end of the
// memory region holding the process stacks.
func WithMainStack(top uint32) Option {
	return func(k *Kernel) { k.mainStack = top }
}

// NewKernel checks the parameters and installs the kernel's handlers on
// cpu.  idleEntry is the loop the core runs when no process is runnable.
func NewKernel(params upbeat.BootParams, cpu *cortexm.CPU, idleEntry uint32, opts ...Option) (*Kernel, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", MakeError(ErrorConfigBadParams, NoProcessId), err)
	}
	k := &Kernel{
		params:    params,
		cpu:       cpu,
		table:     NewTable(params.ProcessCapacity),
		current:   NoProcessId,
		idleEntry: idleEntry,
		console:   nullConsole{},
	}
	WithLogger(trust.Named("joy"))(k)
	for _, opt := range opts {
		opt(k)
	}
	if k.mainStack == 0 {
		for _, r := range cpu.Bus.Regions() {
			if !r.ReadOnly && params.StackTop > r.Base && params.StackTop <= r.End() {
				k.mainStack = r.End()
			}
		}
	}
	cpu.SetHandler(cortexm.ExcPendSV, k.contextSwitch)
	cpu.SetHandler(cortexm.ExcSVCall, k.svcall)
	cpu.SetHandler(cortexm.ExcSysTick, k.sysTick)
	cpu.SetHandler(cortexm.ExcHardFault, k.hardFault)
	return k, nil
}

// Spawn adds a Ready process with its stack in the next fixed slot below
// the stack top.  Only valid before Start.
func (k *Kernel) Spawn(name string, entry uint32, privileged bool) (ProcessId, error) {
	if k.started {
		return NoProcessId, MakeError(ErrorConfigAlreadyStarted, NoProcessId)
	}
	p, err := k.table.allocate()
	if err != nil {
		return NoProcessId, err
	}
	size := k.params.StackSize
	offset := uint64(p.Id+1) * uint64(size)
	if offset > uint64(k.params.StackTop) {
		return NoProcessId, configError(ErrorConfigStackOutsideMemory, p.Id,
			"slot %d does not fit below %#x", p.Id, k.params.StackTop)
	}
	region := StackRegion{Base: k.params.StackTop - uint32(offset), Size: size}
	return k.SpawnWithStack(name, entry, privileged, region)
}

// SpawnWithStack is Spawn with an explicit stack region.
func (k *Kernel) SpawnWithStack(name string, entry uint32, privileged bool, region StackRegion) (ProcessId, error) {
	if k.started {
		return NoProcessId, MakeError(ErrorConfigAlreadyStarted, NoProcessId)
	}
	p, err := k.table.allocate()
	if err != nil {
		return NoProcessId, err
	}
	var overlap error
	k.table.Each(func(o *ProcessControlBlock) {
		if overlap == nil && o.Stack.Overlaps(region) {
			overlap = configError(ErrorConfigStackOverlap, p.Id, "%s overlaps process %s %s", region, o.Id, o.Stack)
		}
	})
	if overlap != nil {
		return NoProcessId, overlap
	}
	if k.mainStack != 0 && region.Top() > k.mainStack {
		return NoProcessId, configError(ErrorConfigStackOutsideMemory, p.Id,
			"%s is above the main stack %08x", region, k.mainStack)
	}
	sp, err := BuildInitial(k.cpu.Bus, region, entry, privileged)
	if err != nil {
		return NoProcessId, err
	}
	*p = ProcessControlBlock{
		Id:         p.Id,
		Name:       name,
		State:      StateReady,
		SavedSP:    sp,
		Stack:      region,
		Privileged: privileged,
		Entry:      entry,
	}
	k.log.Infof("spawned process %s (%s) entry %08x stack %s", p.Id, name, entry, region)
	return p.Id, nil
}

//
// Start leaves the boot context.  The core is put in privileged thread
// mode on MSP at the idle loop, SysTick is armed with the quantum, and the
// first context switch is pended, so the next Step enters it with no
// outgoing process.
//
func (k *Kernel) Start() error {
	if k.started {
		return MakeError(ErrorConfigAlreadyStarted, NoProcessId)
	}
	if k.table.Len() == 0 {
		return MakeError(ErrorConfigNoProcesses, NoProcessId)
	}
	if k.mainStack == 0 || k.mainStack%8 != 0 {
		return configError(ErrorConfigStackMisaligned, NoProcessId, "main stack %08x", k.mainStack)
	}
	cpu := k.cpu
	cpu.Regs.MSP = k.mainStack
	cpu.Regs.Control = 0
	cpu.Regs.PC = k.idleEntry
	cpu.EnableInterrupts(false)
	if err := cpu.SysTick.SetReload(k.params.QuantumCycles); err != nil {
		return configError(ErrorConfigBadParams, NoProcessId, "%v", err)
	}
	cpu.SysTick.Enable(true)
	cpu.PendSV()
	k.started = true
	k.log.Infof("started with %d processes, quantum %d cycles", k.table.Len(), k.params.QuantumCycles)
	return nil
}

// Step runs the core for one instruction or one exception.
func (k *Kernel) Step() error {
	if !k.started {
		return fmt.Errorf("kernel not started")
	}
	return k.cpu.Step()
}

//
// Run steps the core until maxTicks time slices have elapsed (0 means no
// limit), every process has terminated, ctx is done or the core stops with
// an error.
//
func (k *Kernel) Run(ctx context.Context, maxTicks uint64) error {
	for i := 0; ; i++ {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if maxTicks > 0 && k.ticks >= maxTicks {
			return nil
		}
		if !k.table.Runnable() {
			k.log.Infof("no runnable processes left after %d ticks", k.ticks)
			return nil
		}
		if err := k.Step(); err != nil {
			return err
		}
	}
}

// Current is the running process, false when idle.
func (k *Kernel) Current() (ProcessId, bool) {
	return k.current, k.current != NoProcessId
}

func (k *Kernel) Ticks() uint64 {
	return k.ticks
}

func (k *Kernel) Switches() uint64 {
	return k.switches
}

func (k *Kernel) Table() *Table {
	return k.table
}

// ProcessInfo is a copy of the public part of a PCB.
type ProcessInfo struct {
	Id         ProcessId
	Name       string
	State      ProcessState
	Privileged bool
	Stack      StackRegion
	ExitCode   uint32
	Selected   uint64
}

func (k *Kernel) Processes() []ProcessInfo {
	var out []ProcessInfo
	k.table.Each(func(p *ProcessControlBlock) {
		out = append(out, ProcessInfo{
			Id:         p.Id,
			Name:       p.Name,
			State:      p.State,
			Privileged: p.Privileged,
			Stack:      p.Stack,
			ExitCode:   p.ExitCode,
			Selected:   p.selected,
		})
	})
	return out
}

// LogStats reports the counters at the stats level.
func (k *Kernel) LogStats() {
	k.log.Statsf("kernel", "ticks %d switches %d cycles %d written %d",
		k.ticks, k.switches, k.cpu.Cycles(), k.written)
	k.log.Statsf("syscall", "yield %d sleep %d write %d read_char %d exit %d set_pin %d",
		k.calls[SysYield], k.calls[SysSleep], k.calls[SysWrite],
		k.calls[SysReadChar], k.calls[SysExit], k.calls[SysSetPin])
	for _, p := range k.Processes() {
		k.log.Statsf("process", "%s %-10s %-10s selected %d", p.Id, p.Name, p.State, p.Selected)
	}
}
