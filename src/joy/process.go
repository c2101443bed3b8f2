package joy

import "fmt"

// ProcessId is an index into the process table.
type ProcessId uint16

// NoProcessId stands for "no process": the idle kernel, or no outgoing
// process on the first switch.
const NoProcessId ProcessId = 0xffff

func (p ProcessId) String() string {
	if p == NoProcessId {
		return "none"
	}
	return fmt.Sprintf("%d", uint16(p))
}

// ProcessState is the scheduling state of a table slot.
type ProcessState int

const (
	StateUnused ProcessState = iota
	StateReady
	StateRunning
	StateBlocked
	StateTerminated
)

var stateNames = [...]string{"unused", "ready", "running", "blocked", "terminated"}

func (s ProcessState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// StackRegion is the memory a process owns for its stack, [Base, Base+Size).
type StackRegion struct {
	Base uint32
	Size uint32
}

// Top is the initial (empty) stack pointer of a full descending stack.
func (r StackRegion) Top() uint32 {
	return r.Base + r.Size
}

// Contains is true when [addr, addr+n) lies inside the region.
func (r StackRegion) Contains(addr uint32, n uint32) bool {
	return addr >= r.Base && uint64(addr)+uint64(n) <= uint64(r.Top())
}

func (r StackRegion) Overlaps(o StackRegion) bool {
	return r.Base < o.Top() && o.Base < r.Top()
}

func (r StackRegion) String() string {
	return fmt.Sprintf("[%08x,%08x)", r.Base, r.Top())
}

// waitReason is why a blocked process is blocked.
type waitReason int

const (
	waitNone waitReason = iota
	waitSleep
	waitInput
)

//
// ProcessControlBlock is one slot of the table.  SavedSP is only valid
// while the process is not running; while it runs the live PSP is
// authoritative.
//
type ProcessControlBlock struct {
	Id         ProcessId
	Name       string
	State      ProcessState
	SavedSP    uint32
	Stack      StackRegion
	Privileged bool
	Entry      uint32
	ExitCode   uint32

	wait     waitReason
	wakeTick uint64
	selected uint64 //times picked by the scheduler
}

//
// Table is the fixed capacity process table.  Ids are slot indexes and
// never change.  All mutation happens inside trap context.
//
type Table struct {
	slots []ProcessControlBlock
}

func NewTable(capacity int) *Table {
	t := &Table{slots: make([]ProcessControlBlock, capacity)}
	for i := range t.slots {
		t.slots[i].Id = ProcessId(i)
	}
	return t
}

func (t *Table) Capacity() int {
	return len(t.slots)
}

// Len is the number of populated slots.
func (t *Table) Len() int {
	n := 0
	for i := range t.slots {
		if t.slots[i].State != StateUnused {
			n++
		}
	}
	return n
}

// Get returns the PCB of a populated slot.
func (t *Table) Get(id ProcessId) (*ProcessControlBlock, error) {
	p := t.slot(id)
	if p == nil {
		return nil, MakeError(ErrorTableNotAvailable, id)
	}
	if p.State == StateUnused {
		return nil, MakeError(ErrorTableNotInitialized, id)
	}
	return p, nil
}

func (t *Table) slot(id ProcessId) *ProcessControlBlock {
	if int(id) >= len(t.slots) {
		return nil
	}
	return &t.slots[id]
}

// allocate finds the lowest unused slot.
func (t *Table) allocate() (*ProcessControlBlock, error) {
	for i := range t.slots {
		if t.slots[i].State == StateUnused {
			return &t.slots[i], nil
		}
	}
	return nil, MakeError(ErrorConfigTableFull, NoProcessId)
}

// Each calls fn on every populated slot in ascending id order.
func (t *Table) Each(fn func(p *ProcessControlBlock)) {
	for i := range t.slots {
		if t.slots[i].State != StateUnused {
			fn(&t.slots[i])
		}
	}
}

// Count is the number of slots in state s.
func (t *Table) Count(s ProcessState) int {
	n := 0
	for i := range t.slots {
		if t.slots[i].State == s {
			n++
		}
	}
	return n
}

// Runnable is true when some process is ready, running or waiting to be.
func (t *Table) Runnable() bool {
	return t.Count(StateReady)+t.Count(StateRunning)+t.Count(StateBlocked) > 0
}
