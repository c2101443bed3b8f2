package joy

import (
	"errors"
	"fmt"
	"testing"
)

func TestTableGet(t *testing.T) {
	table := NewTable(2)
	if table.Capacity() != 2 || table.Len() != 0 {
		t.Errorf("new table: capacity %d len %d", table.Capacity(), table.Len())
	}
	p, err := table.allocate()
	if err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if p.Id != 0 {
		t.Errorf("expected lowest slot first, got %s", p.Id)
	}
	if _, err := table.Get(0); !errors.Is(err, ErrorTableNotInitialized) {
		t.Errorf("allocated but unused slot should not be initialized: %v", err)
	}
	p.State = StateReady
	got, err := table.Get(0)
	if err != nil || got != p {
		t.Errorf("expected slot 0 back, got %v %v", got, err)
	}
	if _, err := table.Get(7); !errors.Is(err, ErrorTableNotAvailable) {
		t.Errorf("expected not available for id 7, got %v", err)
	}
	var je JoyError
	_, err = table.Get(7)
	if !errors.As(err, &je) || je.Process() != 7 {
		t.Errorf("error should carry the process id: %v", err)
	}

	p2, _ := table.allocate()
	p2.State = StateBlocked
	if _, err := table.allocate(); !errors.Is(err, ErrorConfigTableFull) {
		t.Errorf("expected table full, got %v", err)
	}
	if table.Len() != 2 || table.Count(StateBlocked) != 1 {
		t.Errorf("bad counts: len %d blocked %d", table.Len(), table.Count(StateBlocked))
	}
	if !table.Runnable() {
		t.Errorf("table with a ready process should be runnable")
	}
	p.State = StateTerminated
	p2.State = StateTerminated
	if table.Runnable() {
		t.Errorf("table with only terminated processes is not runnable")
	}
}

func TestStackRegion(t *testing.T) {
	r := StackRegion{Base: 0x2000_5000, Size: 0x1000}
	if r.Top() != 0x2000_6000 {
		t.Errorf("bad top %08x", r.Top())
	}
	if !r.Contains(0x2000_5ff8, 8) || r.Contains(0x2000_5ffc, 8) || r.Contains(0x2000_4fff, 1) {
		t.Errorf("contains is wrong at the edges")
	}
	below := StackRegion{Base: 0x2000_4000, Size: 0x1000}
	if r.Overlaps(below) || below.Overlaps(r) {
		t.Errorf("adjacent regions do not overlap")
	}
	if !r.Overlaps(StackRegion{Base: 0x2000_4800, Size: 0x1000}) {
		t.Errorf("expected overlap")
	}
}

func TestErrorCodes(t *testing.T) {
	err := MakeError(ErrorSyscallBadBuffer, 3)
	if err.Raw() != ErrorSyscallBadBuffer || err.Process() != 3 {
		t.Errorf("bad fields in %#x", uint64(err))
	}
	if err.Raw().Subsystem() != SyscallSubsystem {
		t.Errorf("expected syscall subsystem, got %d", err.Raw().Subsystem())
	}
	if err.Error() != "process 3: syscall buffer outside of caller memory" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if MakeError(ErrorFaultReentered, NoProcessId).Error() != "context switch reentered" {
		t.Errorf("no process should mean no prefix")
	}
	wrapped := fmt.Errorf("boot: %w", MakeError(ErrorConfigStackOverlap, 1))
	if !errors.Is(wrapped, ErrorConfigStackOverlap) || errors.Is(wrapped, ErrorConfigTableFull) {
		t.Errorf("errors.Is should match the raw code only")
	}
	if !IsConfigurationError(wrapped) || IsConfigurationError(MakeError(ErrorFaultKernelMode, 0)) {
		t.Errorf("configuration error classification is wrong")
	}
}
