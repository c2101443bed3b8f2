package joy

import (
	"errors"
	"testing"

	"lake/src/hardware/cortexm"
)

const (
	testFlash = 0x0800_0000
	testSRAM  = 0x2000_0000
)

func testCPU() *cortexm.CPU {
	flash := cortexm.NewRegion("flash", testFlash, 0x4000, true)
	sram := cortexm.NewRegion("sram", testSRAM, 0xA000, false)
	return cortexm.NewCPU(cortexm.NewBus(flash, sram))
}

func TestBuildInitialImage(t *testing.T) {
	cpu := testCPU()
	region := StackRegion{Base: 0x2000_5000, Size: 0x1000}
	for _, privileged := range []bool{false, true} {
		sp, err := BuildInitial(cpu.Bus, region, 0x0800_0040, privileged)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sp != region.Top()-ImageSize {
			t.Errorf("expected saved sp %08x, got %08x", region.Top()-ImageSize, sp)
		}
		im, err := ReadImage(cpu.Bus, sp)
		if err != nil {
			t.Fatalf("unable to read image back: %v", err)
		}
		want := uint32(0x3)
		if privileged {
			want = 0x2
		}
		if im.Control != want {
			t.Errorf("privileged=%v: expected CONTROL %#x, got %#x", privileged, want, im.Control)
		}
		if im.ExcReturn != 0xFFFFFFFD {
			t.Errorf("expected EXC_RETURN 0xFFFFFFFD, got %08x", im.ExcReturn)
		}
		if im.Frame.PC != 0x0800_0040 {
			t.Errorf("expected entry in stacked PC, got %08x", im.Frame.PC)
		}
		if im.Frame.XPSR != 0x0100_0000 {
			t.Errorf("expected thumb only xPSR, got %08x", im.Frame.XPSR)
		}
		for i, v := range im.Callee {
			if v != 0 {
				t.Errorf("R%d should start at zero, got %#x", i+4, v)
			}
		}
	}
}

func TestBuildInitialRejects(t *testing.T) {
	cpu := testCPU()
	cases := []struct {
		name   string
		region StackRegion
		want   RawJoyError
	}{
		{"too small", StackRegion{Base: 0x2000_1000, Size: MinStackSize - 8}, ErrorConfigStackTooSmall},
		{"misaligned", StackRegion{Base: 0x2000_1004, Size: 0x100}, ErrorConfigStackMisaligned},
		{"unmapped", StackRegion{Base: 0x3000_0000, Size: 0x100}, ErrorConfigStackOutsideMemory},
	}
	for _, c := range cases {
		_, err := BuildInitial(cpu.Bus, c.region, testFlash, false)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, err)
		}
		if !IsConfigurationError(err) {
			t.Errorf("%s: should be a configuration error: %v", c.name, err)
		}
	}
	if _, err := BuildInitial(cpu.Bus, StackRegion{Base: testFlash, Size: 0x100}, testFlash, false); err == nil {
		t.Errorf("expected building a frame in flash to fail")
	}
	if _, err := BuildInitial(cpu.Bus, StackRegion{Base: 0x2000_1000, Size: MinStackSize}, testFlash, false); err != nil {
		t.Errorf("minimum stack should be accepted: %v", err)
	}
}

func TestSaveRestoreRoundTrip(t *testing.T) {
	cpu := testCPU()
	cpu.Regs.PSP = 0x2000_1000
	cpu.Regs.Control = 0x3
	cpu.Regs.LR = cortexm.ExcReturnThreadPSP
	for i := 4; i <= 11; i++ {
		cpu.Regs.R[i] = uint32(0x1111_1111 * (i - 3))
	}
	sp, err := SaveContext(cpu)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if sp != 0x2000_1000-SoftwareFrameSize {
		t.Errorf("expected saved sp %08x, got %08x", 0x2000_1000-SoftwareFrameSize, sp)
	}
	saved := cpu.Regs
	cpu.Regs = cortexm.Registers{}
	if err := RestoreContext(cpu, sp); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if cpu.Regs.R != saved.R {
		t.Errorf("registers differ after restore: %v vs %v", cpu.Regs.R, saved.R)
	}
	if cpu.Regs.Control != 0x3 || cpu.Regs.LR != cortexm.ExcReturnThreadPSP {
		t.Errorf("bad CONTROL %#x or LR %08x after restore", cpu.Regs.Control, cpu.Regs.LR)
	}
	if cpu.Regs.PSP != 0x2000_1000 {
		t.Errorf("expected PSP back at %08x, got %08x", 0x2000_1000, cpu.Regs.PSP)
	}
}

// The restore half followed by the exception return lands on the entry
// point with a clean register set, in unprivileged thread mode on PSP.
func TestRestoreInitialImage(t *testing.T) {
	cpu := testCPU()
	region := StackRegion{Base: 0x2000_4000, Size: 0x1000}
	entry := uint32(testFlash + 0x80)
	sp, err := BuildInitial(cpu.Bus, region, entry, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cpu.SetHandler(cortexm.ExcPendSV, func(c *cortexm.CPU) error {
		return RestoreContext(c, sp)
	})
	for i := range cpu.Regs.R {
		cpu.Regs.R[i] = 0xdead_0000 + uint32(i)
	}
	cpu.Regs.MSP = testSRAM + 0xA000
	cpu.PendSV()
	if err := cpu.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}
	if cpu.Mode() != cortexm.ThreadMode {
		t.Errorf("expected thread mode, got %s", cpu.Mode())
	}
	if cpu.Regs.PC != entry {
		t.Errorf("expected PC %08x, got %08x", entry, cpu.Regs.PC)
	}
	for i := 0; i <= 12; i++ {
		if cpu.Regs.R[i] != 0 {
			t.Errorf("R%d should be zero, got %#x", i, cpu.Regs.R[i])
		}
	}
	if cpu.Privileged() {
		t.Errorf("process should be unprivileged")
	}
	if cpu.SP() != region.Top() {
		t.Errorf("expected empty stack at %08x, got %08x", region.Top(), cpu.SP())
	}
}
