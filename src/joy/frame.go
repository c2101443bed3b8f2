package joy

import (
	"lake/src/hardware/cortexm"
)

// Layout of the software saved part of a context, lowest address first:
//   CONTROL, R4, R5, R6, R7, R8, R9, R10, R11, EXC_RETURN
// The hardware frame (R0-R3, R12, LR, PC, xPSR) sits right above it.
const (
	softwareFrameWords = 10
	SoftwareFrameSize  = softwareFrameWords * 4
	ImageSize          = SoftwareFrameSize + cortexm.HardwareFrameSize

	// MinStackSize is one image plus room for the frame of the next trap.
	MinStackSize = ImageSize + cortexm.HardwareFrameSize
)

// Initial CONTROL values: thread mode on PSP, with or without privilege.
const (
	controlUnprivileged = cortexm.ControlSPSel | cortexm.ControlNPriv
	controlPrivileged   = cortexm.ControlSPSel
)

//
// Image is a saved context as it sits on a process stack.  Only
// BuildInitial, SaveContext and RestoreContext read or write one in
// memory.
//
type Image struct {
	Control   uint32
	Callee    [8]uint32 //R4-R11
	ExcReturn uint32
	Frame     cortexm.ExceptionFrame
}

// InitialImage is the context of a process interrupted right before its
// first instruction.
func InitialImage(entry uint32, privileged bool) Image {
	control := controlUnprivileged
	if privileged {
		control = controlPrivileged
	}
	return Image{
		Control:   control,
		ExcReturn: cortexm.ExcReturnThreadPSP,
		Frame: cortexm.ExceptionFrame{
			PC:   entry,
			XPSR: cortexm.XPSRThumb,
		},
	}
}

func (im *Image) softwareWords() [softwareFrameWords]uint32 {
	var w [softwareFrameWords]uint32
	w[0] = im.Control
	copy(w[1:9], im.Callee[:])
	w[9] = im.ExcReturn
	return w
}

func (im *Image) setSoftwareWords(w [softwareFrameWords]uint32) {
	im.Control = w[0]
	copy(im.Callee[:], w[1:9])
	im.ExcReturn = w[9]
}

// BuildInitial writes the initial image at the top of region and returns
// the saved stack pointer for the PCB.
func BuildInitial(bus *cortexm.Bus, region StackRegion, entry uint32, privileged bool) (uint32, error) {
	if region.Size < MinStackSize {
		return 0, configError(ErrorConfigStackTooSmall, NoProcessId,
			"region %s is %d bytes, need %d", region, region.Size, MinStackSize)
	}
	if region.Base%8 != 0 || region.Size%8 != 0 {
		return 0, configError(ErrorConfigStackMisaligned, NoProcessId, "region %s", region)
	}
	if !bus.Contains(region.Base, region.Size) {
		return 0, configError(ErrorConfigStackOutsideMemory, NoProcessId, "region %s", region)
	}
	im := InitialImage(entry, privileged)
	sp := region.Top() - ImageSize
	if err := WriteImage(bus, sp, im); err != nil {
		return 0, err
	}
	return sp, nil
}

// WriteImage stores a whole image at sp.
func WriteImage(bus *cortexm.Bus, sp uint32, im Image) error {
	sw := im.softwareWords()
	if err := bus.WriteWords(sp, sw[:]); err != nil {
		return err
	}
	return cortexm.WriteFrame(bus, sp+SoftwareFrameSize, im.Frame)
}

// ReadImage loads the image a saved stack pointer points at.
func ReadImage(bus *cortexm.Bus, sp uint32) (Image, error) {
	var im Image
	var sw [softwareFrameWords]uint32
	if err := bus.ReadWords(sp, sw[:]); err != nil {
		return im, err
	}
	im.setSoftwareWords(sw)
	f, err := cortexm.ReadFrame(bus, sp+SoftwareFrameSize)
	if err != nil {
		return im, err
	}
	im.Frame = f
	return im, nil
}

// SaveContext is the save half of the switch: push CONTROL, R4-R11 and
// EXC_RETURN below the hardware frame on the live PSP.  It returns the new
// saved stack pointer.
func SaveContext(cpu *cortexm.CPU) (uint32, error) {
	var im Image
	im.Control = cpu.Regs.Control
	copy(im.Callee[:], cpu.Regs.R[4:12])
	im.ExcReturn = cpu.Regs.LR
	sp := cpu.Regs.PSP - SoftwareFrameSize
	sw := im.softwareWords()
	if err := cpu.Bus.WriteWords(sp, sw[:]); err != nil {
		return 0, err
	}
	return sp, nil
}

// RestoreContext is the restore half: pop the software part at sp into the
// live registers and leave PSP pointing at the hardware frame, ready for
// the exception return.
func RestoreContext(cpu *cortexm.CPU, sp uint32) error {
	var sw [softwareFrameWords]uint32
	if err := cpu.Bus.ReadWords(sp, sw[:]); err != nil {
		return err
	}
	var im Image
	im.setSoftwareWords(sw)
	cpu.Regs.Control = im.Control
	copy(cpu.Regs.R[4:12], im.Callee[:])
	cpu.Regs.LR = im.ExcReturn
	cpu.Regs.PSP = sp + SoftwareFrameSize
	return nil
}

