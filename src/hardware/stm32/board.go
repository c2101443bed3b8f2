package stm32

import (
	"io"

	"lake/src/hardware/cortexm"
)

// Memory map of the discovery board part.
const (
	FlashBase uint32 = 0x0800_0000
	FlashSize uint32 = 0x0004_0000
	SRAMBase  uint32 = 0x2000_0000
	SRAMSize  uint32 = 0x0000_A000
)

//
// Board is the core plus the peripherals the kernel talks to.
//
type Board struct {
	CPU    *cortexm.CPU
	Bus    *cortexm.Bus
	Flash  *cortexm.Region
	SRAM   *cortexm.Region
	GPIOE  *GPIO
	USART1 *USART
}

// NewBoard builds a board whose USART1 transmits to uartOut.
func NewBoard(uartOut io.Writer) *Board {
	flash := cortexm.NewRegion("flash", FlashBase, FlashSize, true)
	sram := cortexm.NewRegion("sram", SRAMBase, SRAMSize, false)
	bus := cortexm.NewBus(flash, sram)
	if uartOut == nil {
		uartOut = io.Discard
	}
	return &Board{
		CPU:    cortexm.NewCPU(bus),
		Bus:    bus,
		Flash:  flash,
		SRAM:   sram,
		GPIOE:  NewGPIO("GPIOE"),
		USART1: NewUSART(uartOut),
	}
}

// SRAMEnd is the initial main stack pointer.
func (b *Board) SRAMEnd() uint32 {
	return b.SRAM.End()
}
