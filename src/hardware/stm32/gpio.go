package stm32

import "fmt"

//
// GPIORegisterMap is the subset of a GPIO port's registers the board model
// keeps.  Offsets are the ones of the real part.
//
type GPIORegisterMap struct {
	Mode       uint32 //0x00, 2 bits per pin
	OutputType uint32 //0x04
	Speed      uint32 //0x08
	PullUpDown uint32 //0x0C
	InputData  uint32 //0x10
	OutputData uint32 //0x14
}

// PinMode is the 2 bit MODER field.
type PinMode uint32

const (
	PinInput   PinMode = 0
	PinOutput  PinMode = 1
	PinAltFunc PinMode = 2
	PinAnalog  PinMode = 3
)

// PinsPerPort is the number of lines on one port.
const PinsPerPort = 16

// LED pins on port E of the discovery board.
const (
	FirstLEDPin = 8
	LastLEDPin  = 15
)

//
// GPIO is one port.  Watchers see every change of an output line.
//
type GPIO struct {
	Name string
	Regs GPIORegisterMap

	watchers []func(pin uint8, level bool)
}

func NewGPIO(name string) *GPIO {
	return &GPIO{Name: name}
}

// Watch registers fn to be called when an output line changes level.
func (g *GPIO) Watch(fn func(pin uint8, level bool)) {
	g.watchers = append(g.watchers, fn)
}

// Configure sets the mode of a pin.
func (g *GPIO) Configure(pin uint8, mode PinMode) error {
	if pin >= PinsPerPort {
		return fmt.Errorf("%s: no pin %d", g.Name, pin)
	}
	if mode > PinAnalog {
		return fmt.Errorf("%s: bad mode %d for pin %d", g.Name, mode, pin)
	}
	shift := uint32(pin) * 2
	g.Regs.Mode = (g.Regs.Mode &^ (0b11 << shift)) | uint32(mode)<<shift
	if mode == PinOutput {
		g.Regs.OutputType &^= 1 << pin //push pull
	}
	return nil
}

// PinMode reads back the MODER field of pin.
func (g *GPIO) PinMode(pin uint8) PinMode {
	return PinMode((g.Regs.Mode >> (uint32(pin) * 2)) & 0b11)
}

// Set drives an output pin high (true) or low.
func (g *GPIO) Set(pin uint8, level bool) error {
	if pin >= PinsPerPort {
		return fmt.Errorf("%s: no pin %d", g.Name, pin)
	}
	if g.PinMode(pin) != PinOutput {
		return fmt.Errorf("%s: pin %d is not an output", g.Name, pin)
	}
	prev := g.Level(pin)
	if level {
		g.Regs.OutputData |= 1 << pin
	} else {
		g.Regs.OutputData &^= 1 << pin
	}
	if prev != level {
		for _, w := range g.watchers {
			w(pin, level)
		}
	}
	return nil
}

// Toggle flips an output pin.
func (g *GPIO) Toggle(pin uint8) error {
	return g.Set(pin, !g.Level(pin))
}

// Level is the output data bit of pin.
func (g *GPIO) Level(pin uint8) bool {
	return g.Regs.OutputData&(1<<pin) != 0
}
