package stm32

import (
	"io"
	"sync"
)

// USART interrupt and status register bits.
const (
	USARTReceiveNotEmpty  uint32 = 1 << 5
	USARTTransferComplete uint32 = 1 << 6
	USARTTransmitEmpty    uint32 = 1 << 7
)

//
// USARTRegisterMap is the subset of USART1 the model keeps.
//
type USARTRegisterMap struct {
	Status   uint32 //0x1C ISR
	Receive  uint32 //0x24 RDR
	Transmit uint32 //0x28 TDR
}

//
// USART is USART1 wired to a host writer on the transmit side and a byte
// queue on the receive side.  Inject may be called from another goroutine.
//
type USART struct {
	Regs USARTRegisterMap

	out io.Writer
	mu  sync.Mutex
	rx  []byte
}

func NewUSART(out io.Writer) *USART {
	u := &USART{out: out}
	u.Regs.Status = USARTTransmitEmpty | USARTTransferComplete
	return u
}

// Transmit writes one byte through TDR.
func (u *USART) Transmit(b byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Regs.Transmit = uint32(b)
	u.Regs.Status &^= USARTTransmitEmpty | USARTTransferComplete
	_, err := u.out.Write([]byte{b})
	u.Regs.Status |= USARTTransmitEmpty | USARTTransferComplete
	return err
}

// Receive returns the next byte from RDR if RXNE is set.
func (u *USART) Receive() (byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.rx) == 0 {
		u.Regs.Status &^= USARTReceiveNotEmpty
		return 0, false
	}
	b := u.rx[0]
	u.rx = u.rx[1:]
	u.Regs.Receive = uint32(b)
	if len(u.rx) == 0 {
		u.Regs.Status &^= USARTReceiveNotEmpty
	}
	return b, true
}

// Inject queues bytes as if they arrived on the RX line.
func (u *USART) Inject(data ...byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rx = append(u.rx, data...)
	if len(u.rx) > 0 {
		u.Regs.Status |= USARTReceiveNotEmpty
	}
}
