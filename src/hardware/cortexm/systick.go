package cortexm

import "fmt"

// SysTick CSR bits.
const (
	SysTickEnable    uint32 = 1 << 0
	SysTickTickInt   uint32 = 1 << 1
	SysTickCountFlag uint32 = 1 << 16
)

// SysTickReloadMax is the 24 bit limit of the reload register.
const SysTickReloadMax uint32 = 0x00FFFFFF

//
// SysTick is the core's 24 bit down counter.  It counts cpu cycles and
// requests the SysTick exception each time it wraps (when TICKINT is set).
//
type SysTick struct {
	Control uint32
	Reload  uint32
	Current uint32
}

// SetReload programs the number of cycles between two ticks.
func (s *SysTick) SetReload(cycles uint32) error {
	if cycles == 0 || cycles > SysTickReloadMax {
		return fmt.Errorf("systick reload %#x out of range [1,%#x]", cycles, SysTickReloadMax)
	}
	s.Reload = cycles
	return nil
}

// Enable starts the counter from the reload value.
func (s *SysTick) Enable(tickInt bool) {
	s.Current = s.Reload
	s.Control |= SysTickEnable
	if tickInt {
		s.Control |= SysTickTickInt
	} else {
		s.Control &^= SysTickTickInt
	}
}

func (s *SysTick) Disable() {
	s.Control &^= SysTickEnable
}

func (s *SysTick) Enabled() bool {
	return s.Control&SysTickEnable != 0
}

// UntilExpiry is the number of cycles before the counter next wraps.  Zero
// when the counter is off.
func (s *SysTick) UntilExpiry() uint64 {
	if !s.Enabled() {
		return 0
	}
	return uint64(s.Current)
}

// advance counts n cycles and returns the number of interrupts requested.
func (s *SysTick) advance(n uint64) int {
	if !s.Enabled() || s.Reload == 0 {
		return 0
	}
	fired := 0
	for n > 0 {
		if n < uint64(s.Current) {
			s.Current -= uint32(n)
			return fired
		}
		n -= uint64(s.Current)
		s.Current = s.Reload
		s.Control |= SysTickCountFlag
		if s.Control&SysTickTickInt != 0 {
			fired++
		}
	}
	return fired
}
