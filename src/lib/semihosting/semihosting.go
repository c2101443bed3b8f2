package semihosting

import (
	"os"
	"sync"
)

// Op is an ARM semihosting operation number.
type Op uint32

const (
	OpWriteC Op = 0x03
	OpWrite0 Op = 0x04
	OpReadC  Op = 0x07
	OpClock  Op = 0x10
	OpExit   Op = 0x18
)

type SemihostingStopCode int

const (
	SemihostingStopBreakpoint          SemihostingStopCode = 0x20020
	SemihostingStopWatchpoint          SemihostingStopCode = 0x20021
	SemihostingStopStepComplete        SemihostingStopCode = 0x20022
	SemihostingStopRuntimeErrorUnknown SemihostingStopCode = 0x20023
	SemihostingStopInternalError       SemihostingStopCode = 0x20024
	SemihostingStopUserInterruption    SemihostingStopCode = 0x20025
	SemihostingStopApplicationExit     SemihostingStopCode = 0x20026
	SemihostingStopStackOverflow       SemihostingStopCode = 0x20027
	SemihostingStopDivisionByZero      SemihostingStopCode = 0x20028
	SemihostingStopOSSpecific          SemihostingStopCode = 0x20029
)

var (
	exitMu   sync.Mutex
	exitHook = os.Exit
)

// SetExitHook replaces what Exit does and returns the previous hook.
func SetExitHook(fn func(int)) func(int) {
	exitMu.Lock()
	defer exitMu.Unlock()
	prev := exitHook
	exitHook = fn
	return prev
}

// Exit is SYS_EXIT with ADP_Stopped_ApplicationExit: the debugger ends
// the session with code.
func Exit(code uint64) {
	exitMu.Lock()
	fn := exitHook
	exitMu.Unlock()
	fn(int(code))
}
