package joy

import (
	"errors"
	"fmt"
)

const subsystemMask = 0x00ff_0000_0000_0000
const processIDMask = 0x0000_ffff_0000_0000
const errorNumberMask = 0x0000_0000_0000_ffff

// Configuration errors, fatal at boot.
const ConfigSubsystem = 1
const ConfigStackTooSmall = 1
const ConfigTableFull = 2
const ConfigStackOverlap = 3
const ConfigAlreadyStarted = 4
const ConfigStackMisaligned = 5
const ConfigNoProcesses = 6
const ConfigBadParams = 7
const ConfigStackOutsideMemory = 8

var ErrorConfigStackTooSmall = errorValue(ConfigSubsystem, ConfigStackTooSmall)
var ErrorConfigTableFull = errorValue(ConfigSubsystem, ConfigTableFull)
var ErrorConfigStackOverlap = errorValue(ConfigSubsystem, ConfigStackOverlap)
var ErrorConfigAlreadyStarted = errorValue(ConfigSubsystem, ConfigAlreadyStarted)
var ErrorConfigStackMisaligned = errorValue(ConfigSubsystem, ConfigStackMisaligned)
var ErrorConfigNoProcesses = errorValue(ConfigSubsystem, ConfigNoProcesses)
var ErrorConfigBadParams = errorValue(ConfigSubsystem, ConfigBadParams)
var ErrorConfigStackOutsideMemory = errorValue(ConfigSubsystem, ConfigStackOutsideMemory)

// Process table errors
const TableSubsystem = 2
const TableNotAvailable = 1
const TableNotInitialized = 2

var ErrorTableNotAvailable = errorValue(TableSubsystem, TableNotAvailable)
var ErrorTableNotInitialized = errorValue(TableSubsystem, TableNotInitialized)

// Syscall errors, the caller pays for these
const SyscallSubsystem = 3
const SyscallInvalid = 1
const SyscallBadBuffer = 2

var ErrorSyscallInvalid = errorValue(SyscallSubsystem, SyscallInvalid)
var ErrorSyscallBadBuffer = errorValue(SyscallSubsystem, SyscallBadBuffer)

// Kernel faults, fatal
const FaultSubsystem = 4
const FaultTrapMismatch = 1
const FaultReentered = 2
const FaultNoCurrent = 3
const FaultKernelMode = 4

var ErrorFaultTrapMismatch = errorValue(FaultSubsystem, FaultTrapMismatch)
var ErrorFaultReentered = errorValue(FaultSubsystem, FaultReentered)
var ErrorFaultNoCurrent = errorValue(FaultSubsystem, FaultNoCurrent)
var ErrorFaultKernelMode = errorValue(FaultSubsystem, FaultKernelMode)

// JoyError is a kernel error code: subsystem, process id and error number
// packed in one word.
type JoyError uint64

// RawJoyError is an error with just the constant part of the value filled in.
type RawJoyError uint64

var errorMap = map[RawJoyError]string{
	ErrorConfigStackTooSmall:      "stack region too small for the initial frame",
	ErrorConfigTableFull:          "process table is full",
	ErrorConfigStackOverlap:       "stack region overlaps another region",
	ErrorConfigAlreadyStarted:     "kernel already started",
	ErrorConfigStackMisaligned:    "stack region is not 8 byte aligned",
	ErrorConfigNoProcesses:        "no processes to run",
	ErrorConfigBadParams:          "bad boot parameters",
	ErrorConfigStackOutsideMemory: "stack region is not backed by sram",
	ErrorTableNotAvailable:        "process id out of range",
	ErrorTableNotInitialized:      "process slot is unused",
	ErrorSyscallInvalid:           "invalid syscall",
	ErrorSyscallBadBuffer:         "syscall buffer outside of caller memory",
	ErrorFaultTrapMismatch:        "trap entry does not match the current process",
	ErrorFaultReentered:           "context switch reentered",
	ErrorFaultNoCurrent:           "syscall with no current process",
	ErrorFaultKernelMode:          "fault in kernel context",
}

func errorValue(subsys byte, errorNumber uint16) RawJoyError {
	ss := subsystemMask & (uint64(subsys) << 48)
	en := errorNumberMask & (uint64(errorNumber) << 0)
	return RawJoyError(ss | en)
}

// MakeError adds the dynamic fields (the process) to the error value.
func MakeError(rawError RawJoyError, id ProcessId) JoyError {
	raw := uint64(rawError)
	pid := (uint64(id) << 32) & processIDMask
	return JoyError(raw | pid)
}

func (r RawJoyError) Error() string {
	t, ok := errorMap[r]
	if !ok {
		return fmt.Sprintf("unknown error code %#x", uint64(r))
	}
	return t
}

func (r RawJoyError) Subsystem() byte {
	return byte((uint64(r) & subsystemMask) >> 48)
}

func (j JoyError) Raw() RawJoyError {
	return RawJoyError(uint64(j) &^ processIDMask)
}

func (j JoyError) Process() ProcessId {
	return ProcessId((uint64(j) & processIDMask) >> 32)
}

func (j JoyError) Error() string {
	if j.Process() == NoProcessId {
		return j.Raw().Error()
	}
	return fmt.Sprintf("process %d: %s", j.Process(), j.Raw().Error())
}

// Is matches on the raw code, ignoring the process.
func (j JoyError) Is(target error) bool {
	switch t := target.(type) {
	case RawJoyError:
		return j.Raw() == t
	case JoyError:
		return j.Raw() == t.Raw()
	}
	return false
}

// IsConfigurationError is true for the fatal boot time errors.
func IsConfigurationError(err error) bool {
	var j JoyError
	if errors.As(err, &j) {
		return j.Raw().Subsystem() == ConfigSubsystem
	}
	var r RawJoyError
	if errors.As(err, &r) {
		return r.Subsystem() == ConfigSubsystem
	}
	return false
}

// configError is a configuration error with a detail message.
func configError(raw RawJoyError, id ProcessId, format string, params ...interface{}) error {
	return fmt.Errorf("%w: %s", MakeError(raw, id), fmt.Sprintf(format, params...))
}
