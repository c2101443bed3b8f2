package upbeat

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Output routes for the write/read_char syscalls.
const (
	OutputSemihosting = "semihosting"
	OutputUART        = "uart"
)

// ProcessParams describes one boot time process.
type ProcessParams struct {
	Name       string `json:"name"`
	Program    string `json:"program"`
	Privileged bool   `json:"privileged"`
	Text       string `json:"text,omitempty"`   //hello
	Pin        uint8  `json:"pin,omitempty"`    //blink
	Period     uint32 `json:"period,omitempty"` //ticks, blink/hello/sleeper
	Count      uint32 `json:"count,omitempty"`  //iterations before exit, 0 is forever
}

//
// BootParams is everything the kernel is told before the first process
// runs.  It is read from a json file; missing fields keep the defaults.
//
type BootParams struct {
	ProcessCapacity int             `json:"process_capacity"`
	StackTop        uint32          `json:"stack_top"`
	StackSize       uint32          `json:"stack_size"`
	QuantumCycles   uint32          `json:"quantum_cycles"`
	Output          string          `json:"output"`
	LogLevel        string          `json:"log_level"`
	Processes       []ProcessParams `json:"processes"`
}

// Defaults follow the discovery board layout: four 4K process stacks
// growing down from 0x2000_6000, the main stack above them.
func Defaults() BootParams {
	return BootParams{
		ProcessCapacity: 4,
		StackTop:        0x2000_6000,
		StackSize:       0x1000,
		QuantumCycles:   0x50,
		Output:          OutputSemihosting,
		LogLevel:        "info",
	}
}

// Load reads path over the defaults.
func Load(path string) (BootParams, error) {
	p := Defaults()
	f, err := os.Open(path)
	if err != nil {
		return p, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return p, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Validate checks the parameters that do not depend on the board.  The
// kernel checks the memory layout itself.
func (p BootParams) Validate() error {
	var errs []error
	if p.ProcessCapacity <= 0 {
		errs = append(errs, fmt.Errorf("process_capacity must be positive, got %d", p.ProcessCapacity))
	}
	if p.StackSize == 0 || p.StackSize%8 != 0 {
		errs = append(errs, fmt.Errorf("stack_size must be a non zero multiple of 8, got %#x", p.StackSize))
	}
	if p.StackTop%8 != 0 {
		errs = append(errs, fmt.Errorf("stack_top must be 8 byte aligned, got %#x", p.StackTop))
	}
	if p.QuantumCycles == 0 || p.QuantumCycles > 0x00FFFFFF {
		errs = append(errs, fmt.Errorf("quantum_cycles must be in [1,0xffffff], got %#x", p.QuantumCycles))
	}
	switch strings.ToLower(p.Output) {
	case OutputSemihosting, OutputUART:
	default:
		errs = append(errs, fmt.Errorf("output must be %q or %q, got %q", OutputSemihosting, OutputUART, p.Output))
	}
	if len(p.Processes) > p.ProcessCapacity && p.ProcessCapacity > 0 {
		errs = append(errs, fmt.Errorf("%d processes configured but capacity is %d", len(p.Processes), p.ProcessCapacity))
	}
	seen := make(map[string]bool)
	for i, proc := range p.Processes {
		if proc.Name == "" {
			errs = append(errs, fmt.Errorf("process %d has no name", i))
		} else if seen[proc.Name] {
			errs = append(errs, fmt.Errorf("process name %q used twice", proc.Name))
		}
		seen[proc.Name] = true
		if proc.Program == "" {
			errs = append(errs, fmt.Errorf("process %q has no program", proc.Name))
		}
	}
	return errors.Join(errs...)
}
