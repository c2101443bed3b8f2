// Package userland holds the programs the demo kernel runs as processes.
// Each one is emitted into a shared flash image with labels prefixed by the
// process name.
package userland

import (
	"fmt"
	"sort"

	"lake/src/joy"
	"lake/src/lib/loader"
	"lake/src/lib/upbeat"
)

// IdleLabel is the kernel idle loop.
const IdleLabel = "idle"

// Idle emits the loop the kernel sits in with no runnable process.
func Idle(a *loader.Assembler) {
	a.Label(IdleLabel)
	a.Wfi()
	a.B(IdleLabel)
}

type builder func(a *loader.Assembler, l labeler, p upbeat.ProcessParams)

var programs = map[string]builder{
	"counter": counter,
	"hello":   hello,
	"blink":   blink,
	"echo":    echo,
	"sleeper": sleeper,
	"exit":    exit,
	"fault":   fault,
	"badcall": badcall,
}

// Programs lists the program names Build knows.
func Programs() []string {
	names := make([]string, 0, len(programs))
	for n := range programs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EntryLabel is the label Build puts on the first instruction of p.
func EntryLabel(p upbeat.ProcessParams) string {
	return p.Name
}

// Build emits the program p asks for.
func Build(a *loader.Assembler, p upbeat.ProcessParams) error {
	b, ok := programs[p.Program]
	if !ok {
		return fmt.Errorf("process %q: unknown program %q", p.Name, p.Program)
	}
	a.Label(EntryLabel(p))
	b(a, labeler(p.Name), p)
	return nil
}

type labeler string

func (l labeler) at(s string) string {
	return string(l) + "." + s
}

// countDown ends the loop body: with a count, r12 counts iterations and the
// process exits with 0 when it reaches it.
func countDown(a *loader.Assembler, l labeler, count uint32, loop string) {
	if count == 0 {
		a.B(loop)
		return
	}
	a.Addi(12, 1)
	a.Cmpi(12, count)
	a.Bne(loop)
	a.Movi(0, 0)
	a.Svc(joy.SysExit)
}

// pause is sleep(period), or yield when period is zero.
func pause(a *loader.Assembler, period uint32) {
	if period == 0 {
		a.Svc(joy.SysYield)
		return
	}
	a.Movi(0, period)
	a.Svc(joy.SysSleep)
}

// counter never calls the kernel inside its loop.  r4-r11 advance in
// lock step (r(4+i) == (i+1)*r4) so a broken context switch shows up as a
// register mismatch.
func counter(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	for r := uint8(4); r <= 11; r++ {
		a.Movi(r, 0)
	}
	a.Movi(12, 0)
	a.Label(l.at("loop"))
	for r := uint8(4); r <= 11; r++ {
		a.Addi(r, uint32(r-3))
	}
	countDown(a, l, p.Count, l.at("loop"))
}

// hello writes its text, then sleeps a period.
func hello(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	text := p.Text
	if text == "" {
		text = fmt.Sprintf("hello from %s\n", p.Name)
	}
	a.String(l.at("text"), text)
	a.Movi(12, 0)
	a.Label(l.at("loop"))
	a.Adr(0, l.at("text"))
	a.Movi(1, uint32(len(text)))
	a.Svc(joy.SysWrite)
	pause(a, p.Period)
	countDown(a, l, p.Count, l.at("loop"))
}

// blink toggles an LED pin every period.
func blink(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	a.Movi(5, 1)
	a.Movi(12, 0)
	a.Label(l.at("loop"))
	a.Movi(0, uint32(p.Pin))
	a.Movi(1, 0)
	a.Add(1, 5)
	a.Svc(joy.SysSetPin)
	a.Cmpi(5, 0)
	a.Beq(l.at("on"))
	a.Movi(5, 0)
	a.B(l.at("wait"))
	a.Label(l.at("on"))
	a.Movi(5, 1)
	a.Label(l.at("wait"))
	pause(a, p.Period)
	countDown(a, l, p.Count, l.at("loop"))
}

// echo reads characters and writes them back from a one byte buffer on its
// own stack.
func echo(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	a.SubSP(8)
	a.MovSP(6)
	a.Movi(12, 0)
	a.Label(l.at("loop"))
	a.Svc(joy.SysReadChar)
	a.Strb(0, 6, 0)
	a.Movi(0, 0)
	a.Add(0, 6)
	a.Movi(1, 1)
	a.Svc(joy.SysWrite)
	countDown(a, l, p.Count, l.at("loop"))
}

// sleeper only sleeps.
func sleeper(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	period := p.Period
	if period == 0 {
		period = 1
	}
	a.Movi(12, 0)
	a.Label(l.at("loop"))
	pause(a, period)
	countDown(a, l, p.Count, l.at("loop"))
}

// exit returns right away, with Count as the exit code.
func exit(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	a.Movi(0, p.Count)
	a.Svc(joy.SysExit)
}

// fault reads unmapped memory.
func fault(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	a.Movi(1, 0)
	a.Ldrb(0, 1, 0)
	a.B(EntryLabel(p))
}

// badcall asks for a syscall that does not exist.
func badcall(a *loader.Assembler, l labeler, p upbeat.ProcessParams) {
	a.Svc(0x7f)
	a.B(EntryLabel(p))
}
