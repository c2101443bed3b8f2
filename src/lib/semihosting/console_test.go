package semihosting

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestConsoleWrites(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(nil, &out)
	if err := c.WriteString("a\n"); err != nil {
		t.Fatalf("%v", err)
	}
	if err := c.WriteChar('b'); err != nil {
		t.Fatalf("%v", err)
	}
	if out.String() != "a\nb" {
		t.Errorf("unexpected output %q", out.String())
	}
	c.crlf = true
	out.Reset()
	c.WriteString("x\n")
	c.WriteChar('\n')
	if out.String() != "x\r\n\r\n" {
		t.Errorf("raw terminals need crlf, got %q", out.String())
	}
}

func TestConsoleReadNeverBlocks(t *testing.T) {
	c := NewConsole(nil, &bytes.Buffer{})
	if _, ok := c.ReadChar(); ok {
		t.Errorf("empty console returned a character")
	}
	c.Push('h', 'i')
	b1, _ := c.ReadChar()
	b2, _ := c.ReadChar()
	if b1 != 'h' || b2 != 'i' {
		t.Errorf("expected hi, got %c%c", b1, b2)
	}
	full := bytes.Repeat([]byte{'z'}, inputDepth+10)
	c.Push(full...)
	n := 0
	for {
		if _, ok := c.ReadChar(); !ok {
			break
		}
		n++
	}
	if n != inputDepth {
		t.Errorf("expected the queue to hold %d, got %d", inputDepth, n)
	}
}

func TestConsolePumpsReader(t *testing.T) {
	c := NewConsole(strings.NewReader("go"), &bytes.Buffer{})
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		if b, ok := c.ReadChar(); ok {
			got = append(got, b)
			continue
		}
		time.Sleep(time.Millisecond)
	}
	if string(got) != "go" {
		t.Errorf("expected input from the reader, got %q", got)
	}
}

func TestExitHook(t *testing.T) {
	got := -1
	prev := SetExitHook(func(code int) { got = code })
	defer SetExitHook(prev)
	Exit(uint64(SemihostingStopApplicationExit) & 0xff)
	if got != 0x26 {
		t.Errorf("expected 0x26, got %#x", got)
	}
}
