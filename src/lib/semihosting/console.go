package semihosting

import (
	"bufio"
	"io"
	"strings"

	tty "github.com/mattn/go-tty"
)

// inputDepth is how many characters the host buffers before dropping.
const inputDepth = 256

//
// Console is the host debug channel: SYS_WRITE0, SYS_WRITEC and SYS_READC
// answered by the host.  Reads never block; the host side fills a queue.
//
type Console struct {
	out  io.Writer
	in   chan byte
	crlf bool
}

// NewConsole returns a console writing to out.  If in is not nil, a
// goroutine copies its bytes into the input queue until EOF.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{out: out, in: make(chan byte, inputDepth)}
	if in != nil {
		go c.pump(bufio.NewReader(in))
	}
	return c
}

func (c *Console) pump(r io.ByteReader) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		c.Push(b)
	}
}

// Push queues input characters, dropping them when the queue is full.
func (c *Console) Push(data ...byte) {
	for _, b := range data {
		select {
		case c.in <- b:
		default:
		}
	}
}

// WriteString is SYS_WRITE0.
func (c *Console) WriteString(s string) error {
	if c.crlf {
		s = strings.ReplaceAll(s, "\n", "\r\n")
	}
	_, err := io.WriteString(c.out, s)
	return err
}

// WriteChar is SYS_WRITEC.
func (c *Console) WriteChar(b byte) error {
	if c.crlf && b == '\n' {
		_, err := c.out.Write([]byte{'\r', '\n'})
		return err
	}
	_, err := c.out.Write([]byte{b})
	return err
}

// ReadChar is SYS_READC without the wait: ok is false when nothing is
// queued.
func (c *Console) ReadChar() (byte, bool) {
	select {
	case b := <-c.in:
		return b, true
	default:
		return 0, false
	}
}

// OpenTTY puts the controlling terminal in raw mode and uses it as the
// console.  The returned function restores the terminal.
func OpenTTY() (*Console, func() error, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, nil, err
	}
	restore, err := t.Raw()
	if err != nil {
		t.Close()
		return nil, nil, err
	}
	c := &Console{out: t.Output(), in: make(chan byte, inputDepth), crlf: true}
	go func() {
		for {
			r, err := t.ReadRune()
			if err != nil {
				return
			}
			if r == '\r' {
				r = '\n'
			}
			if r < 0x80 {
				c.Push(byte(r))
			}
		}
	}()
	closer := func() error {
		if err := restore(); err != nil {
			return err
		}
		return t.Close()
	}
	return c, closer, nil
}
