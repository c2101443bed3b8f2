package joy

// Console is where write goes and where read_char comes from.  ReadChar
// never blocks; false means no input is waiting.
type Console interface {
	WriteString(s string) error
	WriteChar(b byte) error
	ReadChar() (byte, bool)
}

// PinDriver drives the LED pins for set_pin.
type PinDriver interface {
	Set(pin uint8, level bool) error
}

// SerialPort is the byte level side of a uart.
type SerialPort interface {
	Transmit(b byte) error
	Receive() (byte, bool)
}

//
// SerialConsole is a Console on top of a uart, the non semihosting route
// for process output.
//
type SerialConsole struct {
	Port SerialPort
}

func (s SerialConsole) WriteString(str string) error {
	for i := 0; i < len(str); i++ {
		if err := s.WriteChar(str[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s SerialConsole) WriteChar(b byte) error {
	return s.Port.Transmit(b)
}

func (s SerialConsole) ReadChar() (byte, bool) {
	return s.Port.Receive()
}

type nullConsole struct{}

func (nullConsole) WriteString(string) error { return nil }
func (nullConsole) WriteChar(byte) error     { return nil }
func (nullConsole) ReadChar() (byte, bool)   { return 0, false }
