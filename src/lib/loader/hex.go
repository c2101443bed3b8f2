package loader

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// HexDataLineSize is the payload of one data record when writing.
const HexDataLineSize = 0x10

//
// HexLineType is the record type of an Intel HEX line.  Only the types a
// 32 bit flash image needs are supported.
//
type HexLineType int

const (
	DataLine              HexLineType = 0
	EndOfFile             HexLineType = 1
	ExtendedLinearAddress HexLineType = 4
	StartLinearAddress    HexLineType = 5
)

func (hlt HexLineType) String() string {
	switch hlt {
	case DataLine:
		return "DataLine"
	case EndOfFile:
		return "EndOfFile"
	case ExtendedLinearAddress:
		return "ExtendedLinearAddress"
	case StartLinearAddress:
		return "StartLinearAddress"
	}
	return fmt.Sprintf("HexLineType(%d)", int(hlt))
}

// Programmer is whatever can take the decoded bytes.  *cortexm.Bus is one.
type Programmer interface {
	Load(addr uint32, data []byte) error
}

///////////////////////////////////////////////////////////////////////////////////
// ENCODING
///////////////////////////////////////////////////////////////////////////////////

func encodeRecord(hlt HexLineType, offset uint16, raw []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":%02X%04X%02X", len(raw), offset, int(hlt))
	b.WriteString(strings.ToUpper(hex.EncodeToString(raw)))
	fmt.Fprintf(&b, "%02X", createChecksum(raw, offset, hlt))
	return b.String()
}

// EncodeDataBytes is a data record of at most 255 bytes at offset from the
// current linear base.
func EncodeDataBytes(raw []byte, offset uint16) (string, error) {
	if len(raw) > 0xff {
		return "", fmt.Errorf("data record of %d bytes, the limit is 255", len(raw))
	}
	return encodeRecord(DataLine, offset, raw), nil
}

// EncodeELA sets the top 16 bits of the address of the following data.
func EncodeELA(base uint16) string {
	return encodeRecord(ExtendedLinearAddress, 0, []byte{byte(base >> 8), byte(base)})
}

// EncodeSLA is the entry point record.
func EncodeSLA(addr uint32) string {
	return encodeRecord(StartLinearAddress, 0,
		[]byte{byte(addr >> 24), byte(addr >> 16), byte(addr >> 8), byte(addr)})
}

func EncodeEOF() string {
	return encodeRecord(EndOfFile, 0, nil)
}

// offset only matters for data records, everything else has 0
func createChecksum(raw []byte, offset uint16, hlt HexLineType) uint8 {
	sum := len(raw)
	sum += int(offset & 0xff)
	sum += int(offset>>8) & 0xff
	sum += int(hlt)
	for _, v := range raw {
		sum += int(v)
	}
	sum = ^sum
	sum++
	return uint8(sum & 0xff)
}

// WriteHex writes im as Intel HEX with entry as the start address.
func WriteHex(w io.Writer, im *Image, entry uint32) error {
	bw := bufio.NewWriter(w)
	line := func(s string) {
		bw.WriteString(s)
		bw.WriteString("\n")
	}
	base := int64(-1)
	for off := 0; off < len(im.Bytes); {
		end := off + HexDataLineSize
		if end > len(im.Bytes) {
			end = len(im.Bytes)
		}
		addr := im.Base + uint32(off)
		// a record may not cross a 64K boundary
		if room := 0x10000 - int(addr&0xffff); end-off > room {
			end = off + room
		}
		if hi := int64(addr >> 16); hi != base {
			line(EncodeELA(uint16(hi)))
			base = hi
		}
		data, err := EncodeDataBytes(im.Bytes[off:end], uint16(addr&0xffff))
		if err != nil {
			return err
		}
		line(data)
		off = end
	}
	line(EncodeSLA(entry))
	line(EncodeEOF())
	return bw.Flush()
}

///////////////////////////////////////////////////////////////////////////////////
// DECODE
///////////////////////////////////////////////////////////////////////////////////

// DecodeLine checks one line and returns its record type and the decoded
// bytes: length, offset hi, offset lo, type, payload, checksum.
func DecodeLine(s string) ([]byte, HexLineType, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, ":") {
		return nil, DataLine, fmt.Errorf("hex line does not start with a colon: %q", s)
	}
	converted, err := hex.DecodeString(s[1:])
	if err != nil {
		return nil, DataLine, fmt.Errorf("bad hex line %q: %w", s, err)
	}
	// framing is length, 2 address bytes, type and checksum
	if len(converted) < 5 || len(converted) != 5+int(converted[0]) {
		return nil, DataLine, fmt.Errorf("bad hex line length: %q", s)
	}
	if !CheckChecksum(converted) {
		return nil, DataLine, fmt.Errorf("bad checksum: %q", s)
	}
	hlt := HexLineType(converted[3])
	switch hlt {
	case DataLine, EndOfFile, ExtendedLinearAddress, StartLinearAddress:
	default:
		return nil, hlt, fmt.Errorf("unsupported record type %d: %q", converted[3], s)
	}
	return converted, hlt, nil
}

// CheckChecksum is true when all the bytes of a record, checksum
// included, add up to zero.
func CheckChecksum(converted []byte) bool {
	sum := uint8(0)
	for _, b := range converted {
		sum += b
	}
	return sum == 0
}

//
// ReadHex programs the records read from r into p and returns the start
// address, if the file has one.
//
func ReadHex(r io.Reader, p Programmer) (uint32, error) {
	var base, entry uint32
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		converted, hlt, err := DecodeLine(text)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", n, err)
		}
		length := converted[0]
		payload := converted[4 : 4+int(length)]
		switch hlt {
		case DataLine:
			offset := uint32(converted[1])<<8 | uint32(converted[2])
			if err := p.Load(base+offset, payload); err != nil {
				return 0, fmt.Errorf("line %d: %w", n, err)
			}
		case EndOfFile:
			return entry, nil
		case ExtendedLinearAddress:
			if length != 2 {
				return 0, fmt.Errorf("line %d: ELA record has %d bytes", n, length)
			}
			base = (uint32(payload[0])<<8 | uint32(payload[1])) << 16
		case StartLinearAddress:
			if length != 4 {
				return 0, fmt.Errorf("line %d: SLA record has %d bytes", n, length)
			}
			entry = uint32(payload[0])<<24 | uint32(payload[1])<<16 | uint32(payload[2])<<8 | uint32(payload[3])
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("hex file has no end of file record")
}
