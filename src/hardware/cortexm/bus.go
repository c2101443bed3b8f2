package cortexm

import (
	"encoding/binary"
	"fmt"
)

//
// Region is one contiguous piece of the address space (flash, sram).  The
// backing bytes are little endian, like the real part.
//
type Region struct {
	Name     string
	Base     uint32
	ReadOnly bool
	data     []byte
}

func NewRegion(name string, base uint32, size uint32, readOnly bool) *Region {
	return &Region{
		Name:     name,
		Base:     base,
		ReadOnly: readOnly,
		data:     make([]byte, size),
	}
}

func (r *Region) Size() uint32 {
	return uint32(len(r.data))
}

// End is the first address past the region.
func (r *Region) End() uint32 {
	return r.Base + r.Size()
}

func (r *Region) contains(addr uint32, n uint32) bool {
	return addr >= r.Base && uint64(addr)+uint64(n) <= uint64(r.Base)+uint64(len(r.data))
}

//
// Bus routes loads and stores to the region that holds the address.
//
type Bus struct {
	regions []*Region
}

func NewBus(regions ...*Region) *Bus {
	return &Bus{regions: regions}
}

func (b *Bus) Regions() []*Region {
	return b.regions
}

// Contains is true when [addr,addr+n) lies inside a single region.
func (b *Bus) Contains(addr uint32, n uint32) bool {
	_, err := b.find(addr, n)
	return err == nil
}

func (b *Bus) find(addr uint32, n uint32) (*Region, error) {
	for _, r := range b.regions {
		if r.contains(addr, n) {
			return r, nil
		}
	}
	return nil, &Fault{Kind: BusFault, Addr: addr, Reason: fmt.Sprintf("no region maps %d bytes", n)}
}

func (b *Bus) Read32(addr uint32) (uint32, error) {
	if addr%4 != 0 {
		return 0, &Fault{Kind: UsageFault, Addr: addr, Reason: "unaligned word access"}
	}
	r, err := b.find(addr, 4)
	if err != nil {
		return 0, err
	}
	off := addr - r.Base
	return binary.LittleEndian.Uint32(r.data[off : off+4]), nil
}

func (b *Bus) Write32(addr uint32, value uint32) error {
	if addr%4 != 0 {
		return &Fault{Kind: UsageFault, Addr: addr, Reason: "unaligned word access"}
	}
	r, err := b.writable(addr, 4)
	if err != nil {
		return err
	}
	off := addr - r.Base
	binary.LittleEndian.PutUint32(r.data[off:off+4], value)
	return nil
}

func (b *Bus) Read8(addr uint32) (uint8, error) {
	r, err := b.find(addr, 1)
	if err != nil {
		return 0, err
	}
	return r.data[addr-r.Base], nil
}

func (b *Bus) Write8(addr uint32, value uint8) error {
	r, err := b.writable(addr, 1)
	if err != nil {
		return err
	}
	r.data[addr-r.Base] = value
	return nil
}

// ReadBytes returns a copy of n bytes starting at addr.
func (b *Bus) ReadBytes(addr uint32, n uint32) ([]byte, error) {
	r, err := b.find(addr, n)
	if err != nil {
		return nil, err
	}
	off := addr - r.Base
	result := make([]byte, n)
	copy(result, r.data[off:off+n])
	return result, nil
}

// ReadWords reads len(dest) consecutive words starting at addr.
func (b *Bus) ReadWords(addr uint32, dest []uint32) error {
	for i := range dest {
		w, err := b.Read32(addr + uint32(i*4))
		if err != nil {
			return err
		}
		dest[i] = w
	}
	return nil
}

// WriteWords stores words starting at addr, lowest index at lowest address.
func (b *Bus) WriteWords(addr uint32, words []uint32) error {
	for i, w := range words {
		if err := b.Write32(addr+uint32(i*4), w); err != nil {
			return err
		}
	}
	return nil
}

// Load programs bytes into a region, read only or not.  This is the
// flash programmer, not a cpu store.
func (b *Bus) Load(addr uint32, data []byte) error {
	r, err := b.find(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(r.data[addr-r.Base:], data)
	return nil
}

func (b *Bus) writable(addr uint32, n uint32) (*Region, error) {
	r, err := b.find(addr, n)
	if err != nil {
		return nil, err
	}
	if r.ReadOnly {
		return nil, &Fault{Kind: BusFault, Addr: addr, Reason: "store to read only region " + r.Name}
	}
	return r, nil
}
