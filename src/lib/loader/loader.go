package loader

import (
	"fmt"

	"lake/src/hardware/cortexm"
	"lake/src/lib/trust"
)

// Load programs an assembled image into flash.
func Load(bus *cortexm.Bus, im *Image, logger *trust.Logger) error {
	if !bus.Contains(im.Base, uint32(len(im.Bytes))) {
		return fmt.Errorf("image [%08x,%08x) does not fit in a single region", im.Base, im.End())
	}
	if err := bus.Load(im.Base, im.Bytes); err != nil {
		return err
	}
	if logger != nil {
		logger.Infof("loaded %d bytes at %08x", len(im.Bytes), im.Base)
		for _, name := range im.SymbolNames() {
			logger.Debugf("  %08x %s", im.Symbols[name], name)
		}
	}
	return nil
}
