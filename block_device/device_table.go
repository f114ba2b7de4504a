package block_device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/puzpuzpuz/xsync/v3"
)

// DeviceTable maps device numbers to drivers. It is what the buffer cache calls to move blocks.
type DeviceTable struct {
	devices *xsync.MapOf[uint32, Device]
}

func NewDeviceTable() *DeviceTable {
	return &DeviceTable{devices: xsync.NewMapOf[uint32, Device]()}
}

// Register attaches device under dev. A device number can only be registered once.
func (table *DeviceTable) Register(dev uint32, device Device) error {

	if _, loaded := table.devices.LoadOrStore(dev, device); loaded {
		return fmt.Errorf("device %d already registered", dev)
	}

	slog.Info("device registered", "dev", dev, "blocks", device.Blocks(), "function", "Register", "at", "DeviceTable")
	return nil
}

func (table *DeviceTable) Lookup(dev uint32) (Device, bool) {
	return table.devices.Load(dev)
}

// Transfer dispatches one block transfer to the driver of dev.
func (table *DeviceTable) Transfer(dev uint32, blockNo uint32, data []byte, write bool) error {

	device, ok := table.devices.Load(dev)

	if !ok {
		return fmt.Errorf("no device %d", dev)
	}

	if err := device.Transfer(blockNo, data, write); err != nil {
		return fmt.Errorf("dev %d block %d: %w", dev, blockNo, err)
	}
	return nil
}

// Close closes and unregisters every device.
func (table *DeviceTable) Close() error {

	var errs []error

	table.devices.Range(func(dev uint32, device Device) bool {

		if err := device.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close device %d: %w", dev, err))
		}
		table.devices.Delete(dev)
		return true
	})

	return errors.Join(errs...)
}
