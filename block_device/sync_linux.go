//go:build linux
// +build linux

package block_device

import (
	"os"

	"golang.org/x/sys/unix"
)

// flush forces written data down to the device. Metadata is not needed to read the block back.
func flush(file *os.File) error {
	return unix.Fdatasync(int(file.Fd()))
}
