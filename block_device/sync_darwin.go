//go:build darwin
// +build darwin

package block_device

import (
	"os"

	"golang.org/x/sys/unix"
)

func flush(file *os.File) error {
	return unix.Fsync(int(file.Fd()))
}
