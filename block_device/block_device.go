package block_device

const (
	// BLOCK_SIZE matches the direct I/O alignment unit, so a cached block is read in one aligned transfer.
	BLOCK_SIZE = 4096
)

// Device is a storage device driver. Transfer moves exactly one block synchronously:
// into data when write is false, from data when write is true.
type Device interface {
	Transfer(blockNo uint32, data []byte, write bool) error

	// Blocks returns the device capacity in blocks.
	Blocks() uint32

	Close() error
}
