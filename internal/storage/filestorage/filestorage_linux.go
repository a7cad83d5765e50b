package filestorage

import (
	"os"

	"golang.org/x/sys/unix"
)

// adviseRandomAccess turns off kernel read-ahead for f.
// Blocks are read in the order peers request them, which is rarely sequential.
func adviseRandomAccess(f *os.File) error {
	return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
}
