package mmap

import "os"

// Fdatasync flushes the written data of f to stable storage, skipping
// metadata such as access times where the platform allows it.
//
// Errors are not recoverable: after a failed sync the page cache may no
// longer match the disk. Callers should discard the file.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
