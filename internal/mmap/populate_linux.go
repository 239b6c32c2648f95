package mmap

import "golang.org/x/sys/unix"

func populateFlag(opt Options) int {
	if opt.Has(Prefault) {
		return unix.MAP_POPULATE
	}
	return 0
}
