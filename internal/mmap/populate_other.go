//go:build unix && !linux

package mmap

func populateFlag(Options) int {
	return 0
}
