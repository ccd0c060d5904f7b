//go:build !linux
// +build !linux

package uring

import "fmt"

// NewRing requires io_uring, which only exists on Linux.
func NewRing(entries uint32) (Ring, error) {
	return nil, fmt.Errorf("io_uring is only available on linux")
}
