//go:build !linux

package rib

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"
)

var errUnsupported = errors.New("kernel route table is not supported on this platform")

// KernelTable is a Table backed by the routing table of the kernel. It is only
// supported on Linux.
type KernelTable struct{}

// NewKernelTable returns an error on this platform.
func NewKernelTable() (*KernelTable, error) {
	return nil, errors.WithStack(errUnsupported)
}

func (k *KernelTable) Install(context.Context, netip.Prefix, netip.Addr) error {
	return errors.WithStack(errUnsupported)
}

func (k *KernelTable) Withdraw(context.Context, netip.Prefix) error {
	return errors.WithStack(errUnsupported)
}

func (k *KernelTable) Lookup(context.Context, netip.Prefix) ([]netip.Prefix, error) {
	return nil, errors.WithStack(errUnsupported)
}
