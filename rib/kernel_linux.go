package rib

import (
	"context"
	"net"
	"net/netip"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// KernelTable is a Table backed by the main IPv4 routing table of the kernel.
// Installed routes are tagged with the BGP routing protocol.
type KernelTable struct{}

// NewKernelTable returns a KernelTable.
func NewKernelTable() (*KernelTable, error) {
	return &KernelTable{}, nil
}

func toIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   p.Addr().AsSlice(),
		Mask: net.CIDRMask(p.Bits(), 32),
	}
}

func fromIPNet(n *net.IPNet) (netip.Prefix, bool) {
	if n == nil {
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0), true
	}
	addr, ok := netip.AddrFromSlice(n.IP)
	if !ok {
		return netip.Prefix{}, false
	}
	ones, _ := n.Mask.Size()
	return netip.PrefixFrom(addr.Unmap(), ones).Masked(), true
}

func (k *KernelTable) Install(ctx context.Context, prefix netip.Prefix, nextHop netip.Addr) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	prefix, err := validPrefix(prefix)
	if err != nil {
		return err
	}
	if !nextHop.Is4() {
		return errors.Wrapf(ErrNotIPv4, "next hop %s", nextHop)
	}
	route := &netlink.Route{
		Dst:      toIPNet(prefix),
		Gw:       nextHop.AsSlice(),
		Protocol: netlink.RouteProtocol(unix.RTPROT_BGP),
	}
	if err := netlink.RouteReplace(route); err != nil {
		return errors.Wrapf(err, "installing route %s via %s", prefix, nextHop)
	}
	logger.Get(ctx).Debug("Route installed", zap.Stringer("prefix", prefix),
		zap.Stringer("nextHop", nextHop))
	return nil
}

func (k *KernelTable) Withdraw(ctx context.Context, prefix netip.Prefix) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	prefix, err := validPrefix(prefix)
	if err != nil {
		return err
	}
	err = netlink.RouteDel(&netlink.Route{
		Dst:      toIPNet(prefix),
		Protocol: netlink.RouteProtocol(unix.RTPROT_BGP),
	})
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return errors.Wrapf(err, "withdrawing route %s", prefix)
	}
	return nil
}

func (k *KernelTable) Lookup(ctx context.Context, prefix netip.Prefix) ([]netip.Prefix, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	prefix, err := validPrefix(prefix)
	if err != nil {
		return nil, err
	}
	routes, err := netlink.RouteListFiltered(netlink.FAMILY_V4,
		&netlink.Route{Dst: toIPNet(prefix)}, netlink.RT_FILTER_DST)
	if err != nil {
		return nil, errors.Wrapf(err, "listing routes for %s", prefix)
	}
	var res []netip.Prefix
	for _, r := range routes {
		p, ok := fromIPNet(r.Dst)
		if !ok || p != prefix {
			continue
		}
		res = append(res, p)
	}
	return res, nil
}
