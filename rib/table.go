// Package rib holds the route tables a BGP session reads originated networks
// from and installs learned routes into.
package rib

import (
	"context"
	"net/netip"

	"github.com/pkg/errors"
)

// ErrNotIPv4 is returned for prefixes or next hops that are not IPv4.
var ErrNotIPv4 = errors.New("not an IPv4 prefix")

// Table is a routing table.
type Table interface {
	// Install adds a route for prefix via nextHop, replacing any existing
	// route for the same prefix.
	Install(ctx context.Context, prefix netip.Prefix, nextHop netip.Addr) error

	// Withdraw removes the route for prefix. Withdrawing a prefix that is not
	// installed is not an error.
	Withdraw(ctx context.Context, prefix netip.Prefix) error

	// Lookup returns the installed routes whose destination equals prefix.
	Lookup(ctx context.Context, prefix netip.Prefix) ([]netip.Prefix, error)
}

func validPrefix(p netip.Prefix) (netip.Prefix, error) {
	if !p.IsValid() || !p.Addr().Is4() {
		return netip.Prefix{}, errors.Wrapf(ErrNotIPv4, "prefix %s", p)
	}
	return p.Masked(), nil
}
