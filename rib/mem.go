package rib

import (
	"context"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
)

// MemTable is an in-memory IPv4 Table supporting longest prefix match
// lookups. It is safe for concurrent use.
type MemTable struct {
	mu     sync.RWMutex
	root   *node
	routes int
}

type node struct {
	// route is set if a route is installed for the prefix at this node.
	route    *Route
	children [2]*node
}

// Route is an entry of a MemTable.
type Route struct {
	Prefix  netip.Prefix
	NextHop netip.Addr
}

// NewMemTable returns an empty MemTable.
func NewMemTable() *MemTable {
	return &MemTable{
		root: &node{},
	}
}

// bit returns the bit of a at position pos, counting from the most
// significant bit.
func bit(a [4]byte, pos int) int {
	return int(a[pos/8]>>(7-pos%8)) & 1
}

func (t *MemTable) Install(ctx context.Context, prefix netip.Prefix, nextHop netip.Addr) error {
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

	t.mu.Lock()
	defer t.mu.Unlock()

	a := prefix.Addr().As4()
	n := t.root
	for i := 0; i < prefix.Bits(); i++ {
		b := bit(a, i)
		if n.children[b] == nil {
			n.children[b] = &node{}
		}
		n = n.children[b]
	}
	if n.route == nil {
		t.routes++
	}
	n.route = &Route{
		Prefix:  prefix,
		NextHop: nextHop,
	}
	return nil
}

func (t *MemTable) Withdraw(ctx context.Context, prefix netip.Prefix) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	prefix, err := validPrefix(prefix)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	a := prefix.Addr().As4()
	path := make([]*node, 0, prefix.Bits()+1)
	n := t.root
	path = append(path, n)
	for i := 0; i < prefix.Bits(); i++ {
		n = n.children[bit(a, i)]
		if n == nil {
			return nil
		}
		path = append(path, n)
	}
	if n.route == nil {
		return nil
	}
	n.route = nil
	t.routes--

	// prune empty leaves
	for i := len(path) - 1; i > 0; i-- {
		child := path[i]
		if child.route != nil || child.children[0] != nil || child.children[1] != nil {
			break
		}
		path[i-1].children[bit(a, i-1)] = nil
	}
	return nil
}

func (t *MemTable) Lookup(ctx context.Context, prefix netip.Prefix) ([]netip.Prefix, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	prefix, err := validPrefix(prefix)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	n := t.find(prefix)
	if n == nil || n.route == nil {
		return nil, nil
	}
	return []netip.Prefix{n.route.Prefix}, nil
}

func (t *MemTable) find(prefix netip.Prefix) *node {
	a := prefix.Addr().As4()
	n := t.root
	for i := 0; i < prefix.Bits() && n != nil; i++ {
		n = n.children[bit(a, i)]
	}
	return n
}

// LongestMatch returns the most specific route containing addr.
func (t *MemTable) LongestMatch(addr netip.Addr) (Route, bool) {
	if !addr.Is4() {
		return Route{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	a := addr.As4()
	var (
		best  *Route
		n     = t.root
		depth = 0
	)
	for n != nil {
		if n.route != nil {
			best = n.route
		}
		if depth == 32 {
			break
		}
		n = n.children[bit(a, depth)]
		depth++
	}
	if best == nil {
		return Route{}, false
	}
	return *best, true
}

// MoreSpecifics returns all routes equal to or contained in prefix, ordered
// by address and then prefix length.
func (t *MemTable) MoreSpecifics(prefix netip.Prefix) []Route {
	prefix, err := validPrefix(prefix)
	if err != nil {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.find(prefix).dump(nil)
}

func (n *node) dump(res []Route) []Route {
	if n == nil {
		return res
	}
	if n.route != nil {
		res = append(res, *n.route)
	}
	res = n.children[0].dump(res)
	return n.children[1].dump(res)
}

// Len returns the number of installed routes.
func (t *MemTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.routes
}
