package rib

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var _ Table = &MemTable{}
var _ Table = &KernelTable{}

func TestMemTableLookup(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	tbl := NewMemTable()
	nh := netip.MustParseAddr("192.0.2.1")
	for _, p := range []string{"10.0.0.0/8", "10.100.0.0/16", "10.100.220.0/24", "0.0.0.0/0"} {
		requireT.NoError(tbl.Install(ctx, netip.MustParsePrefix(p), nh))
	}
	requireT.Equal(4, tbl.Len())

	cases := []struct {
		name   string
		prefix string
		want   []netip.Prefix
	}{
		{
			name:   "exact",
			prefix: "10.100.0.0/16",
			want:   []netip.Prefix{netip.MustParsePrefix("10.100.0.0/16")},
		},
		{
			name:   "host bits masked",
			prefix: "10.100.220.7/24",
			want:   []netip.Prefix{netip.MustParsePrefix("10.100.220.0/24")},
		},
		{
			name:   "default",
			prefix: "0.0.0.0/0",
			want:   []netip.Prefix{netip.MustParsePrefix("0.0.0.0/0")},
		},
		{
			name:   "covered but not installed",
			prefix: "10.100.221.0/24",
		},
		{
			name:   "intermediate node",
			prefix: "10.100.0.0/12",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := tbl.Lookup(ctx, netip.MustParsePrefix(c.prefix))
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestMemTableLongestMatch(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	tbl := NewMemTable()
	_, ok := tbl.LongestMatch(netip.MustParseAddr("10.0.0.1"))
	requireT.False(ok)

	requireT.NoError(tbl.Install(ctx, netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParseAddr("192.0.2.1")))
	requireT.NoError(tbl.Install(ctx, netip.MustParsePrefix("10.1.2.0/24"),
		netip.MustParseAddr("192.0.2.2")))
	requireT.NoError(tbl.Install(ctx, netip.MustParsePrefix("10.1.2.3/32"),
		netip.MustParseAddr("192.0.2.3")))

	cases := []struct {
		addr    string
		ok      bool
		nextHop string
	}{
		{addr: "10.1.2.3", ok: true, nextHop: "192.0.2.3"},
		{addr: "10.1.2.4", ok: true, nextHop: "192.0.2.2"},
		{addr: "10.200.0.1", ok: true, nextHop: "192.0.2.1"},
		{addr: "11.0.0.1", ok: false},
	}
	for _, c := range cases {
		r, ok := tbl.LongestMatch(netip.MustParseAddr(c.addr))
		requireT.Equal(c.ok, ok, c.addr)
		if c.ok {
			requireT.Equal(netip.MustParseAddr(c.nextHop), r.NextHop, c.addr)
		}
	}

	_, ok = tbl.LongestMatch(netip.MustParseAddr("::1"))
	requireT.False(ok)
}

func TestMemTableInstallReplaces(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	tbl := NewMemTable()
	p := netip.MustParsePrefix("198.51.100.0/24")
	requireT.NoError(tbl.Install(ctx, p, netip.MustParseAddr("192.0.2.1")))
	requireT.NoError(tbl.Install(ctx, p, netip.MustParseAddr("192.0.2.2")))
	requireT.Equal(1, tbl.Len())

	r, ok := tbl.LongestMatch(netip.MustParseAddr("198.51.100.10"))
	requireT.True(ok)
	requireT.Equal(netip.MustParseAddr("192.0.2.2"), r.NextHop)
}

func TestMemTableWithdraw(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	tbl := NewMemTable()
	nh := netip.MustParseAddr("192.0.2.1")
	outer := netip.MustParsePrefix("10.0.0.0/8")
	inner := netip.MustParsePrefix("10.1.0.0/16")
	requireT.NoError(tbl.Install(ctx, outer, nh))
	requireT.NoError(tbl.Install(ctx, inner, nh))

	requireT.NoError(tbl.Withdraw(ctx, inner))
	requireT.NoError(tbl.Withdraw(ctx, inner))
	requireT.NoError(tbl.Withdraw(ctx, netip.MustParsePrefix("172.16.0.0/12")))
	requireT.Equal(1, tbl.Len())

	got, err := tbl.Lookup(ctx, inner)
	requireT.NoError(err)
	requireT.Empty(got)
	requireT.Nil(tbl.root.children[0].children[0].children[0].children[0].
		children[1].children[0].children[1].children[0].children[0])

	r, ok := tbl.LongestMatch(netip.MustParseAddr("10.1.0.1"))
	requireT.True(ok)
	requireT.Equal(outer, r.Prefix)

	requireT.NoError(tbl.Withdraw(ctx, outer))
	requireT.Zero(tbl.Len())
	requireT.Nil(tbl.root.children[0])
}

func TestMemTableMoreSpecifics(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	tbl := NewMemTable()
	nh := netip.MustParseAddr("192.0.2.1")
	for _, p := range []string{"10.0.0.0/8", "10.128.0.0/9", "10.1.0.0/16", "11.0.0.0/8"} {
		requireT.NoError(tbl.Install(ctx, netip.MustParsePrefix(p), nh))
	}

	var got []netip.Prefix
	for _, r := range tbl.MoreSpecifics(netip.MustParsePrefix("10.0.0.0/8")) {
		got = append(got, r.Prefix)
	}
	requireT.Equal([]netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("10.1.0.0/16"),
		netip.MustParsePrefix("10.128.0.0/9"),
	}, got)
	requireT.Empty(tbl.MoreSpecifics(netip.MustParsePrefix("12.0.0.0/8")))
}

func TestMemTableRejectsNonIPv4(t *testing.T) {
	requireT := require.New(t)
	ctx := context.Background()

	tbl := NewMemTable()
	err := tbl.Install(ctx, netip.MustParsePrefix("2001:db8::/32"), netip.MustParseAddr("192.0.2.1"))
	requireT.ErrorIs(err, ErrNotIPv4)
	err = tbl.Install(ctx, netip.MustParsePrefix("10.0.0.0/8"), netip.MustParseAddr("2001:db8::1"))
	requireT.ErrorIs(err, ErrNotIPv4)
	_, err = tbl.Lookup(ctx, netip.Prefix{})
	requireT.ErrorIs(err, ErrNotIPv4)
}

func TestMemTableCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tbl := NewMemTable()
	require.ErrorIs(t, tbl.Install(ctx, netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParseAddr("192.0.2.1")), context.Canceled)
	require.Zero(t, tbl.Len())
}

func TestMemTableConcurrent(t *testing.T) {
	ctx := context.Background()
	tbl := NewMemTable()
	nh := netip.MustParseAddr("192.0.2.1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, byte(i), 0, 0}), 16)
			for j := 0; j < 100; j++ {
				_ = tbl.Install(ctx, p, nh)
				_, _ = tbl.Lookup(ctx, p)
				tbl.LongestMatch(p.Addr())
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 8, tbl.Len())
}
