//go:build integration

package test

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/jwhited/minibgp"
	"github.com/jwhited/minibgp/rib"
)

const (
	myAddress   = "192.0.2.1"
	birdAddress = "192.0.2.2"
	myAS        = 65001
	birdAS      = 65002
	timeout     = 30 * time.Second
)

type pluginEvent struct {
	kind   string
	open   minibgp.OpenMessage
	routes []netip.Prefix
}

type plugin struct {
	event chan pluginEvent
}

func (p *plugin) OnOpenMessage(_ minibgp.Config, open minibgp.OpenMessage) error {
	p.event <- pluginEvent{kind: "open", open: open}
	return nil
}

func (p *plugin) OnEstablished(_ minibgp.Config, routes []netip.Prefix) {
	p.event <- pluginEvent{kind: "established", routes: routes}
}

func (p *plugin) OnClose(minibgp.Config) {
	p.event <- pluginEvent{kind: "close"}
}

func (p *plugin) want(t *testing.T, kind string) pluginEvent {
	select {
	case e := <-p.event:
		require.Equal(t, kind, e.kind)
		return e
	case <-time.After(timeout):
		require.Failf(t, "timeout", "waiting for %s", kind)
		return pluginEvent{}
	}
}

const configPath = "/etc/bird/bird.conf"

func loadBIRDConfig(t *testing.T, config []byte) {
	birdControl(t, "disable all")
	require.NoError(t, os.WriteFile(configPath, config, 0o644))
	require.Contains(t, birdControl(t, "configure check"), "Configuration OK")
	require.Contains(t, birdControl(t, fmt.Sprintf(`configure "%s"`, configPath)),
		"Reconfigured")
	birdControl(t, "enable all")
}

func birdConfig(bgp string) []byte {
	return []byte(`
router id 192.0.2.2;
protocol device {
}
protocol static {
	ipv4;
	route 10.0.0.0/8 via "eth0";
}
protocol bgp minibgp {
	description "minibgp";
	local 192.0.2.2 as 65002;
	neighbor 192.0.2.1 as 65001;
	hold time 90;
	ipv4 {
		import all;
		export where source ~ [ RTS_STATIC ];
	};
` + bgp + `
}
`)
}

func peerConfig(t *testing.T, mode string) minibgp.Config {
	c, err := minibgp.ParseConfig(fmt.Sprintf("%d %s %d %s %s 10.100.220.0/24",
		myAS, myAddress, birdAS, birdAddress, mode))
	require.NoError(t, err)
	return c
}

func runSession(t *testing.T, config minibgp.Config, birdOptions string,
	opts ...minibgp.PeerOption) {
	requireT := require.New(t)
	ctx := qa.NewContext(t)

	loadBIRDConfig(t, birdConfig(birdOptions))
	birdControl(t, "disable minibgp")

	table := rib.NewMemTable()
	requireT.NoError(table.Install(ctx, netip.MustParsePrefix("10.100.220.0/24"),
		netip.MustParseAddr(myAddress)))

	p := &plugin{event: make(chan pluginEvent, 10)}
	peer, err := minibgp.NewPeer(config, append(opts,
		minibgp.WithPlugin(p), minibgp.WithRouteTable(table))...)
	requireT.NoError(err)

	birdControl(t, "enable minibgp")

	group := qa.NewGroup(ctx, t)
	group.Spawn("peer", parallel.Continue, func(ctx context.Context) error {
		// BIRD delays its first connect attempt, the dial is retried
		for {
			err := peer.Run(ctx)
			var connErr *minibgp.ConnectionError
			switch {
			case errors.Is(err, context.Canceled):
				return nil
			case !errors.As(err, &connErr):
				return err
			case connErr.Op == "read":
				// closed by BIRD
				return nil
			case connErr.Op != "dial":
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	})

	open := p.want(t, "open")
	requireT.Equal(minibgp.ASN(birdAS), open.open.ASN)
	requireT.Equal(netip.MustParseAddr(birdAddress), open.open.BGPIdentifier)
	requireT.Equal(minibgp.Version(4), open.open.Version)

	established := p.want(t, "established")
	requireT.Equal([]netip.Prefix{netip.MustParsePrefix("10.100.220.0/24")},
		established.routes)

	requireT.Eventually(func() bool {
		return strings.Contains(birdControl(t, "show protocols all minibgp"),
			"Established")
	}, timeout, 100*time.Millisecond)

	// BIRD sends UPDATE messages which are discarded, the session survives
	time.Sleep(time.Second)
	requireT.Contains(birdControl(t, "show protocols all minibgp"), "Established")

	birdControl(t, "disable minibgp")
	p.want(t, "close")

	group.Exit(nil)
	requireT.NoError(group.Wait())
}

// TestActiveSession dials BIRD and establishes a session.
func TestActiveSession(t *testing.T) {
	runSession(t, peerConfig(t, "active"), "passive on;")
}

// TestPassiveSession accepts a session initiated by BIRD.
func TestPassiveSession(t *testing.T) {
	runSession(t, peerConfig(t, "passive"), "")
}

// TestMD5Session establishes a session protected by a TCP MD5 signature.
func TestMD5Session(t *testing.T) {
	runSession(t, peerConfig(t, "active"), `passive on;
	password "password";`, minibgp.WithTCPMD5Signature("password"))
}

const (
	controlSocket = "/run/bird/bird.ctl"
)

var (
	birdReadyPrefix = regexp.MustCompile(`^0001 BIRD.*ready.`)
	birdLinePrefix  = regexp.MustCompile(`^[0-9]{4}[ \-]`)
)

func birdControl(t *testing.T, command string) string {
	c, err := net.Dial("unix", controlSocket)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Write([]byte(fmt.Sprintf("%s\r\n", command)))
	require.NoError(t, err)

	var out strings.Builder
	scanner := bufio.NewScanner(c)
	first := true
	for scanner.Scan() {
		b := scanner.Bytes()
		if first {
			// BIRD spits out '0001 BIRD v2.0.7 ready.' upon connecting
			require.Regexp(t, birdReadyPrefix, string(b))
			first = false
			continue
		}
		if birdLinePrefix.Match(b) {
			// Requests are commands encoded as a single line of text, replies
			// are sequences of lines starting with a four-digit code followed
			// by either a space (if it's the last line of the reply) or a minus
			// sign (when the reply is going to continue with the next line)
			if b[4] == ' ' {
				out.Write(b[5:]) // sometimes the last line contains text
				break
			}
			b = b[5:]
		}
		out.Write(b)
		out.WriteByte('\n')
	}

	return out.String()
}
