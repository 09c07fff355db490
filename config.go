package minibgp

import (
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Mode determines which side opens the TCP connection of a session.
type Mode uint8

const (
	// ModePassive listens on the local address and accepts the connection
	// initiated by the remote peer.
	ModePassive Mode = iota
	// ModeActive dials the remote peer.
	ModeActive
)

func (m Mode) String() string {
	switch m {
	case ModePassive:
		return "passive"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// ParseMode parses "active" or "passive", ignoring case.
func ParseMode(s string) (Mode, error) {
	switch {
	case strings.EqualFold(s, "active"):
		return ModeActive, nil
	case strings.EqualFold(s, "passive"):
		return ModePassive, nil
	default:
		return 0, newConfigParseError("mode", s,
			errors.New("expected active or passive"))
	}
}

// Config is the configuration of a single BGP session.
type Config struct {
	LocalAS ASN
	// LocalIP is the local IPv4 address. It is the source address of
	// outbound connections, the listening address in passive mode, and the
	// BGP identifier sent in OPEN messages.
	LocalIP  netip.Addr
	RemoteAS ASN
	RemoteIP netip.Addr
	Mode     Mode

	// Networks are the prefixes originated by this speaker. They are looked
	// up in the route table once the session is established.
	Networks []netip.Prefix
}

func (c Config) validate() error {
	if !c.LocalIP.Is4() || !c.RemoteIP.Is4() {
		return errors.New("local and remote addresses must be IPv4")
	}
	// https://tools.ietf.org/html/rfc7607
	//
	// A router MUST NOT initiate a connection claiming to be AS 0.
	if c.LocalAS == 0 || c.RemoteAS == 0 {
		return errors.New("AS must be > 0")
	}
	for _, n := range c.Networks {
		if !n.Addr().Is4() {
			return errors.Errorf("network %s is not IPv4", n)
		}
	}
	return nil
}

func parseASN(field, s string) (ASN, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, newConfigParseError(field, s, err)
	}
	return ASN(v), nil
}

func parseIPv4(field, s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, newConfigParseError(field, s, err)
	}
	if !a.Is4() {
		return netip.Addr{}, newConfigParseError(field, s,
			errors.New("not an IPv4 address"))
	}
	return a, nil
}

func parseNetwork(field, s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, newConfigParseError(field, s, err)
	}
	if !p.Addr().Is4() {
		return netip.Prefix{}, newConfigParseError(field, s,
			errors.New("not an IPv4 prefix"))
	}
	return p.Masked(), nil
}

// configFields are the textual config fields in positional order.
type configFields struct {
	LocalAS  string   `yaml:"local_as"`
	LocalIP  string   `yaml:"local_ip"`
	RemoteAS string   `yaml:"remote_as"`
	RemoteIP string   `yaml:"remote_ip"`
	Mode     string   `yaml:"mode"`
	Networks []string `yaml:"networks"`
}

func (f configFields) parse() (Config, error) {
	var (
		c   Config
		err error
	)
	if c.LocalAS, err = parseASN("local AS", f.LocalAS); err != nil {
		return Config{}, err
	}
	if c.LocalIP, err = parseIPv4("local IP", f.LocalIP); err != nil {
		return Config{}, err
	}
	if c.RemoteAS, err = parseASN("remote AS", f.RemoteAS); err != nil {
		return Config{}, err
	}
	if c.RemoteIP, err = parseIPv4("remote IP", f.RemoteIP); err != nil {
		return Config{}, err
	}
	if c.Mode, err = ParseMode(f.Mode); err != nil {
		return Config{}, err
	}
	for i, n := range f.Networks {
		p, err := parseNetwork("network "+strconv.Itoa(i+1), n)
		if err != nil {
			return Config{}, err
		}
		c.Networks = append(c.Networks, p)
	}
	return c, nil
}

// ParseConfig parses a config string of the form
//
//	<local AS> <local IP> <remote AS> <remote IP> <active|passive> [network...]
//
// e.g. "64512 127.0.0.1 64513 127.0.0.2 active 10.100.220.0/24". Any fields
// following the mode are IPv4 prefixes originated by this speaker.
func ParseConfig(s string) (Config, error) {
	fields := strings.Fields(s)
	if len(fields) < 5 {
		return Config{}, newConfigParseError("config", s,
			errors.Errorf("expected at least 5 fields, got: %d", len(fields)))
	}
	return configFields{
		LocalAS:  fields[0],
		LocalIP:  fields[1],
		RemoteAS: fields[2],
		RemoteIP: fields[3],
		Mode:     fields[4],
		Networks: fields[5:],
	}.parse()
}

// ParseConfigYAML parses a YAML document with the keys local_as, local_ip,
// remote_as, remote_ip, mode and networks.
func ParseConfigYAML(b []byte) (Config, error) {
	var f configFields
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Config{}, newConfigParseError("config", string(b), err)
	}
	return f.parse()
}

// LoadConfigFile reads and parses a YAML config file.
func LoadConfigFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithStack(err)
	}
	return ParseConfigYAML(b)
}
