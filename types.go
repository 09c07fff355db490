package minibgp

import (
	"strconv"

	"github.com/pkg/errors"
)

// ASN is a 2-octet autonomous system number.
type ASN uint16

func (a ASN) String() string {
	return "AS" + strconv.Itoa(int(a))
}

// Version is the BGP protocol version carried in an OPEN message.
type Version uint8

const (
	// DefaultVersion is the version sent in outbound OPEN messages.
	DefaultVersion Version = 4
	maxVersion     Version = 4
)

// NewVersion converts b to a Version. Values greater than 4 are rejected with
// a *ConversionError.
func NewVersion(b uint8) (Version, error) {
	if Version(b) > maxVersion {
		return 0, newConversionError(errors.Errorf(
			"invalid BGP version: expected <= %d, got: %d", maxVersion, b))
	}
	return Version(b), nil
}

// HoldTime is the hold time in seconds proposed in an OPEN message. Zero
// means no keepalives are exchanged.
type HoldTime uint16

// DefaultHoldTime is the hold time proposed in outbound OPEN messages.
const DefaultHoldTime HoldTime = 0
