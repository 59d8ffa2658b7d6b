package crypto

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// PeerAddress uniquely identifies one cryptographic endpoint: a specific
// device belonging to a specific user. Exactly one session exists per
// PeerAddress at a time.
type PeerAddress struct {
	UserID   uint64 `json:"userId"`
	DeviceID uint32 `json:"deviceId"`
}

// NewPeerAddress creates a peer address for the given user and device.
func NewPeerAddress(userID uint64, deviceID uint32) PeerAddress {
	return PeerAddress{UserID: userID, DeviceID: deviceID}
}

// String returns the canonical wire representation, "userID.deviceID".
func (a PeerAddress) String() string {
	return fmt.Sprintf("%d.%d", a.UserID, a.DeviceID)
}

// ParsePeerAddress parses the canonical "userID.deviceID" form.
func ParsePeerAddress(s string) (PeerAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return PeerAddress{}, errors.New("malformed peer address: " + s)
	}

	userID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("malformed user id in peer address: %w", err)
	}

	deviceID, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return PeerAddress{}, fmt.Errorf("malformed device id in peer address: %w", err)
	}

	return PeerAddress{UserID: userID, DeviceID: uint32(deviceID)}, nil
}
