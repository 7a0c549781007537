package peerhost

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Multiaddr is a formatted peer address of the shape
// /ip4/<addr>/tcp/<port>/p2p/<peer_id>.
type Multiaddr string

// NewMultiaddr formats a TCP multiaddress for the given IPv4 address, port,
// and peer ID.
func NewMultiaddr(ip4 string, port uint16, peerID string) Multiaddr {
	return Multiaddr(fmt.Sprintf("/ip4/%s/tcp/%d/p2p/%s", ip4, port, peerID))
}

// HostPort and PeerID split a Multiaddr into its dial target and the peer
// ID it advertises.
func (m Multiaddr) HostPort() (string, error) {
	parts := strings.Split(string(m), "/")
	if len(parts) < 5 || parts[1] != "ip4" || parts[3] != "tcp" {
		return "", errors.Errorf("peerhost: malformed multiaddr %q", m)
	}
	return parts[2] + ":" + parts[4], nil
}

// PeerID returns the /p2p/<peer_id> suffix, or an error if absent.
func (m Multiaddr) PeerID() (string, error) {
	idx := strings.Index(string(m), "/p2p/")
	if idx < 0 {
		return "", errors.Errorf("peerhost: multiaddr %q has no /p2p/ component", m)
	}
	return string(m)[idx+len("/p2p/"):], nil
}
