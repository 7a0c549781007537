package peerhost

import (
	"fmt"
	"net"
	"sync"

	"github.com/pkg/errors"

	"github.com/Quigles1337/COINjecture1337/logs"
	"github.com/Quigles1337/COINjecture1337/peerscore"
)

// Config is the subset of the node's top-level config a Host needs:
// listen_port and max_peers.
type Config struct {
	ListenPort uint16
	MaxPeers   int
}

// Discoverer abstracts peer discovery beyond a static bootstrap list. The
// pack carries no DHT client library to ground a concrete Kademlia-style
// implementation against, so the core ships only BootstrapDiscoverer and
// leaves this interface open for an external collaborator (the
// external-collaborator boundary).
type Discoverer interface {
	Discover() ([]Multiaddr, error)
}

// BootstrapDiscoverer returns a fixed, configured set of addresses and
// nothing else.
type BootstrapDiscoverer struct {
	Addrs []Multiaddr
}

// Discover implements Discoverer.
func (d BootstrapDiscoverer) Discover() ([]Multiaddr, error) {
	return d.Addrs, nil
}

type peerConn struct {
	addr Multiaddr
	conn net.Conn
	wmu  sync.Mutex // serializes concurrent writeFrame calls on conn
}

// Host manages the local identity, a TCP listener, and the set of
// connected peers. It does no NAT traversal or DHT-based discovery and
// takes no Discoverer; this Host itself only dials
// and accepts plain TCP, matching daglabs-btcd's NetAdapter before its
// grpc/protobuf transport was layered on.
type Host struct {
	cfg    Config
	id     *Identity
	scores *peerscore.Table
	log    *logs.Logger

	router *Router
	ln     net.Listener

	mu    sync.Mutex
	peers map[string]*peerConn // peer_id -> connection

	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// New constructs a Host bound to identity id, with router wired to receive
// dispatch for every connection this Host manages. scores gates connection
// admission and frame dispatch: a banned peer is refused at the door and
// dropped if it is discovered mid-connection.
func New(cfg Config, id *Identity, router *Router, scores *peerscore.Table, backend *logs.Backend) *Host {
	return &Host{
		cfg:     cfg,
		id:      id,
		scores:  scores,
		log:     backend.Logger(logs.SubsystemPeerHost),
		router:  router,
		peers:   make(map[string]*peerConn),
		closeCh: make(chan struct{}),
	}
}

// ID returns the local peer ID.
func (h *Host) ID() string { return h.id.PeerID }

// Addrs returns the multiaddresses this Host is reachable at.
func (h *Host) Addrs() []Multiaddr {
	if h.ln == nil {
		return nil
	}
	tcpAddr, ok := h.ln.Addr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	ip := tcpAddr.IP.String()
	if tcpAddr.IP.IsUnspecified() {
		ip = "0.0.0.0"
	}
	return []Multiaddr{NewMultiaddr(ip, uint16(tcpAddr.Port), h.id.PeerID)}
}

// Start opens the listening socket and begins accepting inbound
// connections.
func (h *Host) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", h.cfg.ListenPort))
	if err != nil {
		return errors.Wrapf(err, "peerhost: listening on port %d", h.cfg.ListenPort)
	}
	h.ln = ln
	h.wg.Add(1)
	go h.acceptLoop()
	return nil
}

func (h *Host) acceptLoop() {
	defer h.wg.Done()
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			select {
			case <-h.closeCh:
				return
			default:
				h.log.Warnf("accept error: %v", err)
				return
			}
		}
		h.adopt("", conn)
	}
}

// handshakeTopic carries no application payload; its only purpose is to
// get the local peer ID onto the wire immediately so the remote side can
// register this connection before any real gossip traffic arrives.
const handshakeTopic = "/coinjecture/handshake/1.0.0"

// adopt registers conn under peerID (learned from its first frame if not
// already known) and starts its receive loop. knownAddr may be empty for
// inbound connections whose multiaddress is not yet known.
func (h *Host) adopt(knownAddr Multiaddr, conn net.Conn) {
	if err := writeFrame(conn, frame{SenderID: h.id.PeerID, Topic: handshakeTopic}); err != nil {
		h.log.Warnf("handshake write failed: %v", err)
		conn.Close()
		return
	}
	h.wg.Add(1)
	go h.receiveLoop(knownAddr, conn)
}

func (h *Host) receiveLoop(knownAddr Multiaddr, conn net.Conn) {
	defer h.wg.Done()
	defer conn.Close()

	var registered string
	for {
		f, err := readFrame(conn)
		if err != nil {
			if registered != "" {
				h.drop(registered)
			}
			return
		}
		if h.scores != nil && h.scores.IsBanned(f.SenderID) {
			// Banned: the connection is dropped and future reconnects from
			// this peer ID are refused at register.
			if registered != "" {
				h.drop(registered)
			}
			return
		}
		if registered == "" {
			registered = f.SenderID
			if !h.register(registered, knownAddr, conn) {
				return
			}
		}
		if f.SenderID == h.id.PeerID {
			continue // self-message suppression
		}
		h.router.dispatch(f.Topic, f.SenderID, f.Payload)
	}
}

// register admits peerID into the connected-peers table. It refuses a
// banned peer outright (false return tells receiveLoop to close the
// connection and stop) and otherwise applies the max_peers admission cap,
// refusing a new peer the same way when the table is full; already-registered
// peers are exempt from the cap.
func (h *Host) register(peerID string, addr Multiaddr, conn net.Conn) bool {
	if h.scores != nil && h.scores.IsBanned(peerID) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cfg.MaxPeers > 0 && len(h.peers) >= h.cfg.MaxPeers {
		if _, ok := h.peers[peerID]; !ok {
			return false
		}
	}
	h.peers[peerID] = &peerConn{addr: addr, conn: conn}
	return true
}

func (h *Host) drop(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, peerID)
}

// ConnectBootstrap dials every address in addrs, skipping any already
// connected, mirroring a connect_bootstrap operation.
func (h *Host) ConnectBootstrap(addrs []Multiaddr) error {
	var firstErr error
	for _, addr := range addrs {
		if err := h.connectOne(addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (h *Host) connectOne(addr Multiaddr) error {
	hostPort, err := addr.HostPort()
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", hostPort)
	if err != nil {
		return errors.Wrapf(err, "peerhost: dialing bootstrap peer %s", addr)
	}
	h.adopt(addr, conn)
	return nil
}

// ConnectedPeers returns the peer IDs of every currently connected peer.
func (h *Host) ConnectedPeers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	return out
}

// PeerCount returns the number of currently connected peers.
func (h *Host) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// FindPeer returns the last known multiaddress for peerID, if any.
func (h *Host) FindPeer(peerID string) (Multiaddr, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	pc, ok := h.peers[peerID]
	if !ok || pc.addr == "" {
		return "", false
	}
	return pc.addr, true
}

// Publish sends payload under topic to every currently connected peer that
// is not banned, the transport primitive the gossip layer's pub/sub is
// built on.
func (h *Host) Publish(topic string, payload []byte) error {
	h.mu.Lock()
	conns := make([]*peerConn, 0, len(h.peers))
	for peerID, pc := range h.peers {
		if h.scores != nil && h.scores.IsBanned(peerID) {
			continue
		}
		conns = append(conns, pc)
	}
	h.mu.Unlock()

	f := frame{SenderID: h.id.PeerID, Topic: topic, Payload: payload}
	var firstErr error
	for _, pc := range conns {
		pc.wmu.Lock()
		err := writeFrame(pc.conn, f)
		pc.wmu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "peerhost: publishing frame")
		}
	}
	return firstErr
}

// Router returns the Host's pub/sub Router.
func (h *Host) Router() *Router { return h.router }

// Close stops accepting new connections, closes every peer connection, and
// waits for all receive loops to exit.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.closeCh) })
	if h.ln != nil {
		h.ln.Close()
	}
	h.mu.Lock()
	for _, pc := range h.peers {
		pc.conn.Close()
	}
	h.mu.Unlock()
	h.wg.Wait()
	return nil
}
