package p2p

import (
	"fmt"
	"net"
	"time"

	"github.com/arjuncodes/peerctl/config"
	"github.com/arjuncodes/peerctl/eventlog"
)

// bitfieldGraceWindow bounds how long a dial or accept path waits for an
// optional post-handshake BITFIELD before moving on; its absence means the
// remote simply has no pieces yet, not an error. §4.7 states this bound for
// the inbound side; it is applied symmetrically here for both directions.
const bitfieldGraceWindow = 5 * time.Second

const completionPollInterval = 5 * time.Second

// Controller owns one peer process's full lifecycle: listening, dialing the
// rest of the roster, running the scheduler and request driver, and
// detecting swarm-wide completion. Grounded on the original peer process's
// start/connect/listen/shutdown sequencing.
type Controller struct {
	localID int
	roster  []config.PeerDescriptor
	params  config.RunParameters

	store *Store
	log   *eventlog.Logger
	swarm *Swarm
	sched *Scheduler
	reqs  *RequestDriver

	listener net.Listener
	done     chan struct{}
}

// NewController opens the local piece store and event log and wires up the
// swarm, scheduler, and request driver for localID.
func NewController(dataDir string, localID int, roster []config.PeerDescriptor, params config.RunParameters) (*Controller, error) {
	self, ok := config.Find(roster, localID)
	if !ok {
		return nil, fmt.Errorf("p2p: peer %d is not present in PeerInfo.cfg", localID)
	}

	store, err := OpenStore(dataDir, params.FileName, params.FileSize, params.PieceSize, self.HasFile)
	if err != nil {
		return nil, err
	}

	log, err := eventlog.Open(dataDir, localID, params.MetricsRedisAddr)
	if err != nil {
		store.Close()
		return nil, err
	}

	swarm := NewSwarm(localID, store, log)
	sched := NewScheduler(swarm, params.PreferredNeighborCount, params.UnchokeInterval, params.OptimisticInterval)
	reqs := NewRequestDriver(swarm, 100*time.Millisecond)

	return &Controller{
		localID: localID,
		roster:  roster,
		params:  params,
		store:   store,
		log:     log,
		swarm:   swarm,
		sched:   sched,
		reqs:    reqs,
		done:    make(chan struct{}),
	}, nil
}

// Run starts the listener, dials every roster peer whose id is lower than
// localID (in roster order), starts the scheduler and request driver, and blocks until the
// swarm-completion monitor triggers Shutdown.
func (c *Controller) Run() error {
	self, _ := config.Find(c.roster, c.localID)

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", self.Port))
	if err != nil {
		return fmt.Errorf("p2p: listening on port %d: %w", self.Port, err)
	}
	c.listener = ln

	go c.acceptLoop()

	for _, d := range c.roster {
		if d.ID >= c.localID {
			continue // only dial peers with a strictly lower id; higher ids dial us
		}
		if err := c.dialPeer(d); err != nil {
			fmt.Printf("peerctl: could not connect to peer %d: %v\n", d.ID, err)
		}
	}

	c.sched.Start()
	c.reqs.Start()
	go c.monitorCompletion()

	<-c.done
	return nil
}

// Swarm returns the controller's swarm registry, for callers that need to
// attach auxiliary readers (e.g. a diagnostics snapshot writer).
func (c *Controller) Swarm() *Swarm { return c.swarm }

func (c *Controller) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return // listener closed during Shutdown
		}
		go c.handleInbound(conn)
	}
}

// dialPeer opens an outbound connection, exchanges handshakes, optionally
// exchanges bitfields, and registers the resulting link.
func (c *Controller) dialPeer(d config.PeerDescriptor) error {
	addr := fmt.Sprintf("%s:%d", d.Host, d.Port)
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}

	if err := c.handshake(conn, d.ID, true); err != nil {
		conn.Close()
		return err
	}

	link := NewPeerLink(d.ID, conn, c.store.NumPieces(), true)
	c.exchangeBitfield(link)
	c.swarm.AddLink(link)
	c.log.TCPConnectionMade(d.ID)
	_ = link.UpdateInterest(c.store.Bitfield())

	go c.swarm.ReceiveLoop(link)
	return nil
}

// handleInbound accepts one inbound connection: exchanges handshakes,
// verifies the remote id is in the roster, optionally exchanges bitfields,
// and registers the resulting link.
func (c *Controller) handleInbound(conn net.Conn) {
	remoteID, err := ReadHandshake(conn)
	if err != nil {
		conn.Close()
		return
	}
	if _, ok := config.Find(c.roster, remoteID); !ok {
		conn.Close() // handshake from a peer outside the fixed roster; reject (§8 S4)
		return
	}
	if _, err := conn.Write(BuildHandshake(c.localID)); err != nil {
		conn.Close()
		return
	}

	link := NewPeerLink(remoteID, conn, c.store.NumPieces(), false)
	c.exchangeBitfield(link)
	c.swarm.AddLink(link)
	c.log.TCPConnectionReceived(remoteID)
	_ = link.UpdateInterest(c.store.Bitfield())

	go c.swarm.ReceiveLoop(link)
}

// handshake performs the two-sided 32-byte handshake exchange for an
// outbound dial (outbound=true writes the local handshake first) and checks
// that the remote's id is expectID. The bitfield exchange is left to the
// caller.
func (c *Controller) handshake(conn net.Conn, expectID int, outbound bool) error {
	if outbound {
		if _, err := conn.Write(BuildHandshake(c.localID)); err != nil {
			return err
		}
	}

	remoteID, err := ReadHandshake(conn)
	if err != nil {
		return err
	}
	if remoteID != expectID {
		return fmt.Errorf("p2p: handshake from peer %d, expected %d", remoteID, expectID)
	}

	return nil
}

// exchangeBitfield sends the local bitfield if non-empty, then attempts a
// bounded read of the remote's bitfield. A timeout is treated as "remote has
// no pieces yet", not an error. If the first message to arrive is not a
// BITFIELD (e.g. an INTERESTED from a remote that has no pieces), it is
// dispatched like any other received message rather than dropped.
func (c *Controller) exchangeBitfield(link *PeerLink) {
	local := c.store.Bitfield()
	if local.Count() > 0 {
		_ = link.Send(BitfieldMessage(local))
	}

	link.conn.SetReadDeadline(time.Now().Add(bitfieldGraceWindow))
	m, err := link.Receive()
	link.conn.SetReadDeadline(time.Time{})
	if err != nil {
		return
	}
	if m.Type == MsgBitfield {
		link.peerBitfield.ReplaceFrom(m.Payload)
		return
	}
	_ = c.swarm.Dispatch(link, m)
}

// monitorCompletion polls until the local store and every currently
// connected peer's advertised bitfield report full cardinality, then shuts
// the process down. Scoping the check to currently-connected links (rather
// than the full roster) is what lets a peer that has already finished and
// disconnected drop out of the check instead of stalling it forever.
func (c *Controller) monitorCompletion() {
	t := time.NewTicker(completionPollInterval)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if c.swarmComplete() {
				c.Shutdown()
				return
			}
		}
	}
}

func (c *Controller) swarmComplete() bool {
	if !c.store.Complete() {
		return false
	}
	for _, l := range c.swarm.Links() {
		if !l.peerBitfield.Complete() {
			return false
		}
	}
	return true
}

// Shutdown stops accepting new connections, tears down every link, and
// releases the store and log. Safe to call once; a second call is a no-op.
func (c *Controller) Shutdown() {
	select {
	case <-c.done:
		return
	default:
		close(c.done)
	}

	if c.listener != nil {
		c.listener.Close()
	}
	c.sched.Stop()
	c.reqs.Stop()
	c.swarm.CloseAll()
	c.store.Close()
	c.log.Close()
}
