package p2p

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// PeerLink owns the connection to one remote peer: its socket, its four
// choke/interest flags, its advertised bitfield, and a rolling download-rate
// counter. Exactly one receive loop per link reads the socket; sends are
// serialized through writeMu so messages never interleave on the wire.
type PeerLink struct {
	ID   int
	conn net.Conn

	writeMu sync.Mutex

	amChoked       atomic.Bool // remote has choked us
	amInterested   atomic.Bool // we are interested in remote
	peerChoked     atomic.Bool // we have choked remote
	peerInterested atomic.Bool // remote is interested in us

	peerBitfield *Bitfield

	downloadedSinceReset atomic.Int64
	lastReset            atomic.Int64 // unix nanos

	outbound bool
}

// NewPeerLink wraps conn with the initial flag values mandated by §3:
// am_choked = peer_choked = true, am_interested = peer_interested = false.
func NewPeerLink(id int, conn net.Conn, numPieces int, outbound bool) *PeerLink {
	l := &PeerLink{
		ID:           id,
		conn:         conn,
		peerBitfield: NewBitfield(numPieces),
		outbound:     outbound,
	}
	l.amChoked.Store(true)
	l.peerChoked.Store(true)
	l.lastReset.Store(time.Now().UnixNano())
	return l
}

// Send writes a single message atomically with respect to other sends on
// this link.
func (l *PeerLink) Send(m Message) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return WriteMessage(l.conn, m)
}

// Receive blocks until the next framed message arrives.
func (l *PeerLink) Receive() (Message, error) {
	return ReadMessage(l.conn)
}

// Close tears down the underlying connection.
func (l *PeerLink) Close() error { return l.conn.Close() }

func (l *PeerLink) AmChoked() bool       { return l.amChoked.Load() }
func (l *PeerLink) AmInterested() bool   { return l.amInterested.Load() }
func (l *PeerLink) PeerChoked() bool     { return l.peerChoked.Load() }
func (l *PeerLink) PeerInterested() bool { return l.peerInterested.Load() }

func (l *PeerLink) SetAmChoked(v bool)       { l.amChoked.Store(v) }
func (l *PeerLink) SetPeerInterested(v bool) { l.peerInterested.Store(v) }

// SendInterested emits INTERESTED only if we are not already flagged
// interested (no redundant signaling, per §4.2).
func (l *PeerLink) SendInterested() error {
	if l.amInterested.Load() {
		return nil
	}
	if err := l.Send(Message{Type: MsgInterested}); err != nil {
		return err
	}
	l.amInterested.Store(true)
	return nil
}

// SendNotInterested emits NOT_INTERESTED only if we are currently flagged
// interested.
func (l *PeerLink) SendNotInterested() error {
	if !l.amInterested.Load() {
		return nil
	}
	if err := l.Send(Message{Type: MsgNotInterested}); err != nil {
		return err
	}
	l.amInterested.Store(false)
	return nil
}

// SendChoke emits CHOKE only on a peer_choked false→true transition.
func (l *PeerLink) SendChoke() error {
	if l.peerChoked.Load() {
		return nil
	}
	if err := l.Send(Message{Type: MsgChoke}); err != nil {
		return err
	}
	l.peerChoked.Store(true)
	return nil
}

// SendUnchoke emits UNCHOKE only on a peer_choked true→false transition.
func (l *PeerLink) SendUnchoke() error {
	if !l.peerChoked.Load() {
		return nil
	}
	if err := l.Send(Message{Type: MsgUnchoke}); err != nil {
		return err
	}
	l.peerChoked.Store(false)
	return nil
}

// UpdateInterest recomputes am_interested against local and emits
// INTERESTED/NOT_INTERESTED only on a change, per §4.2.
func (l *PeerLink) UpdateInterest(local *Bitfield) error {
	if HasAnyWantedFrom(local, l.peerBitfield) {
		return l.SendInterested()
	}
	return l.SendNotInterested()
}

// HasInterestingPieces reports whether remote has any piece local lacks.
func (l *PeerLink) HasInterestingPieces(local *Bitfield) bool {
	return HasAnyWantedFrom(local, l.peerBitfield)
}

// WantedPieces returns the indices remote has that local lacks.
func (l *PeerLink) WantedPieces(local *Bitfield) []int {
	return WantedFrom(local, l.peerBitfield)
}

// PeerBitfieldCount returns how many pieces remote has advertised having.
func (l *PeerLink) PeerBitfieldCount() int {
	return l.peerBitfield.Count()
}

// CreditDownload adds n bytes to the rolling download counter (piece-data
// bytes only, excluding the 4-byte index, per §4.2).
func (l *PeerLink) CreditDownload(n int) {
	l.downloadedSinceReset.Add(int64(n))
}

// DownloadRate returns the byte count accumulated since the last reset.
func (l *PeerLink) DownloadRate() int64 {
	return l.downloadedSinceReset.Load()
}

// ResetRate zeroes the download counter; called once per choke-scheduler tick.
func (l *PeerLink) ResetRate() {
	l.downloadedSinceReset.Store(0)
	l.lastReset.Store(time.Now().UnixNano())
}
