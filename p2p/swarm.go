package p2p

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"

	"github.com/arjuncodes/peerctl/eventlog"
)

// EventLog is the subset of eventlog.Logger the swarm core calls. Declared
// as an interface so tests can substitute a recorder.
type EventLog interface {
	TCPConnectionMade(otherPeerID int)
	TCPConnectionReceived(otherPeerID int)
	PreferredNeighborsChanged(ids []int)
	OptimisticNeighborChanged(otherPeerID int)
	Unchoked(otherPeerID int)
	Choked(otherPeerID int)
	ReceivedHave(otherPeerID, pieceIndex int)
	ReceivedInterested(otherPeerID int)
	ReceivedNotInterested(otherPeerID int)
	DownloadedPiece(pieceIndex, otherPeerID, numberOfPieces int)
	DownloadComplete()
	Close() error
}

var _ EventLog = (*eventlog.Logger)(nil)

// Swarm is the process-wide registry: connected peer links, the current
// preferred set, the optimistic slot, and the outstanding-request map.
// Grounded on the teacher's Swarm type, regrown around piece-level state
// instead of a hash-verified torrent.
type Swarm struct {
	localID int
	store   *Store
	log     EventLog

	linksMu sync.RWMutex
	links   map[int]*PeerLink

	prefMu    sync.Mutex
	preferred map[int]bool

	optMu       sync.Mutex
	optimistic  int
	hasOptimist bool

	reqMu       sync.Mutex
	outstanding map[int]int // peer id -> piece index
}

// NewSwarm constructs an empty swarm bound to a local id, piece store, and
// event logger.
func NewSwarm(localID int, store *Store, log EventLog) *Swarm {
	return &Swarm{
		localID:     localID,
		store:       store,
		log:         log,
		links:       make(map[int]*PeerLink),
		preferred:   make(map[int]bool),
		outstanding: make(map[int]int),
	}
}

func (s *Swarm) Store() *Store { return s.store }

// AddLink installs a link into the registry. Concurrent reads of the map are
// safe; insertion is rare (once per connection setup).
func (s *Swarm) AddLink(l *PeerLink) {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()
	s.links[l.ID] = l
}

// RemoveLink tears down and forgets a link, and clears any outstanding
// request addressed to it.
func (s *Swarm) RemoveLink(id int) {
	s.linksMu.Lock()
	l, ok := s.links[id]
	delete(s.links, id)
	s.linksMu.Unlock()

	if ok {
		_ = l.Close()
	}

	s.reqMu.Lock()
	delete(s.outstanding, id)
	s.reqMu.Unlock()
}

// Link returns the link for id, if connected.
func (s *Swarm) Link(id int) (*PeerLink, bool) {
	s.linksMu.RLock()
	defer s.linksMu.RUnlock()
	l, ok := s.links[id]
	return l, ok
}

// Links returns a snapshot slice of all connected links.
func (s *Swarm) Links() []*PeerLink {
	s.linksMu.RLock()
	defer s.linksMu.RUnlock()
	out := make([]*PeerLink, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

// CloseAll closes every connected link.
func (s *Swarm) CloseAll() {
	s.linksMu.Lock()
	defer s.linksMu.Unlock()
	for _, l := range s.links {
		_ = l.Close()
	}
}

// Preferred returns a snapshot of the current preferred set.
func (s *Swarm) Preferred() map[int]bool {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	out := make(map[int]bool, len(s.preferred))
	for id := range s.preferred {
		out[id] = true
	}
	return out
}

// SetPreferred atomically replaces the preferred set.
func (s *Swarm) SetPreferred(ids []int) {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()
	s.preferred = make(map[int]bool, len(ids))
	for _, id := range ids {
		s.preferred[id] = true
	}
}

// Optimistic returns the current optimistic neighbor, if set.
func (s *Swarm) Optimistic() (int, bool) {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	return s.optimistic, s.hasOptimist
}

// SetOptimistic sets the optimistic neighbor.
func (s *Swarm) SetOptimistic(id int) {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	s.optimistic = id
	s.hasOptimist = true
}

// ClearOptimistic unsets the optimistic neighbor.
func (s *Swarm) ClearOptimistic() {
	s.optMu.Lock()
	defer s.optMu.Unlock()
	s.hasOptimist = false
}

// Outstanding returns (piece, true) if a request is in flight to p.
func (s *Swarm) Outstanding(p int) (int, bool) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	i, ok := s.outstanding[p]
	return i, ok
}

// SetOutstanding records that piece i has been requested from p.
func (s *Swarm) SetOutstanding(p, i int) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	s.outstanding[p] = i
}

// ClearOutstanding drops any in-flight request to p.
func (s *Swarm) ClearOutstanding(p int) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	delete(s.outstanding, p)
}

// IsRequestedElsewhere is the best-effort global dedup check of §4.4: true
// if piece i is already some peer's outstanding request.
func (s *Swarm) IsRequestedElsewhere(i int) bool {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	for _, v := range s.outstanding {
		if v == i {
			return true
		}
	}
	return false
}

// BroadcastHave sends HAVE(i) to every connected link except except.
func (s *Swarm) BroadcastHave(i, except int) {
	for _, l := range s.Links() {
		if l.ID == except {
			continue
		}
		_ = l.Send(HaveMessage(i))
	}
}

// UpdateAllInterest re-runs the interest update on every connected link.
func (s *Swarm) UpdateAllInterest() {
	local := s.store.Bitfield()
	for _, l := range s.Links() {
		_ = l.UpdateInterest(local)
	}
}

// HandlePiece implements §4.3's PIECE-receipt algorithm: discard duplicates,
// write-then-flush-then-bitmap, credit the sender, clear its outstanding
// request, broadcast HAVE, re-run interest, and log completion.
func (s *Swarm) HandlePiece(from int, index int, data []byte) error {
	if s.store.Has(index) {
		return nil // duplicate PIECE; discard (§9 request-dedup rationale)
	}

	if err := s.store.Write(index, data); err != nil {
		return fmt.Errorf("p2p: storing piece %d: %w", index, err)
	}

	s.log.DownloadedPiece(index, from, s.store.Bitfield().Count())

	if l, ok := s.Link(from); ok {
		l.CreditDownload(len(data))
	}
	s.ClearOutstanding(from)

	s.BroadcastHave(index, from)
	s.UpdateAllInterest()

	if s.store.Complete() {
		s.log.DownloadComplete()
	}

	return nil
}

func randomChoice(n int) (int, error) {
	if n <= 0 {
		return 0, fmt.Errorf("p2p: randomChoice of empty range")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
