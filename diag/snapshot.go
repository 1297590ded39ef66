// Package diag periodically serializes a point-in-time swarm status to disk
// for offline inspection. It is write-only: nothing in this module ever
// reads these files back, so encoding choices here cannot affect protocol
// behavior.
package diag

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jackpal/bencode-go"

	"github.com/arjuncodes/peerctl/p2p"
)

const snapshotInterval = 5 * time.Second

// LinkStatus is the per-neighbor status recorded in a Snapshot.
type LinkStatus struct {
	PeerID       int  `bencode:"peer_id"`
	AmChoked     bool `bencode:"am_choked"`
	PeerChoked   bool `bencode:"peer_choked"`
	AmInterested bool `bencode:"am_interested"`
	PieceCount   int  `bencode:"piece_count"`
}

// Snapshot is the bencoded record written every tick.
type Snapshot struct {
	PeerID       int          `bencode:"peer_id"`
	TakenAt      string       `bencode:"taken_at"`
	PieceCount   int          `bencode:"piece_count"`
	TotalPieces  int          `bencode:"total_pieces"`
	Complete     bool         `bencode:"complete"`
	Links        []LinkStatus `bencode:"links"`
}

// Writer snapshots a swarm's status to status_<peerId>.bc on a fixed
// interval until stopped.
type Writer struct {
	dir    string
	peerID int
	swarm  *p2p.Swarm
	stop   chan struct{}
}

// NewWriter builds a snapshot writer for swarm, writing into dir.
func NewWriter(dir string, peerID int, swarm *p2p.Swarm) *Writer {
	return &Writer{dir: dir, peerID: peerID, swarm: swarm, stop: make(chan struct{})}
}

// Start launches the periodic snapshot loop.
func (w *Writer) Start() { go w.run() }

// Stop halts the periodic snapshot loop.
func (w *Writer) Stop() { close(w.stop) }

func (w *Writer) run() {
	t := time.NewTicker(snapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if err := w.writeOnce(); err != nil {
				fmt.Fprintf(os.Stderr, "diag: snapshot write failed: %v\n", err)
			}
		}
	}
}

func (w *Writer) writeOnce() error {
	bf := w.swarm.Store().Bitfield()

	links := w.swarm.Links()
	snap := Snapshot{
		PeerID:      w.peerID,
		TakenAt:     time.Now().UTC().Format(time.RFC3339),
		PieceCount:  bf.Count(),
		TotalPieces: bf.Len(),
		Complete:    bf.Complete(),
		Links:       make([]LinkStatus, 0, len(links)),
	}
	for _, l := range links {
		snap.Links = append(snap.Links, LinkStatus{
			PeerID:       l.ID,
			AmChoked:     l.AmChoked(),
			PeerChoked:   l.PeerChoked(),
			AmInterested: l.AmInterested(),
			PieceCount:   l.PeerBitfieldCount(),
		})
	}

	path := filepath.Join(w.dir, fmt.Sprintf("status_%d.bc", w.peerID))
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("diag: creating %s: %w", tmp, err)
	}
	if err := bencode.Marshal(f, snap); err != nil {
		f.Close()
		return fmt.Errorf("diag: encoding snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("diag: closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("diag: renaming %s: %w", tmp, err)
	}
	return nil
}
