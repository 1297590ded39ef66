package p2p

import (
	"net"
	"testing"
)

type recordingLog struct {
	downloaded        int
	completeHits      int
	preferredChanges  [][]int
	optimisticChanges []int
}

func (r *recordingLog) TCPConnectionMade(int)          {}
func (r *recordingLog) TCPConnectionReceived(int)      {}
func (r *recordingLog) PreferredNeighborsChanged(ids []int) {
	r.preferredChanges = append(r.preferredChanges, ids)
}
func (r *recordingLog) OptimisticNeighborChanged(id int) {
	r.optimisticChanges = append(r.optimisticChanges, id)
}
func (r *recordingLog) Unchoked(int)                   {}
func (r *recordingLog) Choked(int)                     {}
func (r *recordingLog) ReceivedHave(int, int)          {}
func (r *recordingLog) ReceivedInterested(int)         {}
func (r *recordingLog) ReceivedNotInterested(int)      {}
func (r *recordingLog) DownloadedPiece(int, int, int)  { r.downloaded++ }
func (r *recordingLog) DownloadComplete()              { r.completeHits++ }
func (r *recordingLog) Close() error                   { return nil }

func newTestSwarm(t *testing.T) (*Swarm, *recordingLog) {
	dir := t.TempDir()
	store, err := OpenStore(dir, "shared.dat", 8, 4, false)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	log := &recordingLog{}
	return NewSwarm(1, store, log), log
}

func pipeLink(id int, numPieces int) (*PeerLink, net.Conn) {
	a, b := net.Pipe()
	return NewPeerLink(id, a, numPieces, true), b
}

func TestHandlePieceDiscardsDuplicate(t *testing.T) {
	swarm, log := newTestSwarm(t)
	link, conn := pipeLink(2, 2)
	defer conn.Close()
	swarm.AddLink(link)

	go func() {
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	data := []byte{1, 2, 3, 4}
	if err := swarm.HandlePiece(2, 0, data); err != nil {
		t.Fatalf("HandlePiece (first): %v", err)
	}
	if log.downloaded != 1 {
		t.Fatalf("downloaded = %d, want 1", log.downloaded)
	}

	if err := swarm.HandlePiece(2, 0, data); err != nil {
		t.Fatalf("HandlePiece (duplicate): %v", err)
	}
	if log.downloaded != 1 {
		t.Fatalf("duplicate PIECE should not re-log; downloaded = %d, want 1", log.downloaded)
	}
}

func TestHandlePieceLogsCompletionOnce(t *testing.T) {
	swarm, log := newTestSwarm(t)

	if err := swarm.HandlePiece(99, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("HandlePiece(0): %v", err)
	}
	if log.completeHits != 0 {
		t.Fatal("should not be complete after one of two pieces")
	}
	if err := swarm.HandlePiece(99, 1, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("HandlePiece(1): %v", err)
	}
	if log.completeHits != 1 {
		t.Fatalf("completeHits = %d, want 1", log.completeHits)
	}
}

func TestOutstandingRequestAtMostOnePerPeer(t *testing.T) {
	swarm, _ := newTestSwarm(t)

	swarm.SetOutstanding(5, 0)
	if _, ok := swarm.Outstanding(5); !ok {
		t.Fatal("expected an outstanding request for peer 5")
	}
	swarm.SetOutstanding(5, 1)
	idx, ok := swarm.Outstanding(5)
	if !ok || idx != 1 {
		t.Fatalf("Outstanding(5) = %d, %v; want 1, true (overwrite, not append)", idx, ok)
	}

	swarm.ClearOutstanding(5)
	if _, ok := swarm.Outstanding(5); ok {
		t.Fatal("expected no outstanding request after Clear")
	}
}

func TestIsRequestedElsewhere(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	swarm.SetOutstanding(1, 3)
	if !swarm.IsRequestedElsewhere(3) {
		t.Fatal("piece 3 should be flagged as requested")
	}
	if swarm.IsRequestedElsewhere(4) {
		t.Fatal("piece 4 was never requested")
	}
}

func TestPreferredSetSizeInvariant(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	swarm.SetPreferred([]int{2, 3, 4})
	if len(swarm.Preferred()) != 3 {
		t.Fatalf("Preferred() size = %d, want 3", len(swarm.Preferred()))
	}
	swarm.SetPreferred([]int{2})
	if len(swarm.Preferred()) != 1 {
		t.Fatalf("Preferred() size = %d, want 1", len(swarm.Preferred()))
	}
}
