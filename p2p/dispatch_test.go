package p2p

import (
	"testing"
	"time"
)

// newTestSwarmWithData returns a swarm whose local store already holds piece
// 0, so REQUEST(0) can be served without going through a full download.
func newTestSwarmWithData(t *testing.T) (*Swarm, error) {
	swarm, _ := newTestSwarm(t)
	err := swarm.Store().Write(0, []byte{1, 2, 3, 4})
	return swarm, err
}

func TestDispatchChokeUnchokeTogglesAmChoked(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 4)
	swarm.AddLink(link)

	if err := swarm.Dispatch(link, Message{Type: MsgUnchoke}); err != nil {
		t.Fatalf("Dispatch(UNCHOKE): %v", err)
	}
	if link.AmChoked() {
		t.Fatal("expected am_choked = false after UNCHOKE")
	}

	if err := swarm.Dispatch(link, Message{Type: MsgChoke}); err != nil {
		t.Fatalf("Dispatch(CHOKE): %v", err)
	}
	if !link.AmChoked() {
		t.Fatal("expected am_choked = true after CHOKE")
	}
}

func TestDispatchInterestedNotInterestedTogglesPeerInterested(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 4)
	swarm.AddLink(link)

	if err := swarm.Dispatch(link, Message{Type: MsgInterested}); err != nil {
		t.Fatalf("Dispatch(INTERESTED): %v", err)
	}
	if !link.PeerInterested() {
		t.Fatal("expected peer_interested = true after INTERESTED")
	}

	if err := swarm.Dispatch(link, Message{Type: MsgNotInterested}); err != nil {
		t.Fatalf("Dispatch(NOT_INTERESTED): %v", err)
	}
	if link.PeerInterested() {
		t.Fatal("expected peer_interested = false after NOT_INTERESTED")
	}
}

func TestDispatchHaveSetsBitAndRecomputesInterest(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 4)
	swarm.AddLink(link)

	if err := swarm.Dispatch(link, HaveMessage(1)); err != nil {
		t.Fatalf("Dispatch(HAVE): %v", err)
	}
	if !link.peerBitfield.Has(1) {
		t.Fatal("expected remote bitfield bit 1 set after HAVE(1)")
	}
	if !link.AmInterested() {
		t.Fatal("local lacks piece 1, so am_interested should now be true")
	}
}

func TestDispatchBitfieldReplacesAndRecomputesInterest(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 2)
	swarm.AddLink(link)

	full := NewBitfield(2)
	full.Set(0)
	full.Set(1)

	if err := swarm.Dispatch(link, BitfieldMessage(full)); err != nil {
		t.Fatalf("Dispatch(BITFIELD): %v", err)
	}
	if !link.peerBitfield.Has(0) || !link.peerBitfield.Has(1) {
		t.Fatal("expected both bits set after BITFIELD replace")
	}
	if !link.AmInterested() {
		t.Fatal("local store is empty, remote has everything: should be interested")
	}
}

func TestDispatchRequestWhilePeerChokedIsDropped(t *testing.T) {
	swarm, err := newTestSwarmWithData(t)
	if err != nil {
		t.Fatalf("newTestSwarmWithData: %v", err)
	}
	link, remote := pipeLink(2, 2)
	defer remote.Close()
	swarm.AddLink(link)
	// peerChoked defaults to true: we have not unchoked remote.

	if err := swarm.Dispatch(link, RequestMessage(0)); err != nil {
		t.Fatalf("Dispatch(REQUEST): %v", err)
	}

	remote.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 64)
	if _, err := remote.Read(buf); err == nil {
		t.Fatal("expected no PIECE to arrive while the remote is still peer_choked")
	}
}

func TestDispatchRequestUnknownPieceIsDropped(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 4)
	_ = link.SendUnchoke()
	swarm.AddLink(link)

	if err := swarm.Dispatch(link, RequestMessage(0)); err != nil {
		t.Fatalf("Dispatch(REQUEST) for a piece we don't have should not error: %v", err)
	}
}

func TestDispatchRequestRespondsWithPieceWhenUnchokedAndPresent(t *testing.T) {
	swarm, err := newTestSwarmWithData(t)
	if err != nil {
		t.Fatalf("newTestSwarmWithData: %v", err)
	}
	link, remote := pipeLink(2, 2)
	defer remote.Close()
	swarm.AddLink(link)

	unchokeErrCh := make(chan error, 1)
	go func() { unchokeErrCh <- link.SendUnchoke() }()
	if m, err := ReadMessage(remote); err != nil || m.Type != MsgUnchoke {
		t.Fatalf("ReadMessage(UNCHOKE): %v, %v", m, err)
	}
	if err := <-unchokeErrCh; err != nil {
		t.Fatalf("SendUnchoke: %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- swarm.Dispatch(link, RequestMessage(0)) }()

	m, err := ReadMessage(remote)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if m.Type != MsgPiece {
		t.Fatalf("got message type %d, want MsgPiece", m.Type)
	}
	idx, data, err := ParsePiece(m)
	if err != nil {
		t.Fatalf("ParsePiece: %v", err)
	}
	if idx != 0 {
		t.Fatalf("piece index = %d, want 0", idx)
	}
	if len(data) != 4 {
		t.Fatalf("piece data length = %d, want 4", len(data))
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Dispatch(REQUEST): %v", err)
	}
}

func TestDispatchPieceDelegatesToHandlePiece(t *testing.T) {
	swarm, log := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 2)
	swarm.AddLink(link)

	if err := swarm.Dispatch(link, PieceMessage(0, []byte{9, 9, 9, 9})); err != nil {
		t.Fatalf("Dispatch(PIECE): %v", err)
	}
	if log.downloaded != 1 {
		t.Fatalf("downloaded = %d, want 1", log.downloaded)
	}
	if !swarm.Store().Has(0) {
		t.Fatal("expected the store to have piece 0 after a dispatched PIECE")
	}
}

func TestDispatchUnknownMessageTypeErrors(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link := pipeLinkDrained(t, 2, 4)
	swarm.AddLink(link)

	if err := swarm.Dispatch(link, Message{Type: 99}); err == nil {
		t.Fatal("expected an error for an unknown message type")
	}
}

func TestReceiveLoopRemovesLinkOnClose(t *testing.T) {
	swarm, _ := newTestSwarm(t)
	link, remote := pipeLink(2, 4)
	swarm.AddLink(link)

	done := make(chan struct{})
	go func() {
		swarm.ReceiveLoop(link)
		close(done)
	}()

	remote.Close()
	<-done

	if _, ok := swarm.Link(2); ok {
		t.Fatal("expected the link to be removed from the swarm after the connection closed")
	}
}
