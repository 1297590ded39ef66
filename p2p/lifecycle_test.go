package p2p

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arjuncodes/peerctl/config"
)

func freeTCPPort(t *testing.T) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("freeTCPPort: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeSeedFile(t *testing.T, dir, name string, data []byte) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

// TestTwoPeerDownloadCompletes exercises the S1 scenario end to end: a
// seeding peer with the full file and a leeching peer with none of it,
// connected over real loopback TCP, converge to both holding every piece.
func TestTwoPeerDownloadCompletes(t *testing.T) {
	seedPort := freeTCPPort(t)
	leechPort := freeTCPPort(t)

	roster := []config.PeerDescriptor{
		{ID: 1, Host: "127.0.0.1", Port: seedPort, HasFile: true},
		{ID: 2, Host: "127.0.0.1", Port: leechPort, HasFile: false},
	}
	params := config.RunParameters{
		PreferredNeighborCount: 1,
		UnchokeInterval:        50 * time.Millisecond,
		OptimisticInterval:     50 * time.Millisecond,
		FileName:               "shared.dat",
		FileSize:               16,
		PieceSize:              4,
	}

	content := []byte("ABCDEFGHIJKLMNOP")
	seedDir := t.TempDir()
	writeSeedFile(t, seedDir, params.FileName, content)
	leechDir := t.TempDir()

	seed, err := NewController(seedDir, 1, roster, params)
	if err != nil {
		t.Fatalf("NewController(seed): %v", err)
	}
	leech, err := NewController(leechDir, 2, roster, params)
	if err != nil {
		t.Fatalf("NewController(leech): %v", err)
	}

	seedDone := make(chan error, 1)
	leechDone := make(chan error, 1)
	go func() { seedDone <- seed.Run() }()
	// Give the seed's listener a moment to bind before the leecher dials it.
	time.Sleep(50 * time.Millisecond)
	go func() { leechDone <- leech.Run() }()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		if seed.store.Complete() && leech.store.Complete() {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("download did not complete in time: seed complete=%v, leech complete=%v",
				seed.store.Complete(), leech.store.Complete())
		case <-tick.C:
		}
	}

	got, err := leech.store.Read(0)
	if err != nil {
		t.Fatalf("leech.store.Read(0): %v", err)
	}
	if string(got) != string(content[0:4]) {
		t.Fatalf("leech piece 0 = %q, want %q", got, content[0:4])
	}

	seed.Shutdown()
	leech.Shutdown()
	if err := <-seedDone; err != nil {
		t.Fatalf("seed.Run returned error: %v", err)
	}
	if err := <-leechDone; err != nil {
		t.Fatalf("leech.Run returned error: %v", err)
	}
}

// TestSwarmCompleteScopedToConnectedLinks confirms the documented scoping
// decision: swarmComplete only checks currently-connected links, so a peer
// that already finished and disconnected cannot stall the check forever.
func TestSwarmCompleteScopedToConnectedLinks(t *testing.T) {
	roster := []config.PeerDescriptor{
		{ID: 1, Host: "127.0.0.1", Port: freeTCPPort(t), HasFile: false},
	}
	params := config.RunParameters{
		FileName:  "shared.dat",
		FileSize:  8,
		PieceSize: 4,
	}
	dir := t.TempDir()
	c, err := NewController(dir, 1, roster, params)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.store.Close()
	defer c.log.Close()

	if c.swarmComplete() {
		t.Fatal("an empty local store must not report complete")
	}

	if err := c.store.Write(0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("store.Write: %v", err)
	}
	if err := c.store.Write(1, []byte{5, 6, 7, 8}); err != nil {
		t.Fatalf("store.Write: %v", err)
	}
	if !c.swarmComplete() {
		t.Fatal("local store is full and there are no connected links: should be complete")
	}

	link := pipeLinkDrained(t, 2, 2)
	c.swarm.AddLink(link)
	if c.swarmComplete() {
		t.Fatal("a connected link with an empty bitfield must block completion")
	}

	link.peerBitfield.Set(0)
	link.peerBitfield.Set(1)
	if !c.swarmComplete() {
		t.Fatal("once the connected link's bitfield is also full, the swarm should report complete")
	}

	c.swarm.RemoveLink(2)
	if !c.swarmComplete() {
		t.Fatal("a disconnected link must not keep blocking completion")
	}
}

// TestHandleInboundRejectsPeerOutsideRoster exercises S4: a handshake
// declaring an id not present in the roster must be closed without a return
// handshake, never registered as a link.
func TestHandleInboundRejectsPeerOutsideRoster(t *testing.T) {
	roster := []config.PeerDescriptor{
		{ID: 1, Host: "127.0.0.1", Port: freeTCPPort(t), HasFile: false},
	}
	params := config.RunParameters{
		FileName:  "shared.dat",
		FileSize:  8,
		PieceSize: 4,
	}
	dir := t.TempDir()
	c, err := NewController(dir, 1, roster, params)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	defer c.store.Close()
	defer c.log.Close()

	client, server := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		c.handleInbound(server)
		close(done)
	}()

	if _, err := client.Write(BuildHandshake(99)); err != nil {
		t.Fatalf("client.Write: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, handshakeLen)
	if _, err := client.Read(buf); err == nil {
		t.Fatal("expected no return handshake for a peer outside the roster")
	}
	<-done

	if _, ok := c.swarm.Link(99); ok {
		t.Fatal("a rejected handshake must never be registered as a link")
	}
}
