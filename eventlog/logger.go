// Package eventlog records the fixed set of peer events to a per-peer log
// file in the exact sentence format of the original Logger, with an
// optional Redis mirror for live swarm dashboards.
package eventlog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const timeLayout = "2006-01-02 15:04:05"

// Logger writes one line per event to log_<peerId>.log, truncated on start,
// and optionally mirrors some of those events as Redis hash writes.
type Logger struct {
	mu     sync.Mutex
	peerID int
	file   *os.File

	redis *redis.Client
	rctx  context.Context
}

// Open truncates (or creates) log_<peerId>.log in dir. If redisAddr is
// non-empty, connection, neighbor-change, piece-count and completion events
// are additionally mirrored to that Redis instance; choke, unchoke, have and
// interest events are written to the log file only.
func Open(dir string, peerID int, redisAddr string) (*Logger, error) {
	path := fmt.Sprintf("%s/log_%d.log", strings.TrimRight(dir, "/"), peerID)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventlog: opening %s: %w", path, err)
	}

	l := &Logger{peerID: peerID, file: f}

	if redisAddr != "" {
		l.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
		l.rctx = context.Background()
	}

	return l, nil
}

func (l *Logger) now() string { return time.Now().Format(timeLayout) }

func (l *Logger) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.file, line)
	l.file.Sync()
}

// mirror pushes the latest value of a named field for this peer into Redis,
// so a dashboard tailing many peers can read current state without reading
// log files. Best-effort: errors are swallowed, mirroring is observability
// only and must never affect protocol behavior.
func (l *Logger) mirror(field, value string) {
	if l.redis == nil {
		return
	}
	key := fmt.Sprintf("peerctl:peer:%d", l.peerID)
	pipe := l.redis.Pipeline()
	pipe.HSet(l.rctx, key, field, value)
	pipe.HSet(l.rctx, key, "last_event_at", time.Now().Unix())
	pipe.Expire(l.rctx, key, 30*time.Minute)
	pipe.Exec(l.rctx)
}

func (l *Logger) TCPConnectionMade(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d makes a connection to Peer %d.", l.now(), l.peerID, otherPeerID))
	l.mirror("last_connected_to", strconv.Itoa(otherPeerID))
}

func (l *Logger) TCPConnectionReceived(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d is connected from Peer %d.", l.now(), l.peerID, otherPeerID))
	l.mirror("last_connected_from", strconv.Itoa(otherPeerID))
}

func (l *Logger) PreferredNeighborsChanged(ids []int) {
	var sb bytes.Buffer
	for i, id := range ids {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(id))
	}
	l.write(fmt.Sprintf("%s: Peer %d has the preferred neighbors [%s].", l.now(), l.peerID, sb.String()))
	l.mirror("preferred_neighbors", sb.String())
}

func (l *Logger) OptimisticNeighborChanged(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d has the optimistically unchoked neighbor %d.", l.now(), l.peerID, otherPeerID))
	l.mirror("optimistic_neighbor", strconv.Itoa(otherPeerID))
}

func (l *Logger) Unchoked(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d is unchoked by %d.", l.now(), l.peerID, otherPeerID))
}

func (l *Logger) Choked(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d is choked by %d.", l.now(), l.peerID, otherPeerID))
}

func (l *Logger) ReceivedHave(otherPeerID, pieceIndex int) {
	l.write(fmt.Sprintf("%s: Peer %d received the 'have' message from %d for the piece %d.", l.now(), l.peerID, otherPeerID, pieceIndex))
}

func (l *Logger) ReceivedInterested(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d received the 'interested' message from %d.", l.now(), l.peerID, otherPeerID))
}

func (l *Logger) ReceivedNotInterested(otherPeerID int) {
	l.write(fmt.Sprintf("%s: Peer %d received the 'not interested' message from %d.", l.now(), l.peerID, otherPeerID))
}

func (l *Logger) DownloadedPiece(pieceIndex, otherPeerID, numberOfPieces int) {
	l.write(fmt.Sprintf("%s: Peer %d has downloaded the piece %d from %d. Now the number of pieces it has is %d.", l.now(), l.peerID, pieceIndex, otherPeerID, numberOfPieces))
	l.mirror("pieces_have", strconv.Itoa(numberOfPieces))
}

func (l *Logger) DownloadComplete() {
	l.write(fmt.Sprintf("%s: Peer %d has downloaded the complete file.", l.now(), l.peerID))
	l.mirror("complete", "1")
}

// Close flushes and closes the log file and any Redis connection.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.redis != nil {
		l.redis.Close()
	}
	return l.file.Close()
}
