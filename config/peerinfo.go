package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// PeerDescriptor is one line of PeerInfo.cfg: peerId hostName listeningPort hasFile.
type PeerDescriptor struct {
	ID       int
	Host     string
	Port     int
	HasFile  bool
}

// LoadRoster parses PeerInfo.cfg at path. Line order is preserved; it is
// significant (it defines dial order: a peer dials every peer with a
// strictly lower id, in this order).
func LoadRoster(path string) ([]PeerDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: PeerInfo.cfg not found at %s: %w", path, err)
	}
	defer f.Close()

	var roster []PeerDescriptor
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 4 {
			continue
		}

		id, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("config: invalid peer id %q: %w", parts[0], err)
		}
		port, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("config: invalid listening port %q: %w", parts[2], err)
		}

		roster = append(roster, PeerDescriptor{
			ID:      id,
			Host:    parts[1],
			Port:    port,
			HasFile: parts[3] == "1",
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: reading PeerInfo.cfg: %w", err)
	}

	return roster, nil
}

// Find returns the descriptor for peerID, if present in the roster.
func Find(roster []PeerDescriptor, peerID int) (PeerDescriptor, bool) {
	for _, d := range roster {
		if d.ID == peerID {
			return d, true
		}
	}
	return PeerDescriptor{}, false
}
