// Package config loads the whitespace-delimited Common.cfg and PeerInfo.cfg
// files that describe a run, grounded on the original CommonConfig/PeerInfo
// readers this peer implementation was distilled from.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RunParameters holds the immutable settings parsed from Common.cfg, plus
// the derived piece count.
type RunParameters struct {
	PreferredNeighborCount int
	UnchokeInterval        time.Duration
	OptimisticInterval     time.Duration
	FileName               string
	FileSize               int64
	PieceSize              int
	PieceCount             int

	// MetricsRedisAddr, when non-empty, enables the optional event-log
	// Redis mirror. Unknown to the original format; ignored by readers
	// that don't look for it, per the "unknown keys ignored" rule.
	MetricsRedisAddr string
}

// LoadCommon parses Common.cfg at path.
func LoadCommon(path string) (RunParameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return RunParameters{}, fmt.Errorf("config: Common.cfg not found at %s: %w", path, err)
	}
	defer f.Close()

	var rp RunParameters
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		key, value := parts[0], parts[1]

		switch key {
		case "NumberOfPreferredNeighbors":
			rp.PreferredNeighborCount, err = strconv.Atoi(value)
		case "UnchokingInterval":
			var secs int
			secs, err = strconv.Atoi(value)
			rp.UnchokeInterval = time.Duration(secs) * time.Second
		case "OptimisticUnchokingInterval":
			var secs int
			secs, err = strconv.Atoi(value)
			rp.OptimisticInterval = time.Duration(secs) * time.Second
		case "FileName":
			rp.FileName = value
		case "FileSize":
			rp.FileSize, err = strconv.ParseInt(value, 10, 64)
		case "PieceSize":
			rp.PieceSize, err = strconv.Atoi(value)
		case "MetricsRedisAddr":
			rp.MetricsRedisAddr = value
		default:
			// unknown keys ignored
		}
		if err != nil {
			return RunParameters{}, fmt.Errorf("config: parsing %q=%q: %w", key, value, err)
		}
	}
	if err := sc.Err(); err != nil {
		return RunParameters{}, fmt.Errorf("config: reading Common.cfg: %w", err)
	}

	if rp.PieceSize <= 0 {
		return RunParameters{}, fmt.Errorf("config: PieceSize must be positive")
	}
	rp.PieceCount = int((rp.FileSize + int64(rp.PieceSize) - 1) / int64(rp.PieceSize))

	return rp, nil
}
