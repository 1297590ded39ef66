package p2p

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store is a file-backed piece store: an indexed byte range per piece plus a
// local bitfield of which pieces are present. Grounded on the teacher's
// PieceManager, generalized from an in-memory map to a single backing file
// addressed by piece offset (the original Java FileManager's model).
type Store struct {
	mu         sync.Mutex
	file       *os.File
	pieceSize  int
	fileSize   int64
	numPieces  int
	bitfield   *Bitfield
}

// OpenStore opens (seeding) or creates (leeching) the shared file at
// dir/fileName, sized to fileSize bytes, divided into pieceSize-byte pieces.
// When hasFile is true the file must already exist and the bitfield starts
// all-ones; otherwise the file is created/extended and the bitfield starts
// all-zeros.
func OpenStore(dir, fileName string, fileSize int64, pieceSize int, hasFile bool) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("p2p: creating peer directory %s: %w", dir, err)
	}

	numPieces := int((fileSize + int64(pieceSize) - 1) / int64(pieceSize))
	path := filepath.Join(dir, fileName)

	var f *os.File
	if hasFile {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("p2p: seed file should exist: %w", err)
		}
		if info.Size() != fileSize {
			return nil, fmt.Errorf("p2p: seed file %s has size %d, expected %d", path, info.Size(), fileSize)
		}
		f, err = os.OpenFile(path, os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("p2p: opening seed file: %w", err)
		}
	} else {
		var err error
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
		if err != nil {
			return nil, fmt.Errorf("p2p: creating file: %w", err)
		}
		if err := f.Truncate(fileSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("p2p: preallocating file to %d bytes: %w", fileSize, err)
		}
	}

	bf := NewBitfield(numPieces)
	if hasFile {
		for i := 0; i < numPieces; i++ {
			bf.Set(i)
		}
	}

	return &Store{
		file:      f,
		pieceSize: pieceSize,
		fileSize:  fileSize,
		numPieces: numPieces,
		bitfield:  bf,
	}, nil
}

// NumPieces returns the derived piece count N.
func (s *Store) NumPieces() int { return s.numPieces }

// pieceLen returns the actual byte length of piece i (the last piece may be
// shorter than pieceSize).
func (s *Store) pieceLen(i int) int {
	if i == s.numPieces-1 {
		remainder := s.fileSize % int64(s.pieceSize)
		if remainder != 0 {
			return int(remainder)
		}
	}
	return s.pieceSize
}

// Has reports whether piece i is present in the local bitfield.
func (s *Store) Has(i int) bool { return s.bitfield.Has(i) }

// Bitfield returns the live bitfield handle (callers must only read it).
func (s *Store) Bitfield() *Bitfield { return s.bitfield }

// Complete reports whether every piece has been received.
func (s *Store) Complete() bool { return s.bitfield.Complete() }

// Read returns the bytes of piece i. Errors if the piece is not present.
func (s *Store) Read(i int) ([]byte, error) {
	if i < 0 || i >= s.numPieces {
		return nil, fmt.Errorf("p2p: piece index %d out of range", i)
	}
	if !s.Has(i) {
		return nil, fmt.Errorf("p2p: piece %d not available", i)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.pieceLen(i)
	buf := make([]byte, n)
	offset := int64(i) * int64(s.pieceSize)
	if _, err := s.file.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("p2p: reading piece %d: %w", i, err)
	}
	return buf, nil
}

// Write stores data as piece i, flushes it to stable storage, then marks the
// bit. The durability order (flush before bit-set) matches §4.3's
// write-then-flush-then-credit sequencing.
func (s *Store) Write(i int, data []byte) error {
	if i < 0 || i >= s.numPieces {
		return fmt.Errorf("p2p: piece index %d out of range", i)
	}

	s.mu.Lock()
	offset := int64(i) * int64(s.pieceSize)
	if _, err := s.file.WriteAt(data, offset); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("p2p: writing piece %d: %w", i, err)
	}
	err := s.file.Sync()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("p2p: syncing piece %d to disk: %w", i, err)
	}

	s.bitfield.Set(i)
	return nil
}

// Close releases the backing file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
