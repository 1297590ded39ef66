package p2p

import "fmt"

// Dispatch implements §4.2's "Dispatch on receive" table for a single
// message arriving on link l. It is called from that link's receive loop,
// or, for a message that arrives during connection setup, from the setup
// path before that loop starts; either way only one goroutine at a time
// writes l's peer bitfield.
func (s *Swarm) Dispatch(l *PeerLink, m Message) error {
	switch m.Type {
	case MsgChoke:
		l.SetAmChoked(true)
		s.log.Choked(l.ID)

	case MsgUnchoke:
		l.SetAmChoked(false)
		s.log.Unchoked(l.ID)

	case MsgInterested:
		l.SetPeerInterested(true)
		s.log.ReceivedInterested(l.ID)

	case MsgNotInterested:
		l.SetPeerInterested(false)
		s.log.ReceivedNotInterested(l.ID)

	case MsgHave:
		idx, err := ParseHave(m)
		if err != nil {
			return err
		}
		l.peerBitfield.Set(idx)
		s.log.ReceivedHave(l.ID, idx)
		_ = l.UpdateInterest(s.store.Bitfield())

	case MsgBitfield:
		l.peerBitfield.ReplaceFrom(m.Payload)
		_ = l.UpdateInterest(s.store.Bitfield())

	case MsgRequest:
		idx, err := ParseRequest(m)
		if err != nil {
			return err
		}
		if l.PeerChoked() {
			return nil // remote must retry after a future unchoke
		}
		if !s.store.Has(idx) {
			return nil
		}
		data, err := s.store.Read(idx)
		if err != nil {
			return err
		}
		return l.Send(PieceMessage(idx, data))

	case MsgPiece:
		idx, data, err := ParsePiece(m)
		if err != nil {
			return err
		}
		return s.HandlePiece(l.ID, idx, data)

	default:
		return fmt.Errorf("p2p: unknown message type %d from peer %d", m.Type, l.ID)
	}

	return nil
}

// ReceiveLoop owns the read direction of l exclusively; it runs until a
// framing error or closed connection, at which point it removes l from the
// swarm and returns.
func (s *Swarm) ReceiveLoop(l *PeerLink) {
	defer s.RemoveLink(l.ID)
	for {
		m, err := l.Receive()
		if err != nil {
			return
		}
		if err := s.Dispatch(l, m); err != nil {
			return
		}
	}
}
