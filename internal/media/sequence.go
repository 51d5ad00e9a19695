package media

// SequenceTracker follows the inbound RTP sequence number space for one
// stream. RTP sequence numbers are 16-bit and wrap at 65535; the tracker
// keeps an extended 32-bit counter across rollovers and counts packets that
// were skipped over, per RFC 3550 Appendix A.
type SequenceTracker struct {
	initialized bool
	lastSeq     uint16
	cycles      uint32
	lost        uint64
	received    uint64
}

// Update records a received sequence number. It returns the extended 32-bit
// sequence (rollover count in the upper bits) and how many packets were
// skipped since the previous one.
func (s *SequenceTracker) Update(seq uint16) (extended uint32, lost int) {
	s.received++

	if !s.initialized {
		s.initialized = true
		s.lastSeq = seq
		return uint32(seq), 0
	}

	// Forward distance in uint16 space, reinterpreted as signed to tell
	// a jump ahead from a late or duplicate packet.
	diff := int16(seq - s.lastSeq)
	if diff > 1 {
		lost = int(diff) - 1
		s.lost += uint64(lost)
	}

	if s.lastSeq > 0xF000 && seq < 0x1000 {
		s.cycles++
	}

	s.lastSeq = seq
	return (s.cycles << 16) | uint32(seq), lost
}

// Stats returns cumulative received and lost packet counts.
func (s *SequenceTracker) Stats() (received, lost uint64) {
	return s.received, s.lost
}

// LossRate returns the packet loss rate as a fraction between 0 and 1.
func (s *SequenceTracker) LossRate() float64 {
	total := s.received + s.lost
	if total == 0 {
		return 0
	}
	return float64(s.lost) / float64(total)
}
