package media

import (
	"encoding/binary"
	"fmt"
)

// DTMFEvent represents an RFC 4733 telephone-event payload.
// The payload format is 4 bytes:
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|     event     |E|R| volume    |          duration             |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
type DTMFEvent struct {
	Event      uint8  // 0-9 for digits, 10 for '*', 11 for '#'
	EndOfEvent bool   // E bit: marks final packet of event
	Volume     uint8  // 0-63, expressed in dBm0 (typically 10)
	Duration   uint16 // Duration in timestamp units
}

// Keypad event codes per RFC 4733 Section 3.2.
const (
	eventStar  uint8 = 10
	eventPound uint8 = 11
)

// Default DTMF parameters
const (
	DefaultDTMFVolume uint8  = 10  // -10 dBm0
	DTMFPayloadType   uint8  = 101 // Common default for telephone-event
	DTMFSampleRate    uint32 = 8000

	// dtmfStepSamples is the duration increment between successive
	// packets of one event: 20ms at 8kHz.
	dtmfStepSamples uint16 = 160

	// dtmfEndRedundancy is how many copies of the end-of-event packet
	// a digit burst carries, per RFC 4733 Section 2.5.1.4.
	dtmfEndRedundancy = 3
)

// DigitToEvent converts a keypad character to its telephone-event code.
// Only the characters 0-9, '*' and '#' are supported.
func DigitToEvent(digit rune) (uint8, bool) {
	switch {
	case digit >= '0' && digit <= '9':
		return uint8(digit - '0'), true
	case digit == '*':
		return eventStar, true
	case digit == '#':
		return eventPound, true
	}
	return 0, false
}

// EventToDigit converts a telephone-event code back to its keypad character.
func EventToDigit(event uint8) (rune, bool) {
	switch {
	case event <= 9:
		return rune('0' + event), true
	case event == eventStar:
		return '*', true
	case event == eventPound:
		return '#', true
	}
	return 0, false
}

// Encode serializes the event to the RFC 4733 4-byte wire format.
func (e DTMFEvent) Encode() []byte {
	b := make([]byte, 4)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F // volume is 6 bits
	if e.EndOfEvent {
		b[1] |= 0x80 // E bit
	}
	binary.BigEndian.PutUint16(b[2:], e.Duration)
	return b
}

// DecodeDTMFEvent decodes an RFC 4733 4-byte payload into a DTMFEvent.
func DecodeDTMFEvent(payload []byte) (DTMFEvent, error) {
	if len(payload) < 4 {
		return DTMFEvent{}, fmt.Errorf("dtmf payload too short: %d bytes", len(payload))
	}
	return DTMFEvent{
		Event:      payload[0],
		EndOfEvent: (payload[1] & 0x80) != 0,
		Volume:     payload[1] & 0x3F,
		Duration:   binary.BigEndian.Uint16(payload[2:]),
	}, nil
}

// String returns a human-readable representation of the event.
func (e DTMFEvent) String() string {
	digit, ok := EventToDigit(e.Event)
	if !ok {
		digit = '?'
	}
	endStr := ""
	if e.EndOfEvent {
		endStr = " END"
	}
	return fmt.Sprintf("DTMF '%c' vol=%d dur=%d%s", digit, e.Volume, e.Duration, endStr)
}

// DigitToPayloads encodes one keypad character as a burst of telephone-event
// payloads: three interim packets with ascending duration followed by three
// redundant end-of-event packets carrying the total duration. The caller
// sends one payload per RTP packet, all with the same timestamp.
func DigitToPayloads(digit rune) ([][]byte, error) {
	event, ok := DigitToEvent(digit)
	if !ok {
		return nil, fmt.Errorf("invalid dtmf digit %q", digit)
	}

	var payloads [][]byte
	duration := dtmfStepSamples
	for i := 0; i < 3; i++ {
		evt := DTMFEvent{
			Event:    event,
			Volume:   DefaultDTMFVolume,
			Duration: duration,
		}
		payloads = append(payloads, evt.Encode())
		duration += dtmfStepSamples
	}

	end := DTMFEvent{
		Event:      event,
		EndOfEvent: true,
		Volume:     DefaultDTMFVolume,
		Duration:   duration,
	}
	for i := 0; i < dtmfEndRedundancy; i++ {
		payloads = append(payloads, end.Encode())
	}
	return payloads, nil
}

// DigitFromPayload decodes a single telephone-event payload into its keypad
// character. Returns false for malformed payloads or unrecognized events.
func DigitFromPayload(payload []byte) (rune, bool) {
	evt, err := DecodeDTMFEvent(payload)
	if err != nil {
		return 0, false
	}
	return EventToDigit(evt.Event)
}
