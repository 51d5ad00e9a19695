package session

import (
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// RemoteMedia is what a session needs from the peer's session description:
// where to send media, and the peer's SRTP keying material if offered.
type RemoteMedia struct {
	IP   string
	Port int

	// CryptoKey is the base64 key+salt from the audio section's crypto
	// attribute; empty when the offer did not carry one (the key may
	// instead arrive in a later message).
	CryptoKey string
}

// ParseOffer extracts the remote audio endpoint from an SDP body. A missing
// connection address or audio section is a MalformedOffer: fatal, reported
// before any socket is opened.
func ParseOffer(body []byte) (RemoteMedia, error) {
	if len(body) == 0 {
		return RemoteMedia{}, &OfferError{Field: "session description body"}
	}

	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal(body); err != nil {
		return RemoteMedia{}, &OfferError{Field: "sdp syntax", Cause: err}
	}

	audio := findAudioSection(desc)
	if audio == nil {
		return RemoteMedia{}, &OfferError{Field: "m=audio"}
	}
	if audio.MediaName.Port.Value == 0 {
		return RemoteMedia{}, &OfferError{Field: "m=audio port"}
	}

	ip := connectionAddress(desc, audio)
	if ip == "" {
		return RemoteMedia{}, &OfferError{Field: "c= connection address"}
	}

	return RemoteMedia{
		IP:        ip,
		Port:      audio.MediaName.Port.Value,
		CryptoKey: cryptoKey(audio),
	}, nil
}

func findAudioSection(desc *sdp.SessionDescription) *sdp.MediaDescription {
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media == "audio" {
			return m
		}
	}
	return nil
}

// connectionAddress prefers the media-level c= line, falling back to the
// session-level one.
func connectionAddress(desc *sdp.SessionDescription, audio *sdp.MediaDescription) string {
	if audio.ConnectionInformation != nil && audio.ConnectionInformation.Address != nil {
		return audio.ConnectionInformation.Address.Address
	}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		return desc.ConnectionInformation.Address.Address
	}
	return ""
}

// cryptoKey pulls the inline base64 keying material out of an SDES crypto
// attribute: "1 AES_CM_128_HMAC_SHA1_80 inline:<key>[|lifetime...]".
func cryptoKey(audio *sdp.MediaDescription) string {
	for _, attr := range audio.Attributes {
		if attr.Key != "crypto" {
			continue
		}
		fields := strings.Fields(attr.Value)
		for _, f := range fields {
			if !strings.HasPrefix(f, "inline:") {
				continue
			}
			key := strings.TrimPrefix(f, "inline:")
			if i := strings.IndexByte(key, '|'); i >= 0 {
				key = key[:i]
			}
			return key
		}
	}
	return ""
}

// BuildAnswerSDP builds the answer describing our media endpoint, offering
// PCMU plus telephone-event and our SRTP keying material.
func BuildAnswerSDP(localIP string, localPort int, cryptoKeyB64 string) ([]byte, error) {
	desc := &sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "dialtone",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "dialtone call",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: localPort},
					Protos:  []string{"RTP", "SAVP"},
					Formats: []string{"0", "101"},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: "0 PCMU/8000"},
					{Key: "rtpmap", Value: "101 telephone-event/8000"},
					{Key: "fmtp", Value: "101 0-15"},
					{Key: "crypto", Value: "1 AES_CM_128_HMAC_SHA1_80 inline:" + cryptoKeyB64},
					{Key: "ptime", Value: "20"},
					{Key: "sendrecv"},
				},
			},
		},
	}

	body, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal answer sdp: %w", err)
	}
	return body, nil
}
