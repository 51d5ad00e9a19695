package session

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 30 bytes of keying material, base64.
const testCryptoKey = "MDEyMzQ1Njc4OWFiY2RlZmdoaWprbG1ub3BxcnN0"

func offerSDP(lines ...string) []byte {
	base := []string{
		"v=0",
		"o=caller 123 456 IN IP4 198.51.100.5",
		"s=call",
		"t=0 0",
	}
	return []byte(strings.Join(append(base, lines...), "\r\n") + "\r\n")
}

func TestParseOffer(t *testing.T) {
	body := offerSDP(
		"c=IN IP4 198.51.100.5",
		"m=audio 49170 RTP/SAVP 0 101",
		"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:"+testCryptoKey+"|2^20|1:32",
	)

	remote, err := ParseOffer(body)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.5", remote.IP)
	assert.Equal(t, 49170, remote.Port)
	assert.Equal(t, testCryptoKey, remote.CryptoKey)
}

func TestParseOfferMediaLevelConnectionWins(t *testing.T) {
	body := offerSDP(
		"c=IN IP4 198.51.100.5",
		"m=audio 49170 RTP/SAVP 0",
		"c=IN IP4 203.0.113.9",
	)

	remote, err := ParseOffer(body)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.9", remote.IP)
}

func TestParseOfferWithoutCrypto(t *testing.T) {
	body := offerSDP(
		"c=IN IP4 198.51.100.5",
		"m=audio 49170 RTP/AVP 0",
	)

	remote, err := ParseOffer(body)
	require.NoError(t, err)
	assert.Empty(t, remote.CryptoKey)
}

func TestParseOfferMalformed(t *testing.T) {
	cases := []struct {
		name string
		body []byte
	}{
		{"empty body", nil},
		{"not sdp", []byte("hello world")},
		{"no audio section", offerSDP("c=IN IP4 198.51.100.5", "m=video 5000 RTP/AVP 96")},
		{"zero audio port", offerSDP("c=IN IP4 198.51.100.5", "m=audio 0 RTP/SAVP 0")},
		{"no connection address", offerSDP("m=audio 49170 RTP/SAVP 0")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseOffer(tc.body)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedOffer)
		})
	}
}

func TestBuildAnswerSDPRoundTrips(t *testing.T) {
	body, err := BuildAnswerSDP("192.0.2.10", 40000, testCryptoKey)
	require.NoError(t, err)

	remote, err := ParseOffer(body)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", remote.IP)
	assert.Equal(t, 40000, remote.Port)
	assert.Equal(t, testCryptoKey, remote.CryptoKey)

	text := string(body)
	assert.Contains(t, text, "RTP/SAVP")
	assert.Contains(t, text, "a=rtpmap:101 telephone-event/8000")
	assert.Contains(t, text, "a=ptime:20")
}

func TestOfferErrorMessage(t *testing.T) {
	err := &OfferError{Field: "m=audio"}
	assert.Contains(t, err.Error(), "m=audio")

	wrapped := &OfferError{Field: "sdp syntax", Cause: fmt.Errorf("boom")}
	assert.Contains(t, wrapped.Error(), "boom")
	assert.ErrorIs(t, wrapped, ErrMalformedOffer)
}
