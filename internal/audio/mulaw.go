package audio

import "github.com/zaf/g711"

// DecodeMulaw expands G.711 mu-law bytes (telephony media payloads) into PCM16.
func DecodeMulaw(payload []byte) []int16 {
	if len(payload) == 0 {
		return nil
	}
	return PCM16FromBytes(g711.DecodeUlaw(payload))
}

// EncodeMulaw compresses PCM16 into G.711 mu-law bytes.
func EncodeMulaw(samples []int16) []byte {
	if len(samples) == 0 {
		return nil
	}
	return g711.EncodeUlaw(PCM16ToBytes(samples))
}
