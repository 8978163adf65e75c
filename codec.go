package callmgr

import (
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// maxPacketSize bounds the size of one encoded opus packet.
const maxPacketSize = 4000

// Codec wraps an opus encoder/decoder pair for one call's audio frames.
// A Codec is not safe for concurrent use; OpenAudioChan owns one per call.
type Codec struct {
	enc *opus.Encoder
	dec *opus.Decoder
	buf []byte
}

func NewCodec(sampleRate int) (*Codec, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder init fail: %s", err.Error())
	}
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("opus decoder init fail: %s", err.Error())
	}
	return &Codec{
		enc: enc,
		dec: dec,
		buf: make([]byte, maxPacketSize),
	}, nil
}

// Encode compresses one PCM frame. The returned slice aliases the codec's
// internal buffer and is only valid until the next Encode call.
func (c *Codec) Encode(pcm []int16) ([]byte, error) {
	n, err := c.enc.Encode(pcm, c.buf)
	if err != nil {
		return nil, err
	}
	return c.buf[:n], nil
}

// Decode decompresses one opus packet into `pcm`, returning the number of
// samples written.
func (c *Codec) Decode(data []byte, pcm []int16) (int, error) {
	return c.dec.Decode(data, pcm)
}
