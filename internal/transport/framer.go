package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/metrics"
)

const (
	// lengthPrefixSize is the stream frame header: a little-endian uint32.
	lengthPrefixSize = 4

	// rtpHeaderSize is the fixed RTP header without CSRCs or extensions.
	rtpHeaderSize = 12

	// payloadTypeMessage is the dynamic RTP payload type carrying messages.
	payloadTypeMessage = 96
)

// Framer turns payloads into wire frames and back.
type Framer interface {
	// Overhead is the number of bytes a frame adds to its payload.
	Overhead() int

	// Encode writes one complete frame for payload into dst, replacing its contents.
	Encode(dst *buffer.Arena, payload []byte) error

	// Decode extracts the next complete payload from src into dst. It
	// returns nil, nil when no complete message is available yet. The
	// returned slice aliases dst.
	Decode(src Socket, dst *buffer.Arena) ([]byte, error)

	// Reset drops any partially decoded state.
	Reset()
}

func newFramer(network string, maxMessageSize int) Framer {
	if network == "udp" {
		return newDatagramFramer(maxMessageSize)
	}
	return &streamFramer{max: maxMessageSize}
}

// streamFramer implements length-prefixed framing over a byte stream.
//
// nextMessageSize is 0 while waiting for a header. Once the 4 header bytes
// are available they are consumed and the size is remembered, so a body
// arriving over several polls never causes the header to be read twice.
type streamFramer struct {
	max             int
	nextMessageSize int
	header          [lengthPrefixSize]byte
}

func (f *streamFramer) Overhead() int { return lengthPrefixSize }

func (f *streamFramer) Encode(dst *buffer.Arena, payload []byte) error {
	dst.Reset()
	hdr, err := dst.Reserve(lengthPrefixSize)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(hdr, uint32(len(payload)))
	return dst.Append(payload)
}

func (f *streamFramer) Decode(src Socket, dst *buffer.Arena) ([]byte, error) {
	if f.nextMessageSize == 0 {
		if src.Available() < lengthPrefixSize {
			return nil, nil
		}
		if err := readFull(src, f.header[:]); err != nil {
			return nil, err
		}
		size := int(binary.LittleEndian.Uint32(f.header[:]))
		if size == 0 || size > f.max {
			return nil, &FrameError{Size: size, Max: f.max}
		}
		f.nextMessageSize = size
	}

	if src.Available() < f.nextMessageSize {
		return nil, nil
	}

	dst.Reset()
	body, err := dst.Reserve(f.nextMessageSize)
	if err != nil {
		return nil, err
	}
	if err := readFull(src, body); err != nil {
		return nil, err
	}
	f.nextMessageSize = 0
	return body, nil
}

func (f *streamFramer) Reset() { f.nextMessageSize = 0 }

// readFull reads exactly len(p) bytes that Available already promised.
func readFull(src io.Reader, p []byte) error {
	for len(p) > 0 {
		n, err := src.Read(p)
		p = p[n:]
		if err != nil && len(p) > 0 {
			if errors.Is(err, buffer.ErrWouldBlock) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// datagramFramer carries one payload per RTP packet. The sequence number
// lets the receiver drop duplicated and reordered-stale datagrams; a new
// SSRC from the same endpoint restarts tracking.
type datagramFramer struct {
	max   int
	ssrc  uint32
	seq   uint16
	epoch time.Time

	remoteSSRC uint32
	lastSeq    uint16
	haveSeq    bool
}

func newDatagramFramer(maxMessageSize int) *datagramFramer {
	return &datagramFramer{
		max:   maxMessageSize,
		ssrc:  rand.Uint32(),
		seq:   uint16(rand.UintN(1 << 16)),
		epoch: time.Now(),
	}
}

func (f *datagramFramer) Overhead() int { return rtpHeaderSize }

func (f *datagramFramer) Encode(dst *buffer.Arena, payload []byte) error {
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadTypeMessage,
			SequenceNumber: f.seq,
			Timestamp:      uint32(time.Since(f.epoch) / time.Millisecond),
			SSRC:           f.ssrc,
		},
		Payload: payload,
	}

	dst.Reset()
	out, err := dst.Reserve(pkt.MarshalSize())
	if err != nil {
		return err
	}
	if _, err := pkt.MarshalTo(out); err != nil {
		dst.Reset()
		return err
	}
	f.seq++
	return nil
}

func (f *datagramFramer) Decode(src Socket, dst *buffer.Arena) ([]byte, error) {
	for {
		n := src.Available()
		if n == 0 {
			return nil, nil
		}

		dst.Reset()
		buf, err := dst.Reserve(min(n, dst.Cap()))
		if err != nil {
			return nil, err
		}
		m, err := src.Read(buf)
		if err != nil {
			if _, action := classifyError(err); action == actionRetry {
				metrics.IncrementDatagramDropped("oversize")
				continue
			}
			return nil, err
		}

		dst.Truncate(m)

		var pkt rtp.Packet
		if err := pkt.Unmarshal(dst.Bytes()); err != nil ||
			pkt.Version != 2 || pkt.PayloadType != payloadTypeMessage || len(pkt.Payload) == 0 {
			metrics.IncrementDatagramDropped("malformed")
			continue
		}
		if len(pkt.Payload) > f.max {
			metrics.IncrementDatagramDropped("oversize")
			continue
		}
		if f.haveSeq && pkt.SSRC == f.remoteSSRC && !seqAfter(pkt.SequenceNumber, f.lastSeq) {
			metrics.IncrementDatagramDropped("stale")
			continue
		}

		f.remoteSSRC, f.lastSeq, f.haveSeq = pkt.SSRC, pkt.SequenceNumber, true
		return pkt.Payload, nil
	}
}

func (f *datagramFramer) Reset() { f.haveSeq = false }

// seqAfter reports whether a is newer than b in 16-bit serial arithmetic.
func seqAfter(a, b uint16) bool {
	return a != b && a-b < 0x8000
}
