// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"micscope/internal/transport"
)

/*
UDP Packet Structure (BigEndian)

+-----------------------------------------------------------------------------+
| Field             | Data Type      | Size (Bytes) | Description             |
|-------------------|----------------|--------------|-------------------------|
| Sequence Number   | uint32         | 4            | Monotonically increasing|
| Timestamp         | int64          | 8            | Nanoseconds since epoch |
| Bin Count         | uint16         | 2            | Number of bins (N)      |
| Magnitudes        | []float32      | N * 4        | Normalized, in [0, 1]   |
| Frequencies       | []float32      | N * 4        | Bin centers in Hz       |
+-----------------------------------------------------------------------------+

An idle frame (analyzer stopped) is a header with a bin count of zero.
*/

const headerSize = 4 + 8 + 2

// MaxBins is the largest bin count a packet can carry.
const MaxBins = math.MaxUint16

var ErrShortPacket = errors.New("udp: short packet")

// Packet is a decoded spectrum packet.
type Packet struct {
	Sequence    uint32
	Timestamp   int64
	Magnitudes  []float32
	Frequencies []float32
}

// Idle reports whether the packet carries no bins.
func (p *Packet) Idle() bool {
	return len(p.Magnitudes) == 0
}

// Transport packs frames into the binary format above and sends them with
// a UDPSender.
type Transport struct {
	sender *UDPSender

	mu           sync.Mutex
	f32Buffer    []float32     // Reusable buffer for float32 conversion.
	packetBuffer *bytes.Buffer // Reusable buffer for constructing the binary packet.
}

// NewTransport dials targetAddress.
func NewTransport(targetAddress string) (*Transport, error) {
	sender, err := NewUDPSender(targetAddress)
	if err != nil {
		return nil, err
	}
	return &Transport{
		sender:       sender,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Send encodes frame and transmits it as one datagram.
func (t *Transport) Send(frame *transport.Frame) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.encode(frame); err != nil {
		return err
	}
	return t.sender.Send(t.packetBuffer.Bytes())
}

// encode writes frame into the packet buffer.
func (t *Transport) encode(frame *transport.Frame) error {
	count := len(frame.Magnitudes)
	if frame.Type == transport.FrameIdle {
		count = 0
	}
	if count > MaxBins {
		return fmt.Errorf("udp: %d bins exceed packet limit %d", count, MaxBins)
	}
	if len(frame.Frequencies) < count {
		return fmt.Errorf("udp: frame has %d magnitudes but %d frequencies", count, len(frame.Frequencies))
	}

	if cap(t.f32Buffer) < 2*count {
		t.f32Buffer = make([]float32, 2*count)
	}
	payload := t.f32Buffer[:2*count]
	for i := range count {
		payload[i] = float32(frame.Magnitudes[i])
		payload[count+i] = float32(frame.Frequencies[i])
	}

	t.packetBuffer.Reset()

	// Write header fields (Sequence, Timestamp, Count) using BigEndian byte order.
	err := binary.Write(t.packetBuffer, binary.BigEndian, frame.Sequence)
	if err == nil {
		err = binary.Write(t.packetBuffer, binary.BigEndian, frame.Timestamp)
	}
	if err == nil {
		err = binary.Write(t.packetBuffer, binary.BigEndian, uint16(count))
	}
	if err == nil && count > 0 {
		err = binary.Write(t.packetBuffer, binary.BigEndian, payload)
	}
	if err != nil {
		return fmt.Errorf("udp: packing frame %d: %w", frame.Sequence, err)
	}
	return nil
}

// Close closes the underlying sender.
func (t *Transport) Close() error {
	return t.sender.Close()
}

// Sender exposes the underlying sender for statistics.
func (t *Transport) Sender() *UDPSender {
	return t.sender
}

// DecodePacket parses a datagram produced by Transport.
func DecodePacket(data []byte) (*Packet, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(data))
	}

	p := &Packet{
		Sequence:  binary.BigEndian.Uint32(data[0:4]),
		Timestamp: int64(binary.BigEndian.Uint64(data[4:12])),
	}
	count := int(binary.BigEndian.Uint16(data[12:14]))

	if want := headerSize + 8*count; len(data) < want {
		return nil, fmt.Errorf("%w: %d bytes for %d bins, want %d", ErrShortPacket, len(data), count, want)
	}
	if count == 0 {
		return p, nil
	}

	values := make([]float32, 2*count)
	if err := binary.Read(bytes.NewReader(data[headerSize:]), binary.BigEndian, values); err != nil {
		return nil, fmt.Errorf("udp: decoding payload: %w", err)
	}
	p.Magnitudes = values[:count:count]
	p.Frequencies = values[count:]
	return p, nil
}

var _ transport.Transport = (*Transport)(nil)
