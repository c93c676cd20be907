package mpegts

import "fmt"

const (
	packetSize = 188
	syncByte   = 0x47
)

// tsPacket is a parsed 188-byte transport stream packet.
type tsPacket struct {
	header  tsHeader
	payload []byte
}

type tsHeader struct {
	pid               uint16
	continuityCounter uint8
	hasAdaptation     bool
	hasPayload        bool
	unitStart         bool
	transportError    bool
	discontinuity     bool
	randomAccess      bool
}

func parsePacket(buf []byte) (*tsPacket, error) {
	if len(buf) != packetSize {
		return nil, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), packetSize)
	}
	if buf[0] != syncByte {
		return nil, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := &tsPacket{}
	p.header.transportError = buf[1]&0x80 != 0
	p.header.unitStart = buf[1]&0x40 != 0
	p.header.pid = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.header.hasAdaptation = buf[3]&0x20 != 0
	p.header.hasPayload = buf[3]&0x10 != 0
	p.header.continuityCounter = buf[3] & 0x0F

	offset := 4

	if p.header.hasAdaptation {
		if offset >= packetSize {
			return p, nil
		}
		afLen := int(buf[offset])
		if afLen > 0 && offset+1 < packetSize {
			p.header.discontinuity = buf[offset+1]&0x80 != 0
			p.header.randomAccess = buf[offset+1]&0x40 != 0
		}
		offset += 1 + afLen
		if offset > packetSize {
			offset = packetSize
		}
	}

	if p.header.hasPayload && offset < packetSize {
		p.payload = make([]byte, packetSize-offset)
		copy(p.payload, buf[offset:])
	}

	return p, nil
}
