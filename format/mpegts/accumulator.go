package mpegts

import "sort"

// programMap tracks which PIDs carry PMT sections.
type programMap struct {
	m map[uint16]bool
}

func newProgramMap() *programMap {
	return &programMap{m: make(map[uint16]bool)}
}

func (pm *programMap) addPMTPID(pid uint16) {
	pm.m[pid] = true
}

func (pm *programMap) isPMTPID(pid uint16) bool {
	return pm.m[pid]
}

// accumulator buffers packets for a single PID until a payload unit is
// complete.
type accumulator struct {
	pid        uint16
	packets    []*tsPacket
	programMap *programMap
}

func newAccumulator(pid uint16, pm *programMap) *accumulator {
	return &accumulator{
		pid:        pid,
		programMap: pm,
	}
}

func (a *accumulator) add(p *tsPacket) []*tsPacket {
	// Skip packets with transport errors.
	if p.header.transportError {
		a.packets = nil
		return nil
	}

	// Skip adaptation-only packets (no payload).
	if !p.header.hasPayload {
		return nil
	}

	// Discontinuity check: compare CC against last buffered packet.
	// A signaled discontinuity indicator means the CC jump is expected.
	if len(a.packets) > 0 && !p.header.discontinuity {
		prev := a.packets[len(a.packets)-1].header.continuityCounter
		expected := (prev + 1) & 0x0F
		if p.header.continuityCounter != expected {
			if p.header.continuityCounter == prev {
				return nil // duplicate packet, drop
			}
			// Unsignaled discontinuity — discard buffered packets.
			a.packets = nil
		}
	}

	var flushed []*tsPacket

	if p.header.unitStart && len(a.packets) > 0 {
		flushed = a.packets
		a.packets = nil
	}

	a.packets = append(a.packets, p)

	// For PSI PIDs, flush as soon as the section is complete.
	if flushed == nil && a.isPSI() && isPSIComplete(a.packets) {
		flushed = a.packets
		a.packets = nil
	}

	return flushed
}

func (a *accumulator) isPSI() bool {
	return isPSIPID(a.pid, a.programMap)
}

func (a *accumulator) flush() []*tsPacket {
	if len(a.packets) == 0 {
		return nil
	}
	flushed := a.packets
	a.packets = nil
	return flushed
}

// isPSIComplete checks whether the accumulated payloads contain a complete
// PSI section.
func isPSIComplete(packets []*tsPacket) bool {
	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.payload...)
	}
	if len(payload) < 1 {
		return false
	}

	pointerField := int(payload[0])
	offset := 1 + pointerField
	if offset >= len(payload) {
		return false
	}

	for offset < len(payload) {
		if payload[offset] == 0xFF {
			return true // stuffing bytes, section is complete
		}
		if offset+3 > len(payload) {
			return false
		}
		// section_syntax_indicator must be 1 for PAT/PMT. Zero-padding
		// bytes have this bit clear.
		if payload[offset+1]&0x80 == 0 {
			return true // not a valid section header, treat as padding
		}
		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		needed := 3 + sectionLength
		if offset+needed > len(payload) {
			return false
		}
		offset += needed
	}
	return true
}

// packetPool manages per-PID accumulators.
type packetPool struct {
	accs       map[uint16]*accumulator
	programMap *programMap
}

func newPacketPool(pm *programMap) *packetPool {
	return &packetPool{
		accs:       make(map[uint16]*accumulator),
		programMap: pm,
	}
}

func (pp *packetPool) add(p *tsPacket) []*tsPacket {
	pid := p.header.pid
	acc, ok := pp.accs[pid]
	if !ok {
		acc = newAccumulator(pid, pp.programMap)
		pp.accs[pid] = acc
	}
	return acc.add(p)
}

func (pp *packetPool) dump() [][]*tsPacket {
	// Sort by PID so PAT (PID 0) is processed before PMT PIDs.
	pids := make([]int, 0, len(pp.accs))
	for pid := range pp.accs {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var all [][]*tsPacket
	for _, pid := range pids {
		if packets := pp.accs[uint16(pid)].flush(); packets != nil {
			all = append(all, packets)
		}
	}
	return all
}
