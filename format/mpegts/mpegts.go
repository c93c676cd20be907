// Package mpegts implements demuxing of MPEG transport streams. It discovers
// programs through PAT/PMT sections, reassembles PES payload units per
// elementary PID, and extracts PTS/DTS from PES optional headers.
package mpegts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

// maxHeaderPackets bounds the transport packets scanned for program tables
// before the stream is declared invalid (~940 KiB).
const maxHeaderPackets = 5000

// errScanLimit is internal: the header scan budget ran out.
var errScanLimit = errors.New("mpegts: scan limit reached")

// Builder returns the builder for the MPEG-TS container format.
func Builder() format.Builder {
	return builder{}
}

type builder struct{}

func (builder) Describe() format.Descriptor {
	return format.Descriptor{
		Name:        "mpegts",
		Description: "MPEG transport stream",
		Extensions:  []string{"ts", "m2t", "m2ts"},
		MIME:        []string{"video/mp2t"},
	}
}

// Probe requires sync bytes at three consecutive packet boundaries; a single
// 0x47 shows up in arbitrary binary data far too often.
func (builder) Probe(sample []byte) format.Score {
	if len(sample) < 2*packetSize+1 {
		return 0
	}
	if sample[0] == syncByte && sample[packetSize] == syncByte && sample[2*packetSize] == syncByte {
		return format.ScoreMax
	}
	return 0
}

func (builder) Alloc() format.Demuxer {
	return &demuxer{}
}

// unit is one reassembled logical unit from the stream: exactly one of pat,
// pmt, or pes is non-nil. pid and keyframe describe the transport packet
// that started the unit.
type unit struct {
	pid      uint16
	keyframe bool
	pat      *patData
	pmt      *pmtData
	pes      *pesData
}

type demuxer struct {
	phase format.Phase
	ctx   context.Context
	src   io.Reader

	readBuf []byte
	pool    *packetPool
	progs   *programMap

	// scanBudget limits packet reads during the header scan; -1 means
	// unlimited.
	scanBudget int

	streams   []media.Stream
	pidStream map[uint16]int

	// units buffers parse results not yet returned; pending buffers
	// media packets completed during the header scan.
	units    []*unit
	pending  []*media.Packet
	eof      bool
	eofUnits []*unit
}

func (d *demuxer) Open(ctx context.Context, src io.Reader) error {
	if d.phase != format.PhaseUnopened {
		return fmt.Errorf("mpegts: open: %w", format.ErrLifecycle)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.ctx = ctx
	d.src = src
	d.readBuf = make([]byte, packetSize)
	d.progs = newProgramMap()
	d.pool = newPacketPool(d.progs)
	d.pidStream = make(map[uint16]int)
	d.scanBudget = -1
	d.phase = format.PhaseOpened
	return nil
}

// ReadHeaders scans the transport stream for program tables. It returns once
// every PMT named by the PAT has been parsed, or goes with the programs
// found so far when the scan budget or the input runs out first. Elementary
// stream payload units completing during the scan are queued for ReadPacket.
func (d *demuxer) ReadHeaders() error {
	if d.phase != format.PhaseOpened {
		return fmt.Errorf("mpegts: read headers: %w", format.ErrLifecycle)
	}

	d.scanBudget = maxHeaderPackets
	defer func() { d.scanBudget = -1 }()

	var (
		havePAT bool
		wantPMT = make(map[uint16]bool) // PMT PID -> section parsed
		early   []*unit
	)
	done := func() bool {
		if !havePAT || len(wantPMT) == 0 {
			return false
		}
		for _, seen := range wantPMT {
			if !seen {
				return false
			}
		}
		return true
	}

	limited := false
	for !done() {
		u, err := d.readUnit()
		if err != nil {
			if errors.Is(err, errScanLimit) {
				limited = true
				break // go with whatever tables arrived
			}
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		switch {
		case u.pat != nil:
			havePAT = true
			for _, p := range u.pat.programs {
				if _, ok := wantPMT[p.pmtPID]; !ok {
					wantPMT[p.pmtPID] = false
				}
			}
		case u.pmt != nil:
			wantPMT[u.pid] = true
			d.addStreams(u.pmt)
		case u.pes != nil:
			early = append(early, u)
		}
	}

	if len(d.streams) == 0 {
		if limited {
			return fmt.Errorf("mpegts: no program tables in first %d packets: %w", maxHeaderPackets, format.ErrInvalidData)
		}
		return fmt.Errorf("mpegts: no program tables found: %w", format.ErrInvalidData)
	}

	// Map the units that completed before the tables did.
	for _, u := range early {
		if pkt := d.packetFromUnit(u); pkt != nil {
			d.pending = append(d.pending, pkt)
		}
	}

	d.phase = format.PhaseHeadersRead
	return nil
}

// ReadPacket returns the next reassembled elementary stream payload unit.
// Repeated program tables and units on PIDs outside the program map are
// skipped.
func (d *demuxer) ReadPacket() (*media.Packet, error) {
	switch d.phase {
	case format.PhaseHeadersRead, format.PhaseStreaming:
	case format.PhaseExhausted:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("mpegts: read packet: %w", format.ErrLifecycle)
	}
	d.phase = format.PhaseStreaming

	for {
		if len(d.pending) > 0 {
			pkt := d.pending[0]
			d.pending = d.pending[1:]
			return pkt, nil
		}

		u, err := d.readUnit()
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.phase = format.PhaseExhausted
				return nil, io.EOF
			}
			return nil, err
		}
		if u.pes == nil {
			continue
		}
		if pkt := d.packetFromUnit(u); pkt != nil {
			return pkt, nil
		}
	}
}

// Streams implements format.StreamLister. Stream order follows PMT entry
// order, across programs in arrival order.
func (d *demuxer) Streams() []media.Stream {
	if d.phase < format.PhaseHeadersRead {
		return nil
	}
	out := make([]media.Stream, len(d.streams))
	copy(out, d.streams)
	return out
}

// readUnit returns the next reassembled unit from the transport stream,
// draining buffered results first. At end of input it flushes the partial
// per-PID accumulations, then reports io.EOF.
func (d *demuxer) readUnit() (*unit, error) {
	for {
		if len(d.units) > 0 {
			u := d.units[0]
			d.units = d.units[1:]
			return u, nil
		}

		if d.eof {
			if len(d.eofUnits) > 0 {
				u := d.eofUnits[0]
				d.eofUnits = d.eofUnits[1:]
				return u, nil
			}
			return nil, io.EOF
		}

		if err := d.ctx.Err(); err != nil {
			return nil, err
		}
		if d.scanBudget == 0 {
			return nil, errScanLimit
		}
		if d.scanBudget > 0 {
			d.scanBudget--
		}

		if _, err := io.ReadFull(d.src, d.readBuf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drainPool()
				continue
			}
			return nil, fmt.Errorf("mpegts: read transport packet: %w", err)
		}

		pkt, err := parsePacket(d.readBuf)
		if err != nil {
			continue // skip corrupt packets
		}

		flushed := d.pool.add(pkt)
		if flushed == nil {
			continue
		}

		units, err := d.processPackets(flushed)
		if err != nil || len(units) == 0 {
			continue // skip corrupt sections
		}
		d.registerPrograms(units)

		d.units = units[1:]
		return units[0], nil
	}
}

func (d *demuxer) drainPool() {
	for _, packets := range d.pool.dump() {
		units, err := d.processPackets(packets)
		if err != nil {
			continue
		}
		// Register PAT results so PMT PIDs flushed later in the dump
		// are still recognized as PSI.
		d.registerPrograms(units)
		d.eofUnits = append(d.eofUnits, units...)
	}
}

func (d *demuxer) registerPrograms(units []*unit) {
	for _, u := range units {
		if u.pat == nil {
			continue
		}
		for _, p := range u.pat.programs {
			d.progs.addPMTPID(p.pmtPID)
		}
	}
}

// processPackets reassembles one payload unit from the accumulated packets
// and routes it to the PSI or PES parser.
func (d *demuxer) processPackets(packets []*tsPacket) ([]*unit, error) {
	if len(packets) == 0 {
		return nil, nil
	}

	first := packets[0]
	pid := first.header.pid

	var payload []byte
	for _, p := range packets {
		payload = append(payload, p.payload...)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	if isPSIPID(pid, d.progs) {
		units, err := parsePSI(payload)
		if err != nil {
			return units, err
		}
		for _, u := range units {
			u.pid = pid
		}
		return units, nil
	}

	if isPESPayload(payload) {
		pes, err := parsePES(payload)
		if err != nil {
			return nil, err
		}
		return []*unit{{
			pid:      pid,
			keyframe: first.header.randomAccess,
			pes:      pes,
		}}, nil
	}

	return nil, nil
}

// addStreams registers the PMT's elementary streams, preserving entry order
// and ignoring PIDs already mapped by an earlier (or repeated) table.
func (d *demuxer) addStreams(pmt *pmtData) {
	for _, es := range pmt.elementary {
		if _, ok := d.pidStream[es.pid]; ok {
			continue
		}
		kind, codec := streamInfo(es.streamType)
		idx := len(d.streams)
		d.pidStream[es.pid] = idx
		d.streams = append(d.streams, media.Stream{
			Index: idx,
			Kind:  kind,
			Codec: codec,
		})
	}
}

func (d *demuxer) packetFromUnit(u *unit) *media.Packet {
	idx, ok := d.pidStream[u.pid]
	if !ok {
		return nil
	}
	pkt := &media.Packet{
		StreamIndex: idx,
		PTS:         media.NoPTS,
		DTS:         media.NoPTS,
		Data:        u.pes.data,
		Keyframe:    u.keyframe,
	}
	if u.pes.pts >= 0 {
		pkt.PTS = u.pes.pts
	}
	if u.pes.dts >= 0 {
		pkt.DTS = u.pes.dts
	}
	return pkt
}

// streamInfo maps an MPEG-TS stream_type to a stream kind and codec name.
func streamInfo(streamType uint8) (media.Kind, string) {
	switch streamType {
	case 0x01, 0x02:
		return media.KindVideo, "mpeg2video"
	case 0x03, 0x04:
		return media.KindAudio, "mp2"
	case 0x0F:
		return media.KindAudio, "aac"
	case 0x1B:
		return media.KindVideo, "h264"
	case 0x24:
		return media.KindVideo, "hevc"
	}
	return media.KindData, "data"
}
