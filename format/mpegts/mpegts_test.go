package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

// synthStream assembles a transport stream from 188-byte packets.
func synthStream(packets ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range packets {
		buf.Write(p)
	}
	return buf.Bytes()
}

// oneProgramStream builds PAT → PMT(H.264 + AAC) → two payload units per
// elementary stream. The first video packet carries the random access
// indicator.
func oneProgramStream() []byte {
	pat := psiPayload(buildPAT(1, []testProgram{{1, 0x1000}}))
	pmt := psiPayload(buildPMT(1, 0x100, []testStream{
		{0x1B, 0x100}, // H.264 video
		{0x0F, 0x101}, // AAC audio
	}))

	videoData := []byte{0x00, 0x00, 0x00, 0x01, 0x65} // fake IDR NALU
	audioData := []byte{0xFF, 0xF1, 0x50, 0x40}       // fake ADTS header

	return synthStream(
		makePacket(pidPAT, 0, true, pat),
		makePacket(0x1000, 0, true, pmt),
		makePacketAF(0x100, 0, true, 0x40, buildPESPacket(0xE0, 90000, 87000, true, true, videoData)),
		makePacket(0x101, 0, true, buildPESPacket(0xC0, 90000, 0, true, false, audioData)),
		makePacket(0x100, 1, true, buildPESPacket(0xE0, 93754, 90750, true, true, videoData)),
		makePacket(0x101, 1, true, buildPESPacket(0xC0, 97680, 0, true, false, audioData)),
	)
}

func openDemuxer(t *testing.T, stream []byte) format.Demuxer {
	t.Helper()
	d := Builder().Alloc()
	if err := d.Open(context.Background(), bytes.NewReader(stream)); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.ReadHeaders(); err != nil {
		t.Fatalf("ReadHeaders() error = %v", err)
	}
	return d
}

func TestProbe(t *testing.T) {
	t.Parallel()

	b := Builder()

	threeSync := make([]byte, 3*packetSize)
	threeSync[0], threeSync[packetSize], threeSync[2*packetSize] = syncByte, syncByte, syncByte

	twoSync := make([]byte, 3*packetSize)
	twoSync[0], twoSync[packetSize] = syncByte, syncByte

	tests := []struct {
		name   string
		sample []byte
		want   format.Score
	}{
		{"three aligned sync bytes", threeSync, format.ScoreMax},
		{"real stream", oneProgramStream(), format.ScoreMax},
		{"only two sync bytes", twoSync, 0},
		{"sync bytes misaligned", append([]byte{0x00}, threeSync...), 0},
		{"short sample", []byte{syncByte}, 0},
		{"empty", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := b.Probe(tt.sample); got != tt.want {
				t.Errorf("Probe() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDemuxOneProgram(t *testing.T) {
	t.Parallel()

	d := openDemuxer(t, oneProgramStream())

	streams := d.(format.StreamLister).Streams()
	want := []media.Stream{
		{Index: 0, Kind: media.KindVideo, Codec: "h264"},
		{Index: 1, Kind: media.KindAudio, Codec: "aac"},
	}
	if len(streams) != len(want) {
		t.Fatalf("Streams() returned %d streams, want %d", len(streams), len(want))
	}
	for i := range want {
		if streams[i] != want[i] {
			t.Errorf("stream[%d] = %+v, want %+v", i, streams[i], want[i])
		}
	}

	// First unit per PID flushes when the next unit start arrives; the
	// tail units flush at end of input in PID order.
	type wantPkt struct {
		stream   int
		pts, dts int64
		keyframe bool
	}
	wantPkts := []wantPkt{
		{0, 90000, 87000, true},
		{1, 90000, 90000, false},
		{0, 93754, 90750, false},
		{1, 97680, 97680, false},
	}

	for i, w := range wantPkts {
		pkt, err := d.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket() #%d error = %v", i, err)
		}
		if pkt.StreamIndex != w.stream {
			t.Errorf("packet #%d stream = %d, want %d", i, pkt.StreamIndex, w.stream)
		}
		if pkt.PTS != w.pts || pkt.DTS != w.dts {
			t.Errorf("packet #%d pts/dts = %d/%d, want %d/%d", i, pkt.PTS, pkt.DTS, w.pts, w.dts)
		}
		if pkt.Keyframe != w.keyframe {
			t.Errorf("packet #%d keyframe = %v, want %v", i, pkt.Keyframe, w.keyframe)
		}
		if len(pkt.Data) == 0 {
			t.Errorf("packet #%d has empty payload", i)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
			t.Fatalf("ReadPacket() at end error = %v, want io.EOF", err)
		}
	}
}

func TestDemuxPayloadContent(t *testing.T) {
	t.Parallel()

	audioData := []byte{0xFF, 0xF1, 0x50, 0x40, 0x01, 0x02}
	stream := synthStream(
		makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []testProgram{{1, 0x1000}}))),
		makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x101, []testStream{{0x0F, 0x101}}))),
		makePacket(0x101, 0, true, buildPESPacket(0xC0, 90000, 0, true, false, audioData)),
		makePacket(0x101, 1, true, buildPESPacket(0xC0, 91440, 0, true, false, audioData)),
	)
	d := openDemuxer(t, stream)

	// Audio PES carries an exact packet length, so the payload comes back
	// without the transport padding.
	pkt, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if !bytes.Equal(pkt.Data, audioData) {
		t.Errorf("packet data = %v, want %v", pkt.Data, audioData)
	}
}

func TestDemuxEarlyPES(t *testing.T) {
	t.Parallel()

	// Elementary payload units that complete before the tables are parsed
	// are delivered once the PID is mapped.
	videoData := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	stream := synthStream(
		makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []testProgram{{1, 0x1000}}))),
		makePacket(0x100, 0, true, buildPESPacket(0xE0, 1000, 0, true, false, videoData)),
		makePacket(0x100, 1, true, buildPESPacket(0xE0, 2000, 0, true, false, videoData)),
		makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x100, []testStream{{0x1B, 0x100}}))),
	)
	d := openDemuxer(t, stream)

	first, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() #0 error = %v", err)
	}
	if first.PTS != 1000 {
		t.Errorf("packet #0 pts = %d, want 1000", first.PTS)
	}

	second, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() #1 error = %v", err)
	}
	if second.PTS != 2000 {
		t.Errorf("packet #1 pts = %d, want 2000", second.PTS)
	}

	if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket() at end error = %v, want io.EOF", err)
	}
}

func TestDemuxDropsUnmappedPID(t *testing.T) {
	t.Parallel()

	videoData := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	strayData := buildPESPacket(0xC0, 5000, 0, true, false, []byte{0xAB})
	stream := synthStream(
		makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []testProgram{{1, 0x1000}}))),
		makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x100, []testStream{{0x1B, 0x100}}))),
		makePacket(0x200, 0, true, strayData), // PID not in any PMT
		makePacket(0x200, 1, true, strayData),
		makePacket(0x100, 0, true, buildPESPacket(0xE0, 1000, 0, true, false, videoData)),
		makePacket(0x100, 1, true, buildPESPacket(0xE0, 2000, 0, true, false, videoData)),
	)
	d := openDemuxer(t, stream)

	var ptss []int64
	for {
		pkt, err := d.ReadPacket()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacket() error = %v", err)
		}
		if pkt.StreamIndex != 0 {
			t.Errorf("packet stream = %d, want 0", pkt.StreamIndex)
		}
		ptss = append(ptss, pkt.PTS)
	}

	if len(ptss) != 2 || ptss[0] != 1000 || ptss[1] != 2000 {
		t.Errorf("video PTS sequence = %v, want [1000 2000]", ptss)
	}
}

func TestDemuxSkipsCorruptPacket(t *testing.T) {
	t.Parallel()

	corrupt := make([]byte, packetSize) // bad sync byte
	videoData := []byte{0x01}
	stream := synthStream(
		makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []testProgram{{1, 0x1000}}))),
		corrupt,
		makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x100, []testStream{{0x1B, 0x100}}))),
		makePacket(0x100, 0, true, buildPESPacket(0xE0, 1000, 0, true, false, videoData)),
		makePacket(0x100, 1, true, buildPESPacket(0xE0, 2000, 0, true, false, videoData)),
	)
	d := openDemuxer(t, stream)

	pkt, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if pkt.PTS != 1000 {
		t.Errorf("packet pts = %d, want 1000", pkt.PTS)
	}
}

func TestDemuxSkipsContradictoryPESLength(t *testing.T) {
	t.Parallel()

	// PES_packet_length 3 ends before the optional header's
	// PES_header_data_length of 5 does; the unit is unparseable and must be
	// dropped, not crash the pump.
	badPES := make([]byte, 32)
	copy(badPES, []byte{0x00, 0x00, 0x01, 0xE0, 0x00, 0x03, 0x80, 0x00, 0x05})

	videoData := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	stream := synthStream(
		makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []testProgram{{1, 0x1000}}))),
		makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x100, []testStream{{0x1B, 0x100}}))),
		makePacket(0x100, 0, true, badPES),
		makePacket(0x100, 1, true, buildPESPacket(0xE0, 1000, 0, true, false, videoData)),
	)
	d := openDemuxer(t, stream)

	pkt, err := d.ReadPacket()
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if pkt.PTS != 1000 {
		t.Errorf("packet pts = %d, want 1000", pkt.PTS)
	}

	if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket() at end error = %v, want io.EOF", err)
	}
}

func TestDemuxPartialProgramInfo(t *testing.T) {
	t.Parallel()

	// PAT advertises two programs but the stream ends with only one PMT;
	// headers succeed with the program that arrived.
	stream := synthStream(
		makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []testProgram{{1, 0x1000}, {2, 0x2000}}))),
		makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x100, []testStream{{0x1B, 0x100}}))),
	)
	d := openDemuxer(t, stream)

	streams := d.(format.StreamLister).Streams()
	if len(streams) != 1 || streams[0].Codec != "h264" {
		t.Errorf("Streams() = %v, want one h264 stream", streams)
	}
}

func TestReadHeadersNoTables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		stream []byte
	}{
		{"empty input", nil},
		{"payload without tables", synthStream(
			makePacket(0x300, 0, true, []byte{0xDE, 0xAD}),
			makePacket(0x300, 1, true, []byte{0xBE, 0xEF}),
		)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := Builder().Alloc()
			if err := d.Open(context.Background(), bytes.NewReader(tt.stream)); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if err := d.ReadHeaders(); !errors.Is(err, format.ErrInvalidData) {
				t.Errorf("ReadHeaders() error = %v, want format.ErrInvalidData", err)
			}
		})
	}
}

func TestReadHeadersScanBudget(t *testing.T) {
	t.Parallel()

	// A long stream with no program tables must fail within the scan
	// budget instead of reading forever.
	var stream bytes.Buffer
	for i := 0; i < maxHeaderPackets+100; i++ {
		stream.Write(makePacket(0x300, uint8(i), true, []byte{0xFF, 0xFF}))
	}

	d := Builder().Alloc()
	if err := d.Open(context.Background(), &stream); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.ReadHeaders(); !errors.Is(err, format.ErrInvalidData) {
		t.Errorf("ReadHeaders() error = %v, want format.ErrInvalidData", err)
	}
}

func TestDemuxContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := Builder().Alloc()
	if err := d.Open(ctx, bytes.NewReader(oneProgramStream())); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.ReadHeaders(); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadHeaders() error = %v, want context.Canceled", err)
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()

	d := Builder().Alloc()
	if err := d.ReadHeaders(); !errors.Is(err, format.ErrLifecycle) {
		t.Errorf("ReadHeaders() before open error = %v, want format.ErrLifecycle", err)
	}
	if _, err := d.ReadPacket(); !errors.Is(err, format.ErrLifecycle) {
		t.Errorf("ReadPacket() before open error = %v, want format.ErrLifecycle", err)
	}
	if lister, ok := d.(format.StreamLister); !ok {
		t.Fatal("demuxer does not implement format.StreamLister")
	} else if lister.Streams() != nil {
		t.Error("Streams() before headers should be nil")
	}

	if err := d.Open(context.Background(), bytes.NewReader(oneProgramStream())); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.Open(context.Background(), bytes.NewReader(nil)); !errors.Is(err, format.ErrLifecycle) {
		t.Errorf("second Open() error = %v, want format.ErrLifecycle", err)
	}
}
