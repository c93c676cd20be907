package ivf

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

func fileHeader(fourCC string, width, height int) []byte {
	hdr := make([]byte, headerSize)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[6:8], headerSize)
	copy(hdr[8:12], fourCC)
	binary.LittleEndian.PutUint16(hdr[12:14], uint16(width))
	binary.LittleEndian.PutUint16(hdr[14:16], uint16(height))
	binary.LittleEndian.PutUint32(hdr[16:20], 30) // timebase denominator
	binary.LittleEndian.PutUint32(hdr[20:24], 1)  // timebase numerator
	return hdr
}

func frame(pts int64, payload []byte) []byte {
	f := make([]byte, frameHeaderSize, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(f[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(f[4:12], uint64(pts))
	return append(f, payload...)
}

func buildIVF(fourCC string, width, height int, frames ...[]byte) []byte {
	file := fileHeader(fourCC, width, height)
	for _, f := range frames {
		file = append(file, f...)
	}
	return file
}

func openDemuxer(t *testing.T, file []byte) format.Demuxer {
	t.Helper()
	d := Builder().Alloc()
	if err := d.Open(context.Background(), bytes.NewReader(file)); err != nil {
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

	badVersion := fileHeader("VP80", 640, 480)
	binary.LittleEndian.PutUint16(badVersion[4:6], 1)
	badLen := fileHeader("VP80", 640, 480)
	binary.LittleEndian.PutUint16(badLen[6:8], 44)

	tests := []struct {
		name   string
		sample []byte
		want   format.Score
	}{
		{"ivf file", buildIVF("VP90", 1920, 1080), format.ScoreMax},
		{"bad version", badVersion, 0},
		{"bad header length", badLen, 0},
		{"wrong magic", bytes.Repeat([]byte{0xaa}, 64), 0},
		{"short sample", []byte("DKIF"), 0},
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

func TestReadHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fourCC string
		want   string
	}{
		{"VP80", "vp8"},
		{"VP90", "vp9"},
		{"AV01", "av1"},
		{"H264", "h264"},
	}

	for _, tt := range tests {
		t.Run(tt.fourCC, func(t *testing.T) {
			t.Parallel()

			d := openDemuxer(t, buildIVF(tt.fourCC, 1280, 720))
			streams := d.(format.StreamLister).Streams()
			if len(streams) != 1 {
				t.Fatalf("Streams() returned %d streams, want 1", len(streams))
			}
			got := streams[0]
			want := media.Stream{Index: 0, Kind: media.KindVideo, Codec: tt.want, Width: 1280, Height: 720}
			if got != want {
				t.Errorf("stream = %+v, want %+v", got, want)
			}
		})
	}
}

func TestReadHeadersErrors(t *testing.T) {
	t.Parallel()

	badVersion := fileHeader("VP80", 640, 480)
	binary.LittleEndian.PutUint16(badVersion[4:6], 2)

	tests := []struct {
		name string
		file []byte
	}{
		{"empty", nil},
		{"truncated header", fileHeader("VP80", 640, 480)[:20]},
		{"bad magic", bytes.Repeat([]byte{0x00}, headerSize)},
		{"bad version", badVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := Builder().Alloc()
			if err := d.Open(context.Background(), bytes.NewReader(tt.file)); err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if err := d.ReadHeaders(); !errors.Is(err, format.ErrInvalidData) {
				t.Errorf("ReadHeaders() error = %v, want format.ErrInvalidData", err)
			}
		})
	}
}

func TestReadPackets(t *testing.T) {
	t.Parallel()

	payloads := [][]byte{
		bytes.Repeat([]byte{0x10}, 100),
		bytes.Repeat([]byte{0x20}, 50),
		bytes.Repeat([]byte{0x30}, 75),
	}
	d := openDemuxer(t, buildIVF("VP80", 640, 480,
		frame(0, payloads[0]),
		frame(33, payloads[1]),
		frame(66, payloads[2]),
	))

	wantPTS := []int64{0, 33, 66}
	for i, payload := range payloads {
		pkt, err := d.ReadPacket()
		if err != nil {
			t.Fatalf("ReadPacket() #%d error = %v", i, err)
		}
		if pkt.PTS != wantPTS[i] || pkt.DTS != wantPTS[i] {
			t.Errorf("packet #%d pts/dts = %d/%d, want %d", i, pkt.PTS, pkt.DTS, wantPTS[i])
		}
		if !bytes.Equal(pkt.Data, payload) {
			t.Errorf("packet #%d data mismatch", i)
		}
		if got, want := pkt.Keyframe, i == 0; got != want {
			t.Errorf("packet #%d keyframe = %v, want %v", i, got, want)
		}
	}

	for i := 0; i < 2; i++ {
		if _, err := d.ReadPacket(); !errors.Is(err, io.EOF) {
			t.Fatalf("ReadPacket() at end error = %v, want io.EOF", err)
		}
	}
}

func TestReadPacketErrors(t *testing.T) {
	t.Parallel()

	oversized := frame(0, nil)
	binary.LittleEndian.PutUint32(oversized[0:4], maxFrameSize+1)

	tests := []struct {
		name string
		file []byte
	}{
		{"truncated frame header", buildIVF("VP80", 640, 480, frame(0, []byte{1})[:6])},
		{"truncated payload", buildIVF("VP80", 640, 480, frame(0, make([]byte, 100))[:frameHeaderSize+10])},
		{"oversized frame", buildIVF("VP80", 640, 480, oversized)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := openDemuxer(t, tt.file)
			if _, err := d.ReadPacket(); !errors.Is(err, format.ErrInvalidData) {
				t.Errorf("ReadPacket() error = %v, want format.ErrInvalidData", err)
			}
		})
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
}

func TestOpenCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := Builder().Alloc()
	if err := d.Open(ctx, bytes.NewReader(buildIVF("VP80", 640, 480))); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := d.ReadHeaders(); !errors.Is(err, context.Canceled) {
		t.Errorf("ReadHeaders() error = %v, want context.Canceled", err)
	}
}
