package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

func newInspectCommand() *cobra.Command {
	var formatName string
	var packetCount int

	cmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Open a media file, read its headers, and list its streams",
		Long: `Inspect drives the full demuxer lifecycle against a file: probe (unless
--format pins a specific demuxer), open, read headers, and print the
declared streams. With --packets it also reads up to N packets and
summarizes them per stream.

Examples:
  lens inspect recording.ts
  lens inspect clip.ivf --packets 100
  lens inspect mystery.bin --format wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sample, n, err := format.ReadSample(f)
			if err != nil {
				return err
			}

			reg := defaultRegistry()
			var builder format.Builder
			if formatName != "" {
				b, ok := reg.ByName(formatName)
				if !ok {
					return fmt.Errorf("unknown format %q (see `lens formats`)", formatName)
				}
				builder = b
			} else {
				b, ok := reg.Probe(sample)
				if !ok {
					return errNoMatch
				}
				builder = b
			}
			desc := builder.Describe()

			src := io.MultiReader(bytes.NewReader(sample[:n]), f)
			d := builder.Alloc()
			if err := d.Open(cmd.Context(), src); err != nil {
				return fmt.Errorf("open %s demuxer: %w", desc.Name, err)
			}
			if err := d.ReadHeaders(); err != nil {
				return fmt.Errorf("read %s headers: %w", desc.Name, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "format: %s (%s)\n", desc.Name, desc.Description)

			if lister, ok := d.(format.StreamLister); ok {
				printStreams(out, lister.Streams())
			}

			if packetCount > 0 {
				return summarizePackets(out, d, packetCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&formatName, "format", "", "skip probing and use this format by name")
	cmd.Flags().IntVar(&packetCount, "packets", 0, "read up to this many packets and summarize them")
	return cmd
}

func printStreams(out io.Writer, streams []media.Stream) {
	if len(streams) == 0 {
		return
	}

	rows := make([][]string, len(streams))
	for i, st := range streams {
		rows[i] = []string{
			strconv.Itoa(st.Index),
			st.Kind.String(),
			st.Codec,
			streamDetails(st),
		}
	}
	fmt.Fprintln(out, renderTable(out,
		[]string{"#", "KIND", "CODEC", "DETAILS"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft}))
}

func streamDetails(st media.Stream) string {
	switch st.Kind {
	case media.KindAudio:
		if st.SampleRate > 0 {
			return fmt.Sprintf("%d Hz, %d ch", st.SampleRate, st.Channels)
		}
	case media.KindVideo:
		if st.Width > 0 && st.Height > 0 {
			return fmt.Sprintf("%dx%d", st.Width, st.Height)
		}
	}
	return ""
}

// packetSummary accumulates per-stream counters for the --packets report.
type packetSummary struct {
	packets   int64
	bytes     int64
	keyframes int64
	firstPTS  int64
	lastPTS   int64
	hasPTS    bool
}

func summarizePackets(out io.Writer, d format.Demuxer, limit int) error {
	sums := make(map[int]*packetSummary)
	total := 0

	for total < limit {
		pkt, err := d.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("read packet: %w", err)
		}
		total++

		s := sums[pkt.StreamIndex]
		if s == nil {
			s = &packetSummary{}
			sums[pkt.StreamIndex] = s
		}
		s.packets++
		s.bytes += int64(len(pkt.Data))
		if pkt.Keyframe {
			s.keyframes++
		}
		if pkt.PTS != media.NoPTS {
			if !s.hasPTS {
				s.firstPTS = pkt.PTS
				s.hasPTS = true
			}
			s.lastPTS = pkt.PTS
		}
	}

	indexes := make([]int, 0, len(sums))
	for idx := range sums {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	rows := make([][]string, 0, len(sums))
	for _, idx := range indexes {
		s := sums[idx]
		ptsRange := "-"
		if s.hasPTS {
			ptsRange = fmt.Sprintf("%d..%d", s.firstPTS, s.lastPTS)
		}
		rows = append(rows, []string{
			strconv.Itoa(idx),
			strconv.FormatInt(s.packets, 10),
			strconv.FormatInt(s.bytes, 10),
			strconv.FormatInt(s.keyframes, 10),
			ptsRange,
		})
	}

	fmt.Fprintf(out, "read %d packets\n", total)
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(out,
			[]string{"#", "PACKETS", "BYTES", "KEYFRAMES", "PTS RANGE"}, rows,
			[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignLeft}))
	}
	return nil
}
