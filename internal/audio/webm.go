package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/at-wat/ebml-go"
	"github.com/at-wat/ebml-go/webm"
	"gopkg.in/hraban/opus.v2"
)

const webmOpusCodecID = "A_OPUS"

// webmFile is the part of a WebM document the decoder reads.
type webmFile struct {
	Header  webm.EBMLHeader `ebml:"EBML"`
	Segment webm.Segment    `ebml:"Segment"`
}

// decodeWebMOpus demuxes the first Opus track of a WebM stream (MediaRecorder's
// "audio/webm; codecs=opus") and decodes its blocks packet by packet.
func decodeWebMOpus(payload []byte, _ map[string]string) (*Decoded, error) {
	var doc webmFile
	if err := ebml.Unmarshal(bytes.NewReader(payload), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse webm container: %w", err)
	}
	if doc.Header.DocType != "" && doc.Header.DocType != "webm" && doc.Header.DocType != "matroska" {
		return nil, fmt.Errorf("unexpected doc type %q", doc.Header.DocType)
	}

	track, err := webmOpusTrack(doc.Segment.Tracks.TrackEntry)
	if err != nil {
		return nil, err
	}
	channels, preSkip := webmOpusLayout(track)

	dec, err := opus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	out := make([][]float32, channels)
	pcm := make([]float32, opusMaxFrame*channels)
	appendPacket := func(packet []byte) error {
		n, err := dec.DecodeFloat32(packet, pcm)
		if err != nil {
			return fmt.Errorf("failed to decode opus packet: %w", err)
		}
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				out[ch] = append(out[ch], pcm[i*channels+ch])
			}
		}
		return nil
	}

	for _, cluster := range doc.Segment.Cluster {
		blocks := cluster.SimpleBlock
		for _, group := range cluster.BlockGroup {
			blocks = append(blocks, group.Block)
		}
		for _, block := range blocks {
			if block.TrackNumber != track.TrackNumber {
				continue
			}
			for _, packet := range block.Data {
				if err := appendPacket(packet); err != nil {
					return nil, err
				}
			}
		}
	}

	if len(out[0]) == 0 {
		return nil, fmt.Errorf("webm stream has no opus blocks")
	}
	if preSkip >= len(out[0]) {
		preSkip = 0
	}
	for ch := range out {
		out[ch] = out[ch][preSkip:]
	}

	return &Decoded{Channels: out, SampleRate: opusSampleRate}, nil
}

func webmOpusTrack(entries []webm.TrackEntry) (webm.TrackEntry, error) {
	for _, entry := range entries {
		if strings.EqualFold(entry.CodecID, webmOpusCodecID) {
			return entry, nil
		}
	}
	if len(entries) == 0 {
		return webm.TrackEntry{}, fmt.Errorf("webm stream has no tracks")
	}
	return webm.TrackEntry{}, fmt.Errorf("unsupported webm codec %q", entries[0].CodecID)
}

// webmOpusLayout prefers the OpusHead carried in CodecPrivate, which also
// holds the pre-skip, over the track's audio element.
func webmOpusLayout(track webm.TrackEntry) (channels, preSkip int) {
	channels = 1
	if track.Audio != nil && track.Audio.Channels > 0 {
		channels = int(track.Audio.Channels)
	}

	head := track.CodecPrivate
	if len(head) >= 12 && bytes.HasPrefix(head, opusHeadMagic) {
		if c := int(head[9]); c > 0 {
			channels = c
		}
		preSkip = int(binary.LittleEndian.Uint16(head[10:12]))
	}
	return channels, preSkip
}
