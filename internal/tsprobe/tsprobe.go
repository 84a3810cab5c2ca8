// Package tsprobe reads the video frame size from the head of an MPEG-TS segment.
//
// It walks PAT -> PMT -> video PES, splits the Annex-B payload into NAL units and
// hands the first SPS to mediacommon. Only H.264 and H.265 are recognised.
package tsprobe

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/snapetech/iptvscout/internal/channel"
)

const (
	packetSize = 188
	syncByte   = 0x47

	streamTypeH264 = 0x1B
	streamTypeH265 = 0x24

	// The SPS sits in the first access unit; stop collecting well before a full segment.
	maxVideoBytes = 512 << 10
)

// Decoder implements the sampler's resolution decoder over MPEG-TS bytes.
type Decoder struct{}

// DecodeResolution returns the frame size, or false when data holds no decodable SPS.
func (Decoder) DecodeResolution(data []byte) (channel.Resolution, bool) {
	return Resolution(data)
}

// Resolution is Decoder.DecodeResolution as a plain function.
func Resolution(data []byte) (res channel.Resolution, ok bool) {
	defer func() {
		if recover() != nil {
			res, ok = channel.Resolution{}, false
		}
	}()
	d := demuxer{}
	d.feed(data)
	if d.videoPID < 0 || len(d.video) == 0 {
		return channel.Resolution{}, false
	}
	return spsResolution(d.videoType, d.video)
}

type demuxer struct {
	pmtPID    int
	videoPID  int
	videoType byte
	video     []byte
}

func (d *demuxer) feed(data []byte) {
	d.pmtPID, d.videoPID = -1, -1
	off := syncOffset(data)
	if off < 0 {
		return
	}
	buf := data[off:]
	for len(buf) >= packetSize {
		if buf[0] != syncByte {
			n := bytes.IndexByte(buf[1:], syncByte)
			if n < 0 {
				return
			}
			buf = buf[n+1:]
			continue
		}
		d.packet(buf[:packetSize])
		buf = buf[packetSize:]
		if len(d.video) >= maxVideoBytes {
			return
		}
	}
}

// syncOffset finds the first 0x47 that is followed by another one a packet later
// (or by the end of data).
func syncOffset(data []byte) int {
	for i := 0; i+packetSize <= len(data); i++ {
		if data[i] != syncByte {
			continue
		}
		if i+packetSize == len(data) || data[i+packetSize] == syncByte {
			return i
		}
	}
	return -1
}

func (d *demuxer) packet(pkt []byte) {
	pid := int(pkt[1]&0x1F)<<8 | int(pkt[2])
	pusi := pkt[1]&0x40 != 0
	afc := (pkt[3] >> 4) & 0x03
	if afc != 1 && afc != 3 {
		return
	}
	off := 4
	if afc == 3 {
		off += 1 + int(pkt[4])
	}
	if off >= len(pkt) {
		return
	}
	payload := pkt[off:]
	switch {
	case pid == 0 && pusi && d.pmtPID < 0:
		d.pmtPID = parsePAT(payload)
	case pid == d.pmtPID && pusi && d.videoPID < 0:
		d.videoPID, d.videoType = parsePMT(payload)
	case pid == d.videoPID:
		if pusi {
			payload = pesPayload(payload)
		}
		d.video = append(d.video, payload...)
	}
}

// psiSection skips the pointer field and bounds the section by section_length.
func psiSection(payload []byte, tableID byte, minLen int) []byte {
	if len(payload) < 1 {
		return nil
	}
	ptr := int(payload[0])
	if 1+ptr >= len(payload) {
		return nil
	}
	sec := payload[1+ptr:]
	if len(sec) < 3 || sec[0] != tableID {
		return nil
	}
	sectionLen := int(sec[1]&0x0F)<<8 | int(sec[2])
	if sectionLen < minLen || 3+sectionLen > len(sec) {
		return nil
	}
	return sec[:3+sectionLen]
}

func parsePAT(payload []byte) int {
	sec := psiSection(payload, 0x00, 9)
	if sec == nil {
		return -1
	}
	end := len(sec) - 4
	for i := 8; i+4 <= end; i += 4 {
		progNum := int(sec[i])<<8 | int(sec[i+1])
		if progNum != 0 {
			return int(sec[i+2]&0x1F)<<8 | int(sec[i+3])
		}
	}
	return -1
}

func parsePMT(payload []byte) (int, byte) {
	sec := psiSection(payload, 0x02, 13)
	if sec == nil {
		return -1, 0
	}
	end := len(sec) - 4
	progInfoLen := int(sec[10]&0x0F)<<8 | int(sec[11])
	for i := 12 + progInfoLen; i+5 <= end; {
		stype := sec[i]
		pid := int(sec[i+1]&0x1F)<<8 | int(sec[i+2])
		esInfoLen := int(sec[i+3]&0x0F)<<8 | int(sec[i+4])
		if stype == streamTypeH264 || stype == streamTypeH265 {
			return pid, stype
		}
		i += 5 + esInfoLen
	}
	return -1, 0
}

// pesPayload strips the PES header from the first packet of a PES packet.
func pesPayload(p []byte) []byte {
	if len(p) < 9 || p[0] != 0 || p[1] != 0 || p[2] != 1 {
		return p
	}
	start := 9 + int(p[8])
	if start >= len(p) {
		return nil
	}
	return p[start:]
}

func spsResolution(streamType byte, es []byte) (channel.Resolution, bool) {
	nals := splitNALUs(es)
	// The last unit may be cut short by the byte range; only units closed by a
	// following start code are parsed.
	if len(nals) > 0 {
		nals = nals[:len(nals)-1]
	}
	for _, nal := range nals {
		switch streamType {
		case streamTypeH264:
			if len(nal) < 1 || h264.NALUType(nal[0]&0x1F) != h264.NALUTypeSPS {
				continue
			}
			var sps h264.SPS
			if err := sps.Unmarshal(nal); err != nil {
				continue
			}
			return h264Size(sps)
		case streamTypeH265:
			if len(nal) < 2 || h265.NALUType((nal[0]>>1)&0x3F) != h265.NALUType_SPS_NUT {
				continue
			}
			var sps h265.SPS
			if err := sps.Unmarshal(nal); err != nil {
				continue
			}
			return h265Size(sps)
		}
	}
	return channel.Resolution{}, false
}

const (
	minDim = 64
	maxDim = 8192
)

// h264Size accepts the cropped size only when cropping removes less than one
// macroblock (a macroblock pair for field coding) from each axis.
func h264Size(sps h264.SPS) (channel.Resolution, bool) {
	codedW := int(sps.PicWidthInMbsMinus1+1) * 16
	rows := 16
	if !sps.FrameMbsOnlyFlag {
		rows = 32
	}
	codedH := int(sps.PicHeightInMapUnitsMinus1+1) * rows
	w, h := sps.Width(), sps.Height()
	if codedW-w < 0 || codedW-w >= 16 || codedH-h < 0 || codedH-h >= rows {
		return channel.Resolution{}, false
	}
	return known(w, h)
}

// h265Size requires coded dimensions on the 8-sample minimum coding block grid
// and a conformance window narrower than one 64-sample CTB.
func h265Size(sps h265.SPS) (channel.Resolution, bool) {
	codedW, codedH := int(sps.PicWidthInLumaSamples), int(sps.PicHeightInLumaSamples)
	if codedW%8 != 0 || codedH%8 != 0 {
		return channel.Resolution{}, false
	}
	w, h := sps.Width(), sps.Height()
	if codedW-w < 0 || codedW-w >= 64 || codedH-h < 0 || codedH-h >= 64 {
		return channel.Resolution{}, false
	}
	return known(w, h)
}

func known(w, h int) (channel.Resolution, bool) {
	if w < minDim || h < minDim || w > maxDim || h > maxDim {
		return channel.Resolution{}, false
	}
	return channel.Resolution{Width: w, Height: h}, true
}

// splitNALUs splits an Annex-B byte stream on 00 00 01 start codes. Unlike a strict
// Annex-B decoder it accepts a truncated tail, which is the normal case for a byte-range read.
func splitNALUs(b []byte) [][]byte {
	var out [][]byte
	start := -1
	for i := 0; i+2 < len(b); i++ {
		if b[i] != 0 || b[i+1] != 0 || b[i+2] != 1 {
			continue
		}
		if start >= 0 {
			out = append(out, trimZeros(b[start:i]))
		}
		start = i + 3
		i += 2
	}
	if start >= 0 && start < len(b) {
		out = append(out, b[start:])
	}
	return out
}

func trimZeros(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}
