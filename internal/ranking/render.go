package ranking

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/snapetech/iptvscout/internal/channel"
	"github.com/snapetech/iptvscout/internal/sampler"
)

// DefaultThreshold is the minimum speed in MB/s a channel needs to be written.
const DefaultThreshold = 0.3

// Passes reports whether speed, rounded to 2 decimals, is above threshold.
func Passes(speed, threshold float64) bool {
	return sampler.Round2(speed) > threshold
}

// Render writes doc as a genre playlist:
//
//	中央频道,#genre#
//	CCTV1,http://host/a.m3u8,1.5,1920x1080
//
// with a blank line after each group.
func Render(w io.Writer, doc channel.PlaylistDocument, threshold float64) error {
	bw := bufio.NewWriter(w)
	for _, g := range doc.Groups {
		bw.WriteString(string(g.Name) + ",#genre#\n")
		for _, c := range g.Channels {
			if !Passes(c.SpeedMBps, threshold) {
				continue
			}
			line := cleanName(c.Name) + "," + c.URL + "," + FormatSpeed(c.SpeedMBps)
			if c.Resolution.Known() {
				line += "," + c.Resolution.String()
			}
			bw.WriteString(line + "\n")
		}
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// RenderM3U writes doc as an extended M3U playlist with group-title attributes.
func RenderM3U(w io.Writer, doc channel.PlaylistDocument, threshold float64) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#EXTM3U\n")
	for _, g := range doc.Groups {
		for _, c := range g.Channels {
			if !Passes(c.SpeedMBps, threshold) {
				continue
			}
			name := strings.ReplaceAll(cleanName(c.Name), ",", " ")
			bw.WriteString("#EXTINF:-1 group-title=\"" + string(g.Name) + "\"," + name + "\n")
			bw.WriteString(c.URL + "\n")
		}
	}
	return bw.Flush()
}

// FormatSpeed renders a rounded speed, always with a fractional part (2 -> "2.0").
func FormatSpeed(v float64) string {
	s := strconv.FormatFloat(sampler.Round2(v), 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func cleanName(name string) string {
	return strings.ReplaceAll(name, "CCTVCCTV", "CCTV")
}
