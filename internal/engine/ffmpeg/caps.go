package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

// rawFormats maps raw video format names onto ffmpeg pixel formats.
var rawFormats = map[string]string{
	"I420":      "yuv420p",
	"I420_10LE": "yuv420p10le",
	"I420_12LE": "yuv420p12le",
	"Y42B":      "yuv422p",
	"I422_10LE": "yuv422p10le",
	"Y444":      "yuv444p",
	"Y444_10LE": "yuv444p10le",
	"NV12":      "nv12",
	"P010_10LE": "p010le",
	"GRAY8":     "gray",
	"GRAY16_LE": "gray16le",
	"RGB":       "rgb24",
	"BGRA":      "bgra",
	"RGBA":      "rgba",
	"YUY2":      "yuyv422",
	"UYVY":      "uyvy422",
	"I420_10BE": "yuv420p10be",
	"Y444_12LE": "yuv444p12le",
	"I422_12LE": "yuv422p12le",
	"A420_10LE": "yuva420p10le",
	"GBR_10LE":  "gbrp10le",
	"GBRA_10LE": "gbrap10le",
	"NV16":      "nv16",
	"NV21":      "nv21",
	"P012_LE":   "p012le",
	"Y210":      "y210le",
	"v210":      "v210",
	"Y41B":      "yuv411p",
	"YUV9":      "yuv410p",
}

// rawCaps is a parsed raw-video constraint such as
// "video/x-raw,format=I420_10LE,width=1920,height=1080".
type rawCaps struct {
	pixFmt    string
	width     int
	height    int
	framerate string
}

func parseCaps(s string) (rawCaps, error) {
	var c rawCaps
	parts := strings.Split(s, ",")
	if len(parts) == 0 || strings.TrimSpace(parts[0]) != "video/x-raw" {
		return c, fmt.Errorf("unsupported caps %q: only video/x-raw constraints are supported", s)
	}
	for _, field := range parts[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(field), "=")
		if !ok {
			return c, fmt.Errorf("malformed caps field %q", field)
		}
		value = stripCapsType(value)
		switch strings.TrimSpace(key) {
		case "format":
			pix, ok := rawFormats[value]
			if !ok {
				return c, fmt.Errorf("unsupported raw format %q", value)
			}
			c.pixFmt = pix
		case "width":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return c, fmt.Errorf("invalid width %q", value)
			}
			c.width = n
		case "height":
			n, err := strconv.Atoi(value)
			if err != nil || n <= 0 {
				return c, fmt.Errorf("invalid height %q", value)
			}
			c.height = n
		case "framerate":
			c.framerate = value
		}
	}
	return c, nil
}

// stripCapsType drops an explicit "(string)" or "(int)" type prefix.
func stripCapsType(v string) string {
	v = strings.TrimSpace(v)
	if strings.HasPrefix(v, "(") {
		if i := strings.Index(v, ")"); i > 0 {
			v = v[i+1:]
		}
	}
	return v
}

func (c rawCaps) args() []string {
	var args []string
	if c.pixFmt != "" {
		args = append(args, "-pix_fmt", c.pixFmt)
	}
	switch {
	case c.width > 0 && c.height > 0:
		args = append(args, "-filter", fmt.Sprintf("scale=%d:%d", c.width, c.height))
	case c.width > 0:
		args = append(args, "-filter", fmt.Sprintf("scale=%d:-2", c.width))
	case c.height > 0:
		args = append(args, "-filter", fmt.Sprintf("scale=-2:%d", c.height))
	}
	if c.framerate != "" {
		args = append(args, "-r", c.framerate)
	}
	return args
}
