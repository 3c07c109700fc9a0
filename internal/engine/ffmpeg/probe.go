package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// StreamInfo describes one elementary stream of a probed input.
type StreamInfo struct {
	Index int
	Caps  string
}

// ProbeResult is the part of ffprobe output the engine needs.
type ProbeResult struct {
	Duration time.Duration
	Streams  []StreamInfo
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Index       int            `json:"index"`
		CodecName   string         `json:"codec_name"`
		CodecType   string         `json:"codec_type"`
		Disposition map[string]int `json:"disposition"`
	} `json:"streams"`
}

func runProbe(ctx context.Context, ffprobe, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, ffprobe,
		"-v", "error",
		"-print_format", "json",
		"-show_format", "-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe %q: %w: %s", path, err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe %q: %w", path, err)
	}
	return ParseProbeJSON(out)
}

// ParseProbeJSON converts raw ffprobe JSON into a ProbeResult. Stream caps
// follow the "<media>/x-<codec>" shape, so the router sees "video/x-h264" or
// "audio/x-aac". Cover art is reported as "image/x-<codec>".
func ParseProbeJSON(data []byte) (*ProbeResult, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse ffprobe JSON: %w", err)
	}

	res := &ProbeResult{}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64); err == nil && secs > 0 {
		res.Duration = time.Duration(secs * float64(time.Second))
	}
	for _, s := range raw.Streams {
		media := s.CodecType
		switch {
		case media == "video" && s.Disposition["attached_pic"] == 1:
			media = "image"
		case media == "data" || media == "attachment" || media == "":
			media = "application"
		}
		codec := s.CodecName
		if codec == "" {
			codec = "unknown"
		}
		res.Streams = append(res.Streams, StreamInfo{Index: s.Index, Caps: media + "/x-" + codec})
	}
	return res, nil
}
