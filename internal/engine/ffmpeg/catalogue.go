package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"
)

type role int

const (
	roleSource role = iota
	roleDemux
	roleQueue
	roleConvert
	roleCapsFilter
	roleResample
	roleEncoder
	roleMuxer
	roleSink
)

const (
	mediaVideo = "video"
	mediaAudio = "audio"
)

// option maps one stage property onto an ffmpeg output option.
type option struct {
	flag    string
	convert func(v interface{}) (string, error)
	ignored bool
}

type stageSpec struct {
	role    role
	media   string
	codec   string
	format  string
	options map[string]option
}

var ignoredQueueProps = map[string]option{
	"max_size_buffers": {ignored: true},
	"max_size_bytes":   {ignored: true},
	"max_size_time":    {ignored: true},
	"leaky":            {ignored: true},
}

// catalogue lists the stage kinds this engine can instantiate, keyed by the
// element names encoding configs use.
var catalogue = map[string]stageSpec{
	"filesrc":       {role: roleSource},
	"decodebin":     {role: roleDemux},
	"queue":         {role: roleQueue, options: ignoredQueueProps},
	"videoconvert":  {role: roleConvert, media: mediaVideo},
	"audioconvert":  {role: roleConvert, media: mediaAudio},
	"capsfilter":    {role: roleCapsFilter, media: mediaVideo},
	"audioresample": {role: roleResample, media: mediaAudio, options: map[string]option{"quality": {ignored: true}}},
	"mp4mux":        {role: roleMuxer, format: "mp4"},
	"qtmux":         {role: roleMuxer, format: "mov"},
	"matroskamux":   {role: roleMuxer, format: "matroska"},
	"webmmux":       {role: roleMuxer, format: "webm"},
	"filesink":      {role: roleSink},

	"svtav1enc": {role: roleEncoder, media: mediaVideo, codec: "libsvtav1", options: map[string]option{
		"crf":                 {flag: "-crf", convert: intArg},
		"preset":              {flag: "-preset", convert: intArg},
		"parameters_string":   {flag: "-svtav1-params", convert: stringArg},
		"target_bitrate":      {flag: "-b", convert: kbitArg},
		"intra_period_length": {flag: "-g", convert: intArg},
	}},
	"av1enc": {role: roleEncoder, media: mediaVideo, codec: "libaom-av1", options: map[string]option{
		"cpu_used":       {flag: "-cpu-used", convert: intArg},
		"target_bitrate": {flag: "-b", convert: kbitArg},
		"row_mt":         {flag: "-row-mt", convert: boolArg},
	}},
	"x264enc": {role: roleEncoder, media: mediaVideo, codec: "libx264", options: map[string]option{
		"bitrate":      {flag: "-b", convert: kbitArg},
		"speed_preset": {flag: "-preset", convert: stringArg},
		"tune":         {flag: "-tune", convert: stringArg},
		"quantizer":    {flag: "-qp", convert: intArg},
		"key_int_max":  {flag: "-g", convert: intArg},
	}},
	"x265enc": {role: roleEncoder, media: mediaVideo, codec: "libx265", options: map[string]option{
		"bitrate":       {flag: "-b", convert: kbitArg},
		"speed_preset":  {flag: "-preset", convert: stringArg},
		"option_string": {flag: "-x265-params", convert: stringArg},
		"key_int_max":   {flag: "-g", convert: intArg},
	}},
	"opusenc": {role: roleEncoder, media: mediaAudio, codec: "libopus", options: map[string]option{
		"bitrate":    {flag: "-b", convert: intArg},
		"complexity": {flag: "-compression_level", convert: intArg},
		"frame_size": {flag: "-frame_duration", convert: stringArg},
	}},
	"avenc_aac": {role: roleEncoder, media: mediaAudio, codec: "aac", options: map[string]option{
		"bitrate": {flag: "-b", convert: intArg},
	}},
	"fdkaacenc": {role: roleEncoder, media: mediaAudio, codec: "libfdk_aac", options: map[string]option{
		"bitrate": {flag: "-b", convert: intArg},
	}},
	"lamemp3enc": {role: roleEncoder, media: mediaAudio, codec: "libmp3lame", options: map[string]option{
		"bitrate": {flag: "-b", convert: kbitArg},
		"quality": {flag: "-q", convert: stringArg},
	}},
}

func normalizeProperty(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "-", "_"))
}

func stringArg(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return fmt.Sprint(t), nil
	}
}

func intArg(v interface{}) (string, error) {
	n, err := toInt(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10), nil
}

// kbitArg renders a kbit/s property the way ffmpeg expects a bitrate.
func kbitArg(v interface{}) (string, error) {
	n, err := toInt(v)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(n, 10) + "k", nil
}

func boolArg(v interface{}) (string, error) {
	switch t := v.(type) {
	case bool:
		if t {
			return "1", nil
		}
		return "0", nil
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return "", fmt.Errorf("expected boolean, got %q", t)
		}
		return boolArg(b)
	default:
		return "", fmt.Errorf("expected boolean, got %T", v)
	}
}

func toInt(v interface{}) (int64, error) {
	switch t := v.(type) {
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case uint:
		return int64(t), nil
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("expected integer, got %v", t)
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected integer, got %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toBool(v interface{}) (bool, error) {
	s, err := boolArg(v)
	if err != nil {
		return false, err
	}
	return s == "1", nil
}
