package ffmpeg

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/engine"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "disposition": {"attached_pic": 0}},
    {"index": 1, "codec_name": "aac", "codec_type": "audio"},
    {"index": 2, "codec_name": "mjpeg", "codec_type": "video", "disposition": {"attached_pic": 1}},
    {"index": 3, "codec_name": "subrip", "codec_type": "subtitle"}
  ],
  "format": {"duration": "12.500000"}
}`

func readyEngine(t *testing.T) *Engine {
	t.Helper()
	e := New("ffmpeg", "ffprobe", logger.NewNop())
	e.initialized = true
	e.ffmpeg = "ffmpeg"
	e.probe = func(ctx context.Context, path string) (*ProbeResult, error) {
		return ParseProbeJSON([]byte(sampleProbe))
	}
	return e
}

func TestParseProbeJSON(t *testing.T) {
	res, err := ParseProbeJSON([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("ParseProbeJSON: %v", err)
	}
	if res.Duration != 12500*time.Millisecond {
		t.Errorf("duration = %v, want 12.5s", res.Duration)
	}
	want := []string{"video/x-h264", "audio/x-aac", "image/x-mjpeg", "subtitle/x-subrip"}
	if len(res.Streams) != len(want) {
		t.Fatalf("got %d streams, want %d", len(res.Streams), len(want))
	}
	for i, w := range want {
		if res.Streams[i].Caps != w || res.Streams[i].Index != i {
			t.Errorf("stream %d = %+v, want caps %q", i, res.Streams[i], w)
		}
	}
}

func TestParseProbeJSONInvalid(t *testing.T) {
	if _, err := ParseProbeJSON([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParseProbeJSONMissingDuration(t *testing.T) {
	res, err := ParseProbeJSON([]byte(`{"streams":[],"format":{"duration":"N/A"}}`))
	if err != nil {
		t.Fatalf("ParseProbeJSON: %v", err)
	}
	if res.Duration != 0 {
		t.Errorf("duration = %v, want 0", res.Duration)
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line string
		want time.Duration
		ok   bool
	}{
		{"out_time_us=1500000", 1500 * time.Millisecond, true},
		{"out_time_ms=2000000", 2 * time.Second, true},
		{"out_time=00:01:02.500000", time.Minute + 2500*time.Millisecond, true},
		{"out_time_us=N/A", 0, false},
		{"frame=42", 0, false},
		{"progress=continue", 0, false},
		{"garbage", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseProgressLine(tt.line)
		if ok != tt.ok || got != tt.want {
			t.Errorf("parseProgressLine(%q) = %v, %v; want %v, %v", tt.line, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseCaps(t *testing.T) {
	c, err := parseCaps("video/x-raw,format=I420_10LE")
	if err != nil {
		t.Fatalf("parseCaps: %v", err)
	}
	if got := strings.Join(c.args(), " "); got != "-pix_fmt yuv420p10le" {
		t.Errorf("args = %q", got)
	}

	c, err = parseCaps("video/x-raw, format=(string)NV12, width=1280, height=720, framerate=30000/1001")
	if err != nil {
		t.Fatalf("parseCaps: %v", err)
	}
	if got := strings.Join(c.args(), " "); got != "-pix_fmt nv12 -filter scale=1280:720 -r 30000/1001" {
		t.Errorf("args = %q", got)
	}

	for _, bad := range []string{"audio/x-raw,rate=48000", "video/x-raw,format=NOPE", "video/x-raw,width=abc"} {
		if _, err := parseCaps(bad); err == nil {
			t.Errorf("parseCaps(%q) succeeded, want error", bad)
		}
	}
}

func TestMakeStage(t *testing.T) {
	e := New("ffmpeg", "ffprobe", logger.NewNop())
	if _, err := e.MakeStage("filesrc", "src"); !errors.Is(err, engine.ErrNotInitialized) {
		t.Fatalf("uninitialized MakeStage err = %v", err)
	}
	e = readyEngine(t)
	if _, err := e.MakeStage("nosuchenc", "x"); !errors.Is(err, engine.ErrNoSuchStage) {
		t.Fatalf("unknown kind err = %v", err)
	}
	st, err := e.MakeStage("svtav1enc", "video_encoder")
	if err != nil {
		t.Fatalf("MakeStage: %v", err)
	}
	if err := st.SetProperty("no_such_prop", 1); !errors.Is(err, engine.ErrNoSuchProperty) {
		t.Errorf("unknown property err = %v", err)
	}
	if err := st.SetProperty("crf", 28.5); err == nil {
		t.Error("fractional crf accepted")
	}
	if err := st.SetProperty("parameters-string", "preset=6"); err != nil {
		t.Errorf("dash-spelled property rejected: %v", err)
	}
}

func TestStaticLinkRules(t *testing.T) {
	e := readyEngine(t)
	src, _ := e.MakeStage("filesrc", "src")
	dec, _ := e.MakeStage("decodebin", "decoder")
	q, _ := e.MakeStage("queue", "video_queue")
	conv, _ := e.MakeStage("videoconvert", "conv")

	if err := dec.Link(q); !errors.Is(err, engine.ErrNotLinkable) {
		t.Errorf("demux static link err = %v", err)
	}
	if err := q.Link(src); !errors.Is(err, engine.ErrNotLinkable) {
		t.Errorf("link into source err = %v", err)
	}
	if err := q.Link(conv); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := q.Link(conv); !errors.Is(err, engine.ErrAlreadyLinked) {
		t.Errorf("second link err = %v", err)
	}
	if src.SinkPad() != nil {
		t.Error("source has a sink pad")
	}
}

// buildGraph wires the default two-branch encode the way the pipeline
// builder does, routing the first video and audio pad.
func buildGraph(t *testing.T, e *Engine, audio bool) *graph {
	t.Helper()
	mk := func(kind, name string) engine.Stage {
		st, err := e.MakeStage(kind, name)
		if err != nil {
			t.Fatalf("MakeStage(%s): %v", kind, err)
		}
		return st
	}
	src := mk("filesrc", "src")
	dec := mk("decodebin", "decoder")
	vq := mk("queue", "video_queue")
	vc := mk("videoconvert", "video_convert")
	caps := mk("capsfilter", "video_caps")
	venc := mk("svtav1enc", "video_encoder")
	aq := mk("queue", "audio_queue")
	ac := mk("audioconvert", "audio_convert")
	ar := mk("audioresample", "audio_resample")
	aenc := mk("opusenc", "audio_encoder")
	mux := mk("mp4mux", "muxer")
	sink := mk("filesink", "sink")

	set := func(st engine.Stage, k string, v interface{}) {
		if err := st.SetProperty(k, v); err != nil {
			t.Fatalf("SetProperty(%s.%s): %v", st.Name(), k, err)
		}
	}
	set(src, "location", "/in/a.mp4")
	set(sink, "location", "/out/a.av1.mp4")
	set(mux, "faststart", true)
	set(caps, "caps", "video/x-raw,format=I420_10LE")
	set(venc, "crf", int64(28))
	set(venc, "parameters_string", "preset=6")
	set(aenc, "bitrate", int64(96000))

	g := e.NewGraph("test").(*graph)
	if err := g.Add(src, dec, vq, vc, caps, venc, aq, ac, ar, aenc, mux, sink); err != nil {
		t.Fatal(err)
	}
	for _, pair := range [][2]engine.Stage{
		{src, dec}, {vq, vc}, {vc, caps}, {caps, venc}, {venc, mux},
		{aq, ac}, {ac, ar}, {ar, aenc}, {aenc, mux}, {mux, sink},
	} {
		if err := pair[0].Link(pair[1]); err != nil {
			t.Fatalf("Link %s -> %s: %v", pair[0].Name(), pair[1].Name(), err)
		}
	}
	dec.OnPadAdded(func(p engine.Pad) {
		switch {
		case strings.HasPrefix(p.Caps(), "video/") && !vq.SinkPad().IsLinked():
			_ = p.Link(vq.SinkPad())
		case audio && strings.HasPrefix(p.Caps(), "audio/") && !aq.SinkPad().IsLinked():
			_ = p.Link(aq.SinkPad())
		}
	})
	d := dec.(*stage)
	d.announce(0, "video/x-h264")
	d.announce(1, "audio/x-aac")
	d.announce(2, "image/x-mjpeg")
	return g
}

func TestCompileTwoBranches(t *testing.T) {
	g := buildGraph(t, readyEngine(t), true)
	args, err := g.compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := "-hide_banner -nostdin -nostats -loglevel error -y -progress pipe:1 -i /in/a.mp4 " +
		"-map 0:0 -c:0 libsvtav1 -crf:0 28 -svtav1-params:0 preset=6 -pix_fmt:0 yuv420p10le " +
		"-map 0:1 -c:1 libopus -b:1 96000 " +
		"-f mp4 -movflags +faststart /out/a.av1.mp4"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("args:\n got %s\nwant %s", got, want)
	}
}

func TestCompileVideoOnly(t *testing.T) {
	g := buildGraph(t, readyEngine(t), false)
	args, err := g.compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	joined := strings.Join(args, " ")
	if strings.Contains(joined, "libopus") || strings.Contains(joined, "0:1") {
		t.Errorf("audio branch compiled without a linked pad: %s", joined)
	}
}

func TestCompileNothingLinked(t *testing.T) {
	e := readyEngine(t)
	src, _ := e.MakeStage("filesrc", "src")
	dec, _ := e.MakeStage("decodebin", "decoder")
	_ = src.SetProperty("location", "/in/a.mp4")
	_ = src.Link(dec)
	g := e.NewGraph("empty").(*graph)
	_ = g.Add(src, dec)
	dec.(*stage).announce(0, "subtitle/x-subrip")
	if _, err := g.compile(); !errors.Is(err, errNoLinkedStreams) {
		t.Fatalf("compile err = %v, want errNoLinkedStreams", err)
	}
}

func TestProbeFailurePostsError(t *testing.T) {
	e := readyEngine(t)
	e.probe = func(ctx context.Context, path string) (*ProbeResult, error) {
		return nil, errors.New("moov atom not found")
	}
	src, _ := e.MakeStage("filesrc", "src")
	dec, _ := e.MakeStage("decodebin", "decoder")
	_ = src.SetProperty("location", "/in/broken.mp4")
	_ = src.Link(dec)
	g := e.NewGraph("broken")
	_ = g.Add(src, dec)
	if err := g.Play(); err != nil {
		t.Fatalf("Play: %v", err)
	}
	select {
	case msg := <-g.Messages():
		if msg.Type != engine.MessageError || msg.Source != "decoder" {
			t.Errorf("message = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error message posted")
	}
	if err := g.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := g.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if err := g.Play(); !errors.Is(err, engine.ErrAlreadyReleased) {
		t.Errorf("Play after Release err = %v", err)
	}
}

func TestQueriesBeforePlay(t *testing.T) {
	g := readyEngine(t).NewGraph("idle")
	if _, ok := g.QueryPosition(); ok {
		t.Error("position known before play")
	}
	if _, ok := g.QueryDuration(); ok {
		t.Error("duration known before play")
	}
	if err := g.Stop(); err != nil {
		t.Errorf("Stop before Play: %v", err)
	}
}
