package models

const (
	DefaultVideoEncoder = "svtav1enc"
	DefaultAudioEncoder = "opusenc"
	DefaultVideoCaps    = "video/x-raw,format=I420_10LE"
	DefaultWorkdir      = "/tmp/enc"
)

// EncoderConfig names an engine stage and the properties applied to it.
// Property values keep their JSON scalar type (string, int64, float64, bool).
type EncoderConfig struct {
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties"`
}

// EncodingConfig is read once per job and never mutated afterwards.
// Empty fields fall back to the built-in defaults at the point of use.
type EncodingConfig struct {
	VideoEncoder EncoderConfig `json:"video_encoder"`
	AudioEncoder EncoderConfig `json:"audio_encoder"`
	VideoCapsStr string        `json:"video_caps"`
	WorkdirPath  string        `json:"workdir"`
}

func (c *EncodingConfig) VideoEncoderName() string {
	if c.VideoEncoder.Name == "" {
		return DefaultVideoEncoder
	}
	return c.VideoEncoder.Name
}

func (c *EncodingConfig) AudioEncoderName() string {
	if c.AudioEncoder.Name == "" {
		return DefaultAudioEncoder
	}
	return c.AudioEncoder.Name
}

func (c *EncodingConfig) VideoCaps() string {
	if c.VideoCapsStr == "" {
		return DefaultVideoCaps
	}
	return c.VideoCapsStr
}

func (c *EncodingConfig) Workdir() string {
	if c.WorkdirPath == "" {
		return DefaultWorkdir
	}
	return c.WorkdirPath
}
