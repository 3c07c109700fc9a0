package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/internal/models"
)

// DefaultEncoding returns a fresh copy of the built-in encoding configuration.
func DefaultEncoding() *models.EncodingConfig {
	return &models.EncodingConfig{
		VideoEncoder: models.EncoderConfig{
			Name: models.DefaultVideoEncoder,
			Properties: map[string]interface{}{
				"crf":               int64(28),
				"parameters-string": "preset=6:enable-tf=0:enable-qm=1:qm-min=0:tune=0:enable-overlays=1:scd=1:scm=0",
			},
		},
		AudioEncoder: models.EncoderConfig{
			Name: models.DefaultAudioEncoder,
			Properties: map[string]interface{}{
				"bitrate": int64(96000),
			},
		},
		VideoCapsStr: models.DefaultVideoCaps,
		WorkdirPath:  models.DefaultWorkdir,
	}
}

// ResolveEncoding loads the override document at path. An override replaces
// the defaults wholesale; fields it leaves out are not merged back in.
func ResolveEncoding(path string) (*models.EncodingConfig, error) {
	if path == "" {
		return DefaultEncoding(), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultEncoding(), nil
		}
		return nil, failure.Config("stat "+path, err)
	}
	if info.IsDir() {
		return DefaultEncoding(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Config("read "+path, err)
	}
	cfg, err := ParseEncoding(data)
	if err != nil {
		return nil, failure.Config("parse "+path, err)
	}
	return cfg, nil
}

// ParseEncoding decodes an encoding document, keeping integral numbers as
// int64 so engine properties receive the type they expect.
func ParseEncoding(data []byte) (*models.EncodingConfig, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var cfg models.EncodingConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.VideoEncoder.Properties = normalizeNumbers(cfg.VideoEncoder.Properties)
	cfg.AudioEncoder.Properties = normalizeNumbers(cfg.AudioEncoder.Properties)
	return &cfg, nil
}

func normalizeNumbers(props map[string]interface{}) map[string]interface{} {
	for k, v := range props {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			props[k] = i
			continue
		}
		if f, err := n.Float64(); err == nil {
			props[k] = f
		}
	}
	return props
}
