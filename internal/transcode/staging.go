package transcode

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/failure"
	"github.com/amankumarsingh77/av1-transcode-queue/pkg/logger"
)

const s3Scheme = "s3://"

// ObjectStore moves whole objects between a bucket and the local disk.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key, dst string) error
	Upload(ctx context.Context, bucket, key, src string) error
}

// ParseS3URI splits "s3://bucket/key/parts" into its bucket and key.
func ParseS3URI(uri string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return "", "", false
	}
	bucket, key, found := strings.Cut(strings.TrimPrefix(uri, s3Scheme), "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

// BaseName is the file name of a local path or object key.
func BaseName(p string) string {
	if _, key, ok := ParseS3URI(p); ok {
		return path.Base(key)
	}
	return filepath.Base(p)
}

// Stager copies job files into and out of a workspace. Paths starting with
// s3:// go through the object store, anything else is a local file.
type Stager struct {
	store  ObjectStore
	logger logger.Logger
}

func NewStager(store ObjectStore, log logger.Logger) *Stager {
	return &Stager{store: store, logger: log}
}

// StageIn copies src into dir and returns the local copy's path.
func (s *Stager) StageIn(ctx context.Context, src, dir string) (string, error) {
	dst := filepath.Join(dir, BaseName(src))
	s.logger.Infof("Copying file %s to %s", BaseName(src), dst)

	if bucket, key, ok := ParseS3URI(src); ok {
		if s.store == nil {
			return "", failure.Staging("stage in", fmt.Errorf("no object store configured for %s", src))
		}
		if err := s.store.Download(ctx, bucket, key, dst); err != nil {
			return "", failure.Staging("stage in", err)
		}
		return dst, nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", failure.Staging("stage in", err)
	}
	if !info.Mode().IsRegular() {
		return "", failure.Staging("stage in", fmt.Errorf("%s is not a regular file", src))
	}
	if err := copyFile(ctx, src, dst); err != nil {
		return "", failure.Staging("stage in", err)
	}
	return dst, nil
}

// StageOut copies the produced file at local to dst.
func (s *Stager) StageOut(ctx context.Context, local, dst string) error {
	s.logger.Infof("Copying processed file %s to %s", filepath.Base(local), dst)

	if bucket, key, ok := ParseS3URI(dst); ok {
		if s.store == nil {
			return failure.Staging("stage out", fmt.Errorf("no object store configured for %s", dst))
		}
		if err := s.store.Upload(ctx, bucket, key, local); err != nil {
			return failure.Staging("stage out", err)
		}
		return nil
	}

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return failure.Staging("stage out", err)
		}
	}
	tmp := dst + ".part"
	if err := copyFile(ctx, local, tmp); err != nil {
		_ = os.Remove(tmp)
		return failure.Staging("stage out", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return failure.Staging("stage out", err)
	}
	return nil
}

// ctxReader stops a copy at the next read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func copyFile(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: in}); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
