package jobs

import (
	"context"
	"time"
)

type AWSRepository interface {
	Download(ctx context.Context, bucket, key, dst string) error
	Upload(ctx context.Context, bucket, key, src string) error
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}
