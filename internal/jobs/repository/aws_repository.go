package repository

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/amankumarsingh77/av1-transcode-queue/internal/jobs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type awsRepository struct {
	client        *s3.Client
	preSignClient *s3.PresignClient
}

func NewAwsRepository(awsClient *s3.Client, preSignClient *s3.PresignClient) jobs.AWSRepository {
	return &awsRepository{
		client:        awsClient,
		preSignClient: preSignClient,
	}
}

func (a *awsRepository) Download(ctx context.Context, bucket, key, dst string) error {
	res, err := a.client.GetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: &bucket,
			Key:    &key,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to download file : %w", err)
	}
	defer res.Body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, res.Body); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s : %w", dst, err)
	}
	return out.Close()
}

func (a *awsRepository) Upload(ctx context.Context, bucket, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	contentType := "video/mp4"
	size := info.Size()
	_, err = a.client.PutObject(
		ctx,
		&s3.PutObjectInput{
			Bucket:        &bucket,
			Key:           &key,
			ContentType:   &contentType,
			ContentLength: &size,
			Body:          f,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to upload file : %w", err)
	}
	return nil
}

func (a *awsRepository) PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := a.preSignClient.PresignGetObject(
		ctx,
		&s3.GetObjectInput{
			Bucket: &bucket,
			Key:    &key,
		},
		s3.WithPresignExpires(expires),
	)
	if err != nil {
		return "", fmt.Errorf("failed to presign get object : %w", err)
	}
	return req.URL, nil
}
