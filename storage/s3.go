package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Store implements BackupStore on an S3 bucket holding JSON blobs.
type S3Store struct {
	Client *s3.Client
	Bucket string
}

// InitializeS3Store builds an S3Store from AWS_REGION and the given
// bucket env variable.
func InitializeS3Store(bucketEnv string) *S3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO(), config.WithRegion(os.Getenv("AWS_REGION")))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	return &S3Store{Client: s3.NewFromConfig(cfg), Bucket: os.Getenv(bucketEnv)}
}

// PutObject writes the item as a JSON object under the given key.
func (s *S3Store) PutObject(ctx context.Context, key string, item interface{}) error {
	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal backup object '%s': %w", key, err)
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to put backup object '%s': %w", key, err)
	}
	return nil
}

// GetObject reads the JSON object under the given key into out. The second
// return is false when the key does not exist.
func (s *S3Store) GetObject(ctx context.Context, key string, out interface{}) (bool, error) {
	output, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get backup object '%s': %w", key, err)
	}
	defer output.Body.Close()

	body, err := io.ReadAll(output.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read backup object '%s': %w", key, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal backup object '%s': %w", key, err)
	}
	return true, nil
}

// DeleteObject removes the object under the given key.
func (s *S3Store) DeleteObject(ctx context.Context, key string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete backup object '%s': %w", key, err)
	}
	return nil
}
