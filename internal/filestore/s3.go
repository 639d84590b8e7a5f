package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

// S3Store implements Store on an S3 bucket
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store creates an S3-backed store. An optional endpoint enables
// S3-compatible services.
func NewS3Store(ctx context.Context, bucket, region, endpoint string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Store{
		client: s3.NewFromConfig(cfg, clientOpts...),
		bucket: bucket,
	}, nil
}

func (s *S3Store) fileKey(programID, versionID, relPath string) string {
	return path.Join(programID, versionID, "files", relPath)
}

func (s *S3Store) outputKey(programID, versionID, executionID, name string) string {
	return path.Join(programID, versionID, "execution", executionID, "outputs", name)
}

// Put writes a version file
func (s *S3Store) Put(ctx context.Context, programID, versionID, relPath string, data []byte, contentType string) (string, error) {
	if err := validateRelPath(relPath); err != nil {
		return "", err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fileKey(programID, versionID, relPath)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("failed to put object: %w", err)
	}
	return hashOf(data), nil
}

// Get reads a version file
func (s *S3Store) Get(ctx context.Context, programID, versionID, relPath string) ([]byte, error) {
	if err := validateRelPath(relPath); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fileKey(programID, versionID, relPath)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, progerr.NotFound("file", relPath)
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// List lists the files of a version
func (s *S3Store) List(ctx context.Context, programID, versionID string) ([]model.VersionFile, error) {
	prefix := s.fileKey(programID, versionID, "") + "/"

	var files []model.VersionFile
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			files = append(files, model.VersionFile{
				Path:       strings.TrimPrefix(aws.ToString(obj.Key), prefix),
				StorageKey: aws.ToString(obj.Key),
				Hash:       strings.Trim(aws.ToString(obj.ETag), `"`),
				Size:       aws.ToInt64(obj.Size),
			})
		}
	}
	return files, nil
}

// Delete removes a single version file, or the whole version when relPath is
// empty.
func (s *S3Store) Delete(ctx context.Context, programID, versionID, relPath string) error {
	if relPath != "" {
		if err := validateRelPath(relPath); err != nil {
			return err
		}
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fileKey(programID, versionID, relPath)),
		})
		return err
	}

	files, err := s.List(ctx, programID, versionID)
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.Delete(ctx, programID, versionID, f.Path); err != nil {
			return err
		}
	}
	return nil
}

// Copy duplicates every file of one version into another
func (s *S3Store) Copy(ctx context.Context, programID, fromVersionID, toVersionID string) error {
	files, err := s.List(ctx, programID, fromVersionID)
	if err != nil {
		return err
	}

	for _, f := range files {
		source := path.Join(s.bucket, s.fileKey(programID, fromVersionID, f.Path))
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(source),
			Key:        aws.String(s.fileKey(programID, toVersionID, f.Path)),
		})
		if err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.Path, err)
		}
	}
	return nil
}

// PutOutput stores an execution output file
func (s *S3Store) PutOutput(ctx context.Context, programID, versionID, executionID, name string, data []byte) (string, error) {
	if err := validateRelPath(name); err != nil {
		return "", err
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.outputKey(programID, versionID, executionID, name)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to put output: %w", err)
	}
	return hashOf(data), nil
}

// GetOutput reads an execution output file
func (s *S3Store) GetOutput(ctx context.Context, programID, versionID, executionID, name string) ([]byte, error) {
	if err := validateRelPath(name); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.outputKey(programID, versionID, executionID, name)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, progerr.NotFound("output file", name)
		}
		return nil, fmt.Errorf("failed to get output: %w", err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

// Stats returns storage usage for a program
func (s *S3Store) Stats(ctx context.Context, programID string) (*StoreStats, error) {
	stats := &StoreStats{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(programID + "/"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			stats.FileCount++
			stats.TotalBytes += aws.ToInt64(obj.Size)
		}
	}
	return stats, nil
}

func isNoSuchKey(err error) bool {
	return strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound")
}
