package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"

	"github.com/silvabyte/godeploy-sub000/internal/assets"
)

// Uploader pushes extracted site trees to object storage. The fan-out is
// bounded by a fixed worker budget independent of file count, which caps
// memory and outbound connections on very large bundles.
type Uploader struct {
	api    S3API
	cfg    Config
	logger *slog.Logger
}

// NewUploader returns an uploader writing to the configured bucket.
func NewUploader(api S3API, cfg Config, logger *slog.Logger) *Uploader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PartSize < MinPartSize {
		cfg.PartSize = MinPartSize
	}
	return &Uploader{api: api, cfg: cfg, logger: logger}
}

// ObjectKey derives the storage key for a file: forward-slash separated
// regardless of host path convention, so re-deploys of the same tree hit the
// same keys.
func ObjectKey(keyPrefix, relPath string) string {
	return keyPrefix + "/" + filepath.ToSlash(relPath)
}

// objectPrefix prepends the configured bucket prefix to a project storage
// key, so every deployed object lives under {bucket-prefix}/{storage-key}/.
func (u *Uploader) objectPrefix(keyPrefix string) string {
	bp := strings.Trim(u.cfg.BucketPrefix, "/")
	if bp == "" {
		return keyPrefix
	}
	return bp + "/" + keyPrefix
}

// UploadTree walks treeRoot and uploads every regular file under the
// configured bucket prefix and keyPrefix. The first upload failure is captured; no new uploads are
// scheduled once a failure is observed, in-flight uploads drain before the
// captured error is returned. Upload is not transactional: objects stored
// before the failure remain in the bucket.
func (u *Uploader) UploadTree(ctx context.Context, treeRoot, keyPrefix string) error {
	prefix := u.objectPrefix(keyPrefix)
	var (
		slots    = make(chan struct{}, u.cfg.Concurrency)
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	failed := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firstErr != nil
	}

	walkErr := filepath.WalkDir(treeRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if failed() {
			return filepath.SkipAll
		}

		rel, err := filepath.Rel(treeRoot, path)
		if err != nil {
			return err
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			if err := u.uploadFile(ctx, path, ObjectKey(prefix, rel)); err != nil {
				fail(err)
			}
		}()
		return nil
	})

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if firstErr != nil {
		return firstErr
	}
	if walkErr != nil {
		return fmt.Errorf("walk site tree: %w", walkErr)
	}
	return nil
}

func (u *Uploader) uploadFile(ctx context.Context, path, key string) error {
	info, err := os.Stat(path)
	if err != nil {
		return newError("stat", u.cfg.Bucket, key, err)
	}

	contentType, cacheControl := assets.Classify(key)
	if contentType == assets.DefaultContentType {
		// Unknown extension: sniff the content before giving up.
		if mt, err := mimetype.DetectFile(path); err == nil {
			contentType = mt.String()
		}
	}

	file, err := os.Open(path)
	if err != nil {
		return newError("open", u.cfg.Bucket, key, err)
	}
	defer file.Close()

	if info.Size() >= u.cfg.PartSize {
		return u.uploadMultipart(ctx, file, key, contentType, cacheControl)
	}
	return u.uploadSimple(ctx, file, key, contentType, cacheControl)
}

func (u *Uploader) uploadSimple(ctx context.Context, file *os.File, key, contentType, cacheControl string) error {
	_, err := u.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(u.cfg.Bucket),
		Key:          aws.String(key),
		Body:         file,
		ACL:          types.ObjectCannedACLPublicRead,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return newError("put", u.cfg.Bucket, key, err)
	}
	return nil
}

// uploadMultipart streams the file one part at a time so arbitrarily large
// assets never need to fit in memory.
func (u *Uploader) uploadMultipart(ctx context.Context, file *os.File, key, contentType, cacheControl string) error {
	created, err := u.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:       aws.String(u.cfg.Bucket),
		Key:          aws.String(key),
		ACL:          types.ObjectCannedACLPublicRead,
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return newError("createMultipart", u.cfg.Bucket, key, err)
	}
	uploadID := created.UploadId

	abort := func() {
		_, abortErr := u.api.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(u.cfg.Bucket),
			Key:      aws.String(key),
			UploadId: uploadID,
		})
		if abortErr != nil && u.logger != nil {
			u.logger.Warn("abort multipart upload failed", "key", key, "error", abortErr)
		}
	}

	var completed []types.CompletedPart
	buf := make([]byte, u.cfg.PartSize)
	for partNumber := int32(1); ; partNumber++ {
		n, readErr := io.ReadFull(file, buf)
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, io.ErrUnexpectedEOF) {
			abort()
			return newError("readPart", u.cfg.Bucket, key, readErr)
		}
		if n > 0 {
			part, err := u.api.UploadPart(ctx, &s3.UploadPartInput{
				Bucket:     aws.String(u.cfg.Bucket),
				Key:        aws.String(key),
				UploadId:   uploadID,
				PartNumber: aws.Int32(partNumber),
				Body:       bytes.NewReader(buf[:n]),
			})
			if err != nil {
				abort()
				return newError("uploadPart", u.cfg.Bucket, key, err)
			}
			completed = append(completed, types.CompletedPart{
				ETag:       part.ETag,
				PartNumber: aws.Int32(partNumber),
			})
		}
		if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
			break
		}
	}

	_, err = u.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(u.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		abort()
		return newError("completeMultipart", u.cfg.Bucket, key, err)
	}
	return nil
}
