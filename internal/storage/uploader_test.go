package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	mu         sync.Mutex
	puts       map[string]*s3.PutObjectInput
	inFlight   int
	maxFlight  int
	putErr     error
	putErrKey  string
	partCalls  int
	created    int
	completed  int
	aborted    int
	partKeyErr bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{puts: make(map[string]*s3.PutObjectInput)}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	key := aws.ToString(in.Key)
	failing := f.putErr != nil && (f.putErrKey == "" || f.putErrKey == key)
	if !failing {
		f.puts[key] = in
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	if failing {
		return nil, f.putErr
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partCalls++
	if f.partKeyErr {
		return nil, errors.New("part refused")
	}
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

func TestObjectKeyUsesForwardSlashes(t *testing.T) {
	key := ObjectKey("sites/demo", filepath.Join("assets", "app.js"))
	if key != "sites/demo/assets/app.js" {
		t.Fatalf("ObjectKey = %q", key)
	}
}

func TestUploadTreeUploadsEveryFile(t *testing.T) {
	api := newFakeS3()
	u := NewUploader(api, Config{Bucket: "sites", Concurrency: 4}, discardLogger())

	root := writeTree(t, map[string]string{
		"index.html":    "<html></html>",
		"assets/app.js": "console.log(1)",
		"img/logo.png":  "not-a-real-png",
	})

	if err := u.UploadTree(context.Background(), root, "demo"); err != nil {
		t.Fatalf("UploadTree: %v", err)
	}

	var keys []string
	for key := range api.puts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	want := []string{"demo/assets/app.js", "demo/img/logo.png", "demo/index.html"}
	if len(keys) != len(want) {
		t.Fatalf("uploaded keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("uploaded keys = %v, want %v", keys, want)
		}
	}

	put := api.puts["demo/index.html"]
	if got := aws.ToString(put.ContentType); got != "text/html" {
		t.Errorf("index.html content type = %q", got)
	}
	if got := aws.ToString(put.CacheControl); got != "no-cache" {
		t.Errorf("index.html cache control = %q", got)
	}
	if put.ACL != "public-read" {
		t.Errorf("index.html ACL = %q", put.ACL)
	}
}

func TestUploadTreePrependsBucketPrefix(t *testing.T) {
	api := newFakeS3()
	u := NewUploader(api, Config{Bucket: "sites", BucketPrefix: "sites", Concurrency: 1}, discardLogger())

	root := writeTree(t, map[string]string{"index.html": "<html></html>"})

	if err := u.UploadTree(context.Background(), root, "demo"); err != nil {
		t.Fatalf("UploadTree: %v", err)
	}
	if _, ok := api.puts["sites/demo/index.html"]; !ok {
		var keys []string
		for key := range api.puts {
			keys = append(keys, key)
		}
		t.Fatalf("object keys = %v, want [sites/demo/index.html]", keys)
	}
}

func TestUploadTreeBoundsConcurrency(t *testing.T) {
	api := newFakeS3()
	u := NewUploader(api, Config{Bucket: "sites", Concurrency: 2}, discardLogger())

	files := make(map[string]string, 24)
	for i := 0; i < 24; i++ {
		files[filepath.Join("a", "b", "f"+string(rune('a'+i)))+".txt"] = "x"
	}
	root := writeTree(t, files)

	if err := u.UploadTree(context.Background(), root, "demo"); err != nil {
		t.Fatalf("UploadTree: %v", err)
	}
	if api.maxFlight > 2 {
		t.Fatalf("max in-flight uploads = %d, want <= 2", api.maxFlight)
	}
	if len(api.puts) != 24 {
		t.Fatalf("uploaded %d files, want 24", len(api.puts))
	}
}

func TestUploadTreeReturnsFirstFailure(t *testing.T) {
	api := newFakeS3()
	api.putErr = errors.New("bucket gone")
	u := NewUploader(api, Config{Bucket: "sites", Concurrency: 2}, discardLogger())

	root := writeTree(t, map[string]string{
		"a.txt": "a",
		"b.txt": "b",
		"c.txt": "c",
	})

	err := u.UploadTree(context.Background(), root, "demo")
	if err == nil {
		t.Fatal("expected upload error")
	}
	var storageErr *Error
	if !errors.As(err, &storageErr) {
		t.Fatalf("expected *storage.Error, got %T", err)
	}
	if storageErr.Bucket != "sites" {
		t.Fatalf("error bucket = %q", storageErr.Bucket)
	}
}

func TestUploadTreeStopsOnCancelledContext(t *testing.T) {
	api := newFakeS3()
	u := NewUploader(api, Config{Bucket: "sites", Concurrency: 1}, discardLogger())

	root := writeTree(t, map[string]string{"a.txt": "a"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := u.UploadTree(ctx, root, "demo"); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestUploadFileUsesMultipartAboveThreshold(t *testing.T) {
	api := newFakeS3()
	u := &Uploader{api: api, cfg: Config{Bucket: "sites", Concurrency: 1, PartSize: 8}, logger: discardLogger()}

	root := writeTree(t, map[string]string{"big.bin": "0123456789abcdef0123"})

	if err := u.UploadTree(context.Background(), root, "demo"); err != nil {
		t.Fatalf("UploadTree: %v", err)
	}
	if api.created != 1 || api.completed != 1 {
		t.Fatalf("multipart created=%d completed=%d, want 1/1", api.created, api.completed)
	}
	// 20 bytes in 8-byte parts is three parts.
	if api.partCalls != 3 {
		t.Fatalf("part calls = %d, want 3", api.partCalls)
	}
	if len(api.puts) != 0 {
		t.Fatalf("expected no simple puts, got %d", len(api.puts))
	}
}

func TestUploadMultipartAbortsOnPartFailure(t *testing.T) {
	api := newFakeS3()
	api.partKeyErr = true
	u := &Uploader{api: api, cfg: Config{Bucket: "sites", Concurrency: 1, PartSize: 8}, logger: discardLogger()}

	root := writeTree(t, map[string]string{"big.bin": "0123456789abcdef"})

	if err := u.UploadTree(context.Background(), root, "demo"); err == nil {
		t.Fatal("expected part failure to surface")
	}
	if api.aborted != 1 {
		t.Fatalf("aborts = %d, want 1", api.aborted)
	}
	if api.completed != 0 {
		t.Fatalf("completed = %d, want 0", api.completed)
	}
}
