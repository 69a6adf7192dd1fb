package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/orrn/printq/internal/config"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"jobs/1/a.pdf", "jobs/1/a.pdf", false},
		{"/jobs//1/a.pdf", "jobs/1/a.pdf", false},
		{"jobs\\1\\a.pdf", "jobs/1/a.pdf", false},
		{"../etc/passwd", "", true},
		{"jobs/../../x", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := cleanKey(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("cleanKey(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("cleanKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocal_PutOpen(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "jobs/abc/report.pdf", strings.NewReader("%PDF-1.4")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	rc, err := store.Open(ctx, "jobs/abc/report.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "%PDF-1.4" {
		t.Errorf("content = %q", b)
	}

	if _, err := store.Open(ctx, "jobs/missing.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
	if err := store.Put(ctx, "../escape", strings.NewReader("x")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put(../escape) error = %v, want ErrInvalidKey", err)
	}
}

func TestLocal_PutCancelled(t *testing.T) {
	store, _ := NewLocal(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Put(ctx, "a.pdf", strings.NewReader("data")); err == nil {
		t.Error("expected error for cancelled context")
	}
	if _, err := store.Open(context.Background(), "a.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("partial upload left behind: %v", err)
	}
}

func TestNew_SelectsDriver(t *testing.T) {
	store, err := New(context.Background(), config.StorageConfig{Driver: "local", BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New(local) error = %v", err)
	}
	if _, ok := store.(*Local); !ok {
		t.Errorf("store = %T, want *Local", store)
	}

	if _, err := New(context.Background(), config.StorageConfig{Driver: "ftp"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestS3_PutOpen(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	store := &S3{client: fake, bucket: "prints"}
	ctx := context.Background()

	if err := store.Put(ctx, "/jobs/1/a.pdf", strings.NewReader("body")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, ok := fake.objects["prints/jobs/1/a.pdf"]; !ok {
		t.Errorf("objects = %v, want normalized key", fake.objects)
	}

	rc, err := store.Open(ctx, "jobs/1/a.pdf")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, _ := io.ReadAll(rc)
	rc.Close()
	if string(b) != "body" {
		t.Errorf("content = %q", b)
	}

	if _, err := store.Open(ctx, "jobs/none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrNotFound", err)
	}
}
