package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type uploaded struct {
	bucket      string
	key         string
	contentType string
	body        string
}

type fakeUploader struct {
	objects []uploaded
	failKey string
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	key := aws.ToString(input.Key)
	if key == f.failKey {
		return nil, errors.New("access denied")
	}
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.objects = append(f.objects, uploaded{
		bucket:      aws.ToString(input.Bucket),
		key:         key,
		contentType: aws.ToString(input.ContentType),
		body:        string(body),
	})
	return &manager.UploadOutput{Key: input.Key}, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestUploadFiles(t *testing.T) {
	dir := t.TempDir()
	csvPath := writeFile(t, dir, "polymarket_trades_20250101_000000.csv", "condition_id\n0x1\n")
	logPath := writeFile(t, dir, "checkpoint.jsonl", "{}\n")

	up := &fakeUploader{}
	a := NewWithUploader(up, "datasets", "/polycalib/")

	keys, err := a.UploadFiles(context.Background(), "run-1", csvPath, logPath)
	if err != nil {
		t.Fatalf("UploadFiles failed: %v", err)
	}
	if len(keys) != 2 || len(up.objects) != 2 {
		t.Fatalf("Expected 2 uploads, got %d keys and %d objects", len(keys), len(up.objects))
	}

	first := up.objects[0]
	if first.bucket != "datasets" || first.key != "polycalib/run-1/polymarket_trades_20250101_000000.csv" {
		t.Errorf("Unexpected object %s/%s", first.bucket, first.key)
	}
	if first.contentType != "text/csv" || first.body != "condition_id\n0x1\n" {
		t.Errorf("Unexpected content %q (%s)", first.body, first.contentType)
	}
	if up.objects[1].contentType != "application/x-ndjson" {
		t.Errorf("Expected ndjson content type, got %s", up.objects[1].contentType)
	}
}

func TestUploadFiles_StopsOnFailure(t *testing.T) {
	dir := t.TempDir()
	a1 := writeFile(t, dir, "a.json", "[]")
	b := writeFile(t, dir, "b.json", "[]")
	c := writeFile(t, dir, "c.json", "[]")

	up := &fakeUploader{failKey: "b.json"}
	a := NewWithUploader(up, "bucket", "")

	keys, err := a.UploadFiles(context.Background(), "", a1, b, c)
	if err == nil {
		t.Fatal("Expected error from failing upload")
	}
	if len(keys) != 1 || keys[0] != "a.json" {
		t.Errorf("Expected only a.json to be archived, got %v", keys)
	}
	if len(up.objects) != 1 {
		t.Errorf("Expected upload to stop after the failure, got %d objects", len(up.objects))
	}
}

func TestUploadFiles_MissingFile(t *testing.T) {
	a := NewWithUploader(&fakeUploader{}, "bucket", "x")
	if _, err := a.UploadFiles(context.Background(), "run", filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	if _, err := New(context.Background(), Config{Region: "us-east-1"}); err == nil {
		t.Error("Expected error for missing bucket")
	}
	if _, err := New(context.Background(), Config{Bucket: "b"}); err == nil {
		t.Error("Expected error for missing region")
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"minio.local:9000", "https://minio.local:9000"},
		{"http://localhost:9000", "http://localhost:9000"},
		{"https://e2.example.com", "https://e2.example.com"},
	}
	for _, tt := range tests {
		if got := normaliseEndpoint(tt.in); got != tt.want {
			t.Errorf("normaliseEndpoint(%q) = %q, expected %q", tt.in, got, tt.want)
		}
	}
}
