package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestLocalSinkRoundTrip(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	sink, err := NewLocalSink(t.TempDir(), srv.URL, "nb")
	if err != nil {
		t.Fatalf("NewLocalSink() error = %v", err)
	}
	mux.Handle("/files/", http.StripPrefix("/files/", http.FileServer(http.Dir(sink.Dir()))))

	data := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 1, 2, 3}
	url, err := sink.Save(context.Background(), 42, data, "image/png")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !strings.HasPrefix(url, srv.URL+"/files/nb_42_") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("url = %q", url)
	}

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(got, data) {
		t.Errorf("served bytes differ from saved artifact")
	}
}

func TestLocalSinkNamesAreUnique(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir(), "https://bot.example.com", "nb")
	if err != nil {
		t.Fatalf("NewLocalSink() error = %v", err)
	}
	fixed := time.UnixMilli(1_700_000_000_000)
	sink.now = func() time.Time { return fixed }

	first, _ := sink.Save(context.Background(), 1, []byte("a"), "image/jpeg")
	second, _ := sink.Save(context.Background(), 1, []byte("b"), "image/jpeg")
	if first == second {
		t.Fatalf("same user and timestamp produced identical names: %s", first)
	}
}

type recordingPutter struct {
	input *s3.PutObjectInput
}

func (r *recordingPutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	r.input = in
	return &s3.PutObjectOutput{}, nil
}

func TestS3SinkKeyLayout(t *testing.T) {
	sink, err := NewS3Sink(S3Config{
		Region:        "us-east-1",
		AccessKey:     "ak",
		SecretKey:     "sk",
		Bucket:        "bucket",
		PublicBaseURL: "https://cdn.example.com/",
		Prefix:        "/generations/",
	})
	if err != nil {
		t.Fatalf("NewS3Sink() error = %v", err)
	}
	rec := &recordingPutter{}
	sink.client = rec
	sink.now = func() time.Time { return time.Date(2025, 3, 7, 10, 0, 0, 0, time.UTC) }

	url, err := sink.Save(context.Background(), 9, []byte("img"), "image/webp")
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	key := *rec.input.Key
	if !strings.HasPrefix(key, "generations/9/2025/03/07/") || !strings.HasSuffix(key, ".webp") {
		t.Errorf("key = %q", key)
	}
	if url != "https://cdn.example.com/"+key {
		t.Errorf("url = %q", url)
	}
}

func TestNewS3SinkRequiresCredentials(t *testing.T) {
	if _, err := NewS3Sink(S3Config{Bucket: "b", Region: "r"}); err == nil {
		t.Fatal("expected error without credentials")
	}
}
