package storage

import (
	"context"
	"os"
	"reflect"
	"strconv"
	"testing"

	"github.com/rotisserie/eris"
)

func TestFSStorePutGetList(t *testing.T) {
	ctx := context.Background()
	store := NewFSStore(t.TempDir())

	files := map[string]string{
		"messages/a/original.msg":        "msg",
		"messages/a/attachments/x.txt":   "x",
		"messages/b/attachments/y/z.bin": "z",
	}
	for k, v := range files {
		if err := store.Put(ctx, k, []byte(v)); err != nil {
			t.Fatalf("Put(%q): %v", k, err)
		}
	}

	got, err := store.Get(ctx, "messages/a/attachments/x.txt")
	if err != nil || string(got) != "x" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	keys, err := store.List(ctx, "messages/a")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"messages/a/attachments/x.txt", "messages/a/original.msg"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("List = %v, want %v", keys, want)
	}

	keys, err = store.List(ctx, "missing")
	if err != nil || len(keys) != 0 {
		t.Errorf("List(missing) = %v, %v", keys, err)
	}
}

func TestFSStoreNotFound(t *testing.T) {
	_, err := NewFSStore(t.TempDir()).Get(context.Background(), "nope")
	if !eris.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	store := NewFSStore(t.TempDir())
	for _, key := range []string{"", "../outside", "/abs/path", "a/../../b"} {
		if err := store.Put(context.Background(), key, []byte("x")); !eris.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestNewFallsBackToFS(t *testing.T) {
	dir := t.TempDir()
	store, err := New(context.Background(), S3Config{Endpoint: "localhost:9000"}, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := store.(*FSStore); !ok {
		t.Fatalf("store is %T, want *FSStore", store)
	}
}

func TestNormalizeEndpoint(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"http://minio:9000", true, "http://minio:9000"},
		{"  ", true, ""},
	}
	for _, tt := range tests {
		if got := NormalizeEndpoint(tt.in, tt.ssl); got != tt.want {
			t.Errorf("NormalizeEndpoint(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}

// s3FromEnv returns the integration config, or skips.
//
// Run MinIO, then:
//
//	S3_ENDPOINT=http://localhost:9000 S3_ACCESS_KEY_ID=minioadmin S3_SECRET_ACCESS_KEY=minioadmin S3_USE_SSL=false go test ./internal/storage/ -run S3
func s3FromEnv(t *testing.T) S3Config {
	t.Helper()
	cfg := S3Config{
		Endpoint:        os.Getenv("S3_ENDPOINT"),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		Bucket:          "msgparse-test",
		Region:          "us-east-1",
		Prefix:          "it",
	}
	cfg.UseSSL, _ = strconv.ParseBool(os.Getenv("S3_USE_SSL"))
	if !cfg.Enabled() {
		t.Skip("S3_ENDPOINT not set, skipping integration test")
	}
	return cfg
}

func TestS3StoreRoundTrip(t *testing.T) {
	cfg := s3FromEnv(t)
	ctx := context.Background()
	store, err := New(ctx, cfg, t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	key := "messages/it/original.msg"
	if err := store.Put(ctx, key, []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil || string(got) != "payload" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	keys, err := store.List(ctx, "messages/it/")
	if err != nil || len(keys) == 0 || keys[0] != key {
		t.Errorf("List = %v, %v", keys, err)
	}
	if _, err := store.Get(ctx, "messages/it/missing"); !eris.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}
