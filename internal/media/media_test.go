package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sanctuary-church/sanctuary-api/internal/model"
)

func TestNewKey(t *testing.T) {
	k1 := NewKey("events", &model.Upload{Filename: "flyer.PNG", Format: "png"})
	k2 := NewKey("events", &model.Upload{Filename: "flyer.PNG", Format: "png"})
	if k1 == k2 {
		t.Fatalf("keys must differ: %s", k1)
	}
	if !strings.HasPrefix(k1, "events/") || !strings.HasSuffix(k1, ".png") {
		t.Fatalf("unexpected key %s", k1)
	}
	if k := NewKey("posts", &model.Upload{Filename: "a.JPEG", Format: "jpeg"}); !strings.HasSuffix(k, ".jpg") {
		t.Fatalf("jpeg key %s", k)
	}
	if k := NewKey("posts", &model.Upload{Filename: "a.GIF"}); !strings.HasSuffix(k, ".gif") {
		t.Fatalf("fallback key %s", k)
	}
}

func TestCheckKey(t *testing.T) {
	for _, key := range []string{"", "/etc/passwd", "../secret", "events/../../x", "events//a.png"} {
		if err := checkKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("checkKey(%q) = %v", key, err)
		}
	}
	if err := checkKey("events/01HX.png"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

func TestDiskLifecycle(t *testing.T) {
	ctx := context.Background()
	d, err := NewDisk(t.TempDir(), "/storage")
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}

	key, err := d.Put(ctx, "ministries", &model.Upload{Filename: "choir.png", Format: "png", Data: []byte("pixels")})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ok, _ := d.Exists(ctx, key); !ok {
		t.Fatal("blob should exist")
	}
	if got := d.URL(key); got != "/storage/"+key {
		t.Fatalf("URL = %s", got)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /storage/{key...}", d)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/"+key, nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != http.StatusOK || string(body) != "pixels" {
		t.Fatalf("serve: %d %q", rec.Code, body)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/storage/ministries", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory listing returned %d", rec.Code)
	}

	if err := d.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := d.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if ok, _ := d.Exists(ctx, key); ok {
		t.Fatal("blob should be gone")
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("http://cdn.test")
	key, err := m.Put(ctx, "news", &model.Upload{Format: "jpeg", Data: []byte{1}})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := m.Keys(); len(got) != 1 || got[0] != key {
		t.Fatalf("Keys = %v", got)
	}
	if got := m.URL(key); got != "http://cdn.test/"+key {
		t.Fatalf("URL = %s", got)
	}
	if err := m.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete = %v", err)
	}
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		name string
		opts S3Options
		want string
	}{
		{"explicit", S3Options{PublicURL: "https://cdn.example.org", Endpoint: "http://minio:9000", Bucket: "media"}, "https://cdn.example.org"},
		{"compatible endpoint", S3Options{Endpoint: "http://minio:9000", Bucket: "media"}, "http://minio:9000/media"},
		{"aws", S3Options{Region: "eu-west-1", Bucket: "media"}, "https://media.s3.eu-west-1.amazonaws.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := publicBaseURL(tt.opts); got != tt.want {
				t.Errorf("publicBaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
