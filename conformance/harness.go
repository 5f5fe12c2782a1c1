// Package conformance drives a fully wired API over real HTTP and checks the
// wire contract: routes, status codes, response shapes and the image
// lifecycle as seen by a client.
package conformance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sanctuary-church/sanctuary-api/internal/auth"
	"github.com/sanctuary-church/sanctuary-api/internal/content"
	"github.com/sanctuary-church/sanctuary-api/internal/event"
	"github.com/sanctuary-church/sanctuary-api/internal/media"
	"github.com/sanctuary-church/sanctuary-api/internal/server"
	"github.com/sanctuary-church/sanctuary-api/internal/storage"
	"github.com/sanctuary-church/sanctuary-api/internal/validate"
)

// Harness runs the API behind an httptest.Server.
type Harness struct {
	server     *httptest.Server
	store      storage.Store
	pub        event.Publisher
	redis      *miniredis.Miniredis
	rdb        *redis.Client
	dir        string
	adminEmail string
}

// Config holds configuration for the conformance test harness.
type Config struct {
	// DatabaseDSN selects PostgreSQL; empty uses the in-memory store.
	DatabaseDSN string

	// NATSURL selects the JetStream publisher; empty records events in memory.
	NATSURL string
}

// NewHarness wires storage, local disk blobs, a miniredis backed revocation
// list and the HTTP handler, then starts the test server.
func NewHarness(cfg Config) (*Harness, error) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var store storage.Store
	if cfg.DatabaseDSN != "" {
		s, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store = s
	} else {
		store = storage.NewMemory()
	}

	var pub event.Publisher = &event.Recorder{}
	if cfg.NATSURL != "" {
		pub = event.NewPublisher(cfg.NATSURL, logger)
	}

	dir, err := os.MkdirTemp("", "sanctuary-conformance-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create blob dir: %w", err)
	}
	disk, err := media.NewDisk(dir, "/storage")
	if err != nil {
		return nil, err
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start miniredis: %w", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	h := &Harness{
		store:      store,
		pub:        pub,
		redis:      mr,
		rdb:        rdb,
		dir:        dir,
		adminEmail: "admin+" + uuid.NewString() + "@example.org",
	}

	v := validate.New()
	svc := content.NewService(store, disk, v, pub, logger, content.Options{DefaultAuthor: "Admin"})
	users := auth.NewService(store.Users(),
		auth.NewTokens("conformance-secret", "sanctuary-api", "sanctuary-web", time.Hour),
		auth.NewRedisRevoker(rdb), v,
		auth.Options{AdminEmails: []string{h.adminEmail}})

	handler, err := server.NewMux(store, svc, users, server.Options{
		Files:          disk,
		MaxRequestSize: 8 << 20,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}
	h.server = httptest.NewServer(handler)
	return h, nil
}

// URL returns the base URL of the test server.
func (h *Harness) URL() string {
	return h.server.URL
}

// Events returns the recorded events, or nil when a real publisher is used.
func (h *Harness) Events() []event.EventEnvelope {
	if rec, ok := h.pub.(*event.Recorder); ok {
		return rec.Events()
	}
	return nil
}

// Close shuts down the test server and cleans up resources.
func (h *Harness) Close() {
	h.server.Close()
	h.pub.Close()
	h.store.Close()
	h.rdb.Close()
	h.redis.Close()
	os.RemoveAll(h.dir)
}

// RunConformanceTests runs every wire level check.
func (h *Harness) RunConformanceTests(t *testing.T) {
	t.Run("HealthEndpoints", h.testHealthEndpoints)
	t.Run("AuthFlow", h.testAuthFlow)
	t.Run("Events", h.contentCheck("events", map[string]string{
		"title": "Prayer Night", "date": "3", "month": "jan", "time": "8.00PM", "location": "Chapel",
	}, map[string]any{"month": "Jan", "time": "8.00 pm", "date": float64(3)}))
	t.Run("Posts", h.contentCheck("posts", map[string]string{
		"title": "Easter", "category": "Worship", "date": "2024-03-31", "description": "He is risen",
	}, map[string]any{"author": "Admin"}))
	t.Run("News", h.contentCheck("news", map[string]string{
		"title": "Bazaar", "category": "Community", "date": "2024-06-01", "description": "Saturday",
	}, nil))
	t.Run("Ministries", h.contentCheck("ministries", map[string]string{
		"title": "Choir", "description": "We sing every Sunday",
	}, nil))
	t.Run("ConcurrentImageReplacement", h.testConcurrentImageReplacement)
	t.Run("LiveStream", h.testLiveStream)
	t.Run("ErrorEnvelope", h.testErrorEnvelope)
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.Unmarshal(r.body, &v); err != nil {
		t.Fatalf("decode %q: %v", r.body, err)
	}
	return v
}

func (h *Harness) do(t *testing.T, method, path, token, contentType string, body io.Reader) response {
	t.Helper()
	req, err := http.NewRequest(method, h.URL()+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return response{status: resp.StatusCode, header: resp.Header, body: raw}
}

func (h *Harness) doJSON(t *testing.T, method, path, token string, v any) response {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return h.do(t, method, path, token, "application/json", bytes.NewReader(raw))
}

func (h *Harness) doForm(t *testing.T, method, path, token string, values map[string]string, withImage bool) response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		_ = mw.WriteField(k, v)
	}
	if withImage {
		part, err := mw.CreateFormFile("image", "photo.png")
		if err != nil {
			t.Fatal(err)
		}
		_ = png.Encode(part, image.NewRGBA(image.Rect(0, 0, 4, 4)))
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return h.do(t, method, path, token, mw.FormDataContentType(), &buf)
}

// session registers a fresh account and returns its bearer token. The
// harness admin address gets the admin flag.
func (h *Harness) session(t *testing.T, email string) string {
	t.Helper()
	resp := h.doJSON(t, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Conformance", "email": email, "password": "secret123", "password_confirmation": "secret123",
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("register %s: %d %s", email, resp.status, resp.body)
	}
	token, _ := resp.json(t)["token"].(string)
	if token == "" {
		t.Fatalf("register %s: no token in %s", email, resp.body)
	}
	return token
}

func (h *Harness) admin(t *testing.T) string {
	t.Helper()
	resp := h.doJSON(t, http.MethodPost, "/api/login", "", map[string]string{"email": h.adminEmail, "password": "secret123"})
	if resp.status == http.StatusOK {
		return resp.json(t)["token"].(string)
	}
	return h.session(t, h.adminEmail)
}

func (h *Harness) testHealthEndpoints(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz"} {
		if resp := h.do(t, http.MethodGet, path, "", "", nil); resp.status != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, resp.status)
		}
	}
	if resp := h.do(t, http.MethodGet, "/metrics", "", "", nil); resp.status != http.StatusOK {
		t.Errorf("expected status 200 for /metrics, got %d", resp.status)
	}
}

func (h *Harness) testAuthFlow(t *testing.T) {
	email := "member+" + uuid.NewString() + "@example.org"
	token := h.session(t, email)

	resp := h.do(t, http.MethodGet, "/api/user", token, "", nil)
	if resp.status != http.StatusOK {
		t.Fatalf("GET /api/user: %d", resp.status)
	}
	if u := resp.json(t); u["email"] != email || u["is_admin"] != false {
		t.Errorf("user = %v", u)
	}

	if resp := h.doForm(t, http.MethodPost, "/api/news", token, map[string]string{"title": "x"}, false); resp.status != http.StatusForbidden {
		t.Errorf("member create: %d", resp.status)
	}

	if resp := h.do(t, http.MethodPost, "/api/logout", token, "", nil); resp.status != http.StatusNoContent {
		t.Fatalf("logout: %d", resp.status)
	}
	if resp := h.do(t, http.MethodGet, "/api/user", token, "", nil); resp.status != http.StatusUnauthorized {
		t.Errorf("revoked token accepted: %d", resp.status)
	}
	if len(h.redis.Keys()) == 0 {
		t.Error("revocation not written to redis")
	}
}

// contentCheck exercises create, list, update with a replacement image and
// delete of one resource. want holds fields the created row must carry.
func (h *Harness) contentCheck(name string, create map[string]string, want map[string]any) func(*testing.T) {
	return func(t *testing.T) {
		token := h.admin(t)
		base := "/api/" + name

		resp := h.doForm(t, http.MethodPost, base, token, create, true)
		if resp.status != http.StatusCreated {
			t.Fatalf("create: %d %s", resp.status, resp.body)
		}
		row := resp.json(t)
		for k, v := range want {
			if row[k] != v {
				t.Errorf("%s = %v, want %v", k, row[k], v)
			}
		}
		id := int64(row["id"].(float64))
		firstURL, _ := row["image_url"].(string)
		if firstURL == "" {
			t.Fatalf("no image_url in %s", resp.body)
		}
		if got := h.do(t, http.MethodGet, firstURL, "", "", nil); got.status != http.StatusOK {
			t.Errorf("GET %s: %d", firstURL, got.status)
		}

		resp = h.do(t, http.MethodGet, base, token, "", nil)
		var rows []map[string]any
		if err := json.Unmarshal(resp.body, &rows); err != nil || resp.status != http.StatusOK {
			t.Fatalf("list: %d %s", resp.status, resp.body)
		}
		if len(rows) == 0 || int64(rows[0]["id"].(float64)) != id {
			t.Errorf("newest row not listed first: %v", rows)
		}

		item := base + "/" + strconv.FormatInt(id, 10)
		resp = h.doForm(t, http.MethodPost, item, token, map[string]string{"_method": "PUT", "title": "Renamed"}, true)
		if resp.status != http.StatusOK {
			t.Fatalf("update: %d %s", resp.status, resp.body)
		}
		updated := resp.json(t)
		secondURL, _ := updated["image_url"].(string)
		if updated["title"] != "Renamed" || secondURL == "" || secondURL == firstURL {
			t.Errorf("updated = %v", updated)
		}
		if got := h.do(t, http.MethodGet, firstURL, "", "", nil); got.status != http.StatusNotFound {
			t.Errorf("replaced image still served: %d", got.status)
		}

		if resp := h.do(t, http.MethodDelete, item, token, "", nil); resp.status != http.StatusNoContent || len(resp.body) != 0 {
			t.Fatalf("delete: %d %q", resp.status, resp.body)
		}
		if got := h.do(t, http.MethodGet, secondURL, "", "", nil); got.status != http.StatusNotFound {
			t.Errorf("deleted row's image still served: %d", got.status)
		}
		if resp := h.do(t, http.MethodDelete, item, token, "", nil); resp.status != http.StatusNotFound {
			t.Errorf("second delete: %d", resp.status)
		}
	}
}

// testConcurrentImageReplacement races several image replacements on one
// ministry. Afterwards the row's image must be served and be the only blob
// left under the ministries prefix.
func (h *Harness) testConcurrentImageReplacement(t *testing.T) {
	token := h.admin(t)

	resp := h.doForm(t, http.MethodPost, "/api/ministries", token, map[string]string{
		"title": "Ushers", "description": "Welcoming everyone at the door",
	}, true)
	if resp.status != http.StatusCreated {
		t.Fatalf("create: %d %s", resp.status, resp.body)
	}
	item := "/api/ministries/" + strconv.FormatInt(int64(resp.json(t)["id"].(float64)), 10)

	t.Run("replace", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			t.Run(strconv.Itoa(i), func(t *testing.T) {
				t.Parallel()
				resp := h.doForm(t, http.MethodPost, item, token, map[string]string{"_method": "PUT"}, true)
				if resp.status != http.StatusOK {
					t.Errorf("update: %d %s", resp.status, resp.body)
				}
			})
		}
	})

	row := h.do(t, http.MethodGet, item, token, "", nil).json(t)
	key, _ := row["image"].(string)
	url, _ := row["image_url"].(string)
	if key == "" || url == "" {
		t.Fatalf("row lost its image: %v", row)
	}
	if got := h.do(t, http.MethodGet, url, "", "", nil); got.status != http.StatusOK {
		t.Errorf("final image not served: %d", got.status)
	}

	entries, err := os.ReadDir(filepath.Join(h.dir, "ministries"))
	if err != nil {
		t.Fatalf("read blob dir: %v", err)
	}
	var blobs []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			blobs = append(blobs, "ministries/"+e.Name())
		}
	}
	if len(blobs) != 1 || blobs[0] != key {
		t.Errorf("blobs = %v, want only %s", blobs, key)
	}

	if resp := h.do(t, http.MethodDelete, item, token, "", nil); resp.status != http.StatusNoContent {
		t.Errorf("delete: %d", resp.status)
	}
}

func (h *Harness) testLiveStream(t *testing.T) {
	token := h.admin(t)

	resp := h.doJSON(t, http.MethodPut, "/api/livestream", token, map[string]any{
		"isLive": "1", "title": "Sunday Service", "videoUrl": "https://youtu.be/dQw4w9WgXcQ",
	})
	if resp.status != http.StatusOK {
		t.Fatalf("update: %d %s", resp.status, resp.body)
	}
	ls := resp.json(t)
	for _, key := range []string{"id", "isLive", "title", "videoUrl", "videoId"} {
		if _, ok := ls[key]; !ok {
			t.Errorf("missing %s in %s", key, resp.body)
		}
	}
	if ls["isLive"] != true || ls["videoId"] != "dQw4w9WgXcQ" {
		t.Errorf("livestream = %v", ls)
	}

	resp = h.do(t, http.MethodGet, "/api/livestream", token, "", nil)
	if got := resp.json(t); got["title"] != "Sunday Service" {
		t.Errorf("show = %v", got)
	}
}

func (h *Harness) testErrorEnvelope(t *testing.T) {
	token := h.admin(t)

	resp := h.doForm(t, http.MethodPost, "/api/posts", token, map[string]string{"title": "Only a title"}, false)
	if resp.status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.status)
	}
	env, ok := resp.json(t)["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %s", resp.body)
	}
	if env["code"] != "VALIDATION" || env["correlationId"] == "" || env["message"] == "" {
		t.Errorf("envelope = %v", env)
	}
	details, _ := env["details"].(map[string]any)
	for _, field := range []string{"category", "date", "description"} {
		if _, ok := details[field]; !ok {
			t.Errorf("details missing %s: %v", field, details)
		}
	}
	if resp.header.Get("X-Correlation-Id") != env["correlationId"] {
		t.Errorf("header and body correlation ids differ")
	}
}
