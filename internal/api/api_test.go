package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scivault/internal/models"
	"github.com/starford/scivault/internal/paperservice"
	"github.com/starford/scivault/internal/query"
	"github.com/starford/scivault/internal/reassembly"
	"github.com/starford/scivault/internal/resolver"
	"github.com/starford/scivault/internal/retry"
	"github.com/starford/scivault/internal/status"
	"github.com/starford/scivault/internal/testutil"
)

const doi = "10.1007/s12083-023-01582-x"

// testEnv wires an in-memory store through the full service stack.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*testutil.MemoryBackend, *status.Tracker, http.Handler) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	noSleep := retry.WithSleep(func(context.Context, time.Duration) error { return nil })
	policy := retry.DefaultPolicy()
	policy.AttemptTimeout = 0

	backend := testutil.NewMemoryBackend()
	tracker := status.NewTracker()
	exec := query.NewExecutor(backend, policy, logger, query.WithReporter(tracker), query.WithRetryOptions(noSleep))
	res := resolver.New(exec, resolver.Config{AppName: testutil.AppName, ContentType: testutil.ContentType}, logger, nil)
	re := reassembly.New(backend, policy, reassembly.WithLogger(logger), reassembly.WithRetryOptions(noSleep))
	svc := paperservice.NewService(res, re, logger, paperservice.WithRetryOptions(noSleep))

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Mount("/api", NewRouter(svc, tracker, authToken != "", authToken, nil))
	return backend, tracker, r
}

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestVersions(t *testing.T) {
	backend, _, h := testEnv(t, "")
	backend.Publish(testutil.Bytes(300), testutil.Upload{DOI: doi, Version: "1.0.3", UploadID: "u", Timestamp: 1, Chunks: 3})
	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 2), []byte("pdf"))

	for _, target := range []string{"/api/versions/" + doi, "/api/versions/10.1007%2Fs12083-023-01582-x"} {
		w := do(t, h, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", target, w.Code, w.Body.String())
		}
		var resp VersionsResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if resp.DOI != doi || len(resp.Versions) != 2 || resp.Versions[0].Version != "2.0.0" {
			t.Errorf("%s: unexpected response %+v", target, resp)
		}
	}
}

func TestVersionsEmptyIsOK(t *testing.T) {
	_, _, h := testEnv(t, "")
	w := do(t, h, http.MethodGet, "/api/versions/10.1/none", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp VersionsResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Versions == nil || len(resp.Versions) != 0 {
		t.Errorf("versions = %v, want empty list", resp.Versions)
	}
}

func TestVersionsMissingDOI(t *testing.T) {
	_, _, h := testEnv(t, "")
	if w := do(t, h, http.MethodGet, "/api/versions/", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestDownloadPDF(t *testing.T) {
	backend, _, h := testEnv(t, "")
	doc := testutil.Bytes(1000)
	backend.Publish(doc, testutil.Upload{DOI: doi, Version: "1.0.3", Timestamp: 1, Chunks: 4})

	w := do(t, h, http.MethodGet, "/api/pdf/"+doi+"?title=Secure%20Routing", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="Secure_Routing.pdf"` {
		t.Errorf("disposition = %q", got)
	}
	if w.Body.Len() != len(doc) {
		t.Errorf("body length = %d, want %d", w.Body.Len(), len(doc))
	}

	etag := w.Header().Get("ETag")
	w = do(t, h, http.MethodGet, "/api/pdf/"+doi, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional status = %d, want 304", w.Code)
	}
}

func TestHeadPDFSkipsChunkTransfer(t *testing.T) {
	backend, _, h := testEnv(t, "")
	entries := backend.Publish(testutil.Bytes(400), testutil.Upload{DOI: doi, Version: "1.0.3", UploadID: "u", Timestamp: 1, Chunks: 4})

	w := do(t, h, http.MethodHead, "/api/pdf/"+doi+"?title=Secure%20Routing", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := w.Header().Get("Content-Disposition"); got != `attachment; filename="Secure_Routing.pdf"` {
		t.Errorf("disposition = %q", got)
	}
	if got := w.Header().Get("X-Pdf-Version"); got != "1.0.3" {
		t.Errorf("version header = %q", got)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD returned %d body bytes", w.Body.Len())
	}
	for _, e := range entries {
		if n := backend.Fetches(e.ID); n != 0 {
			t.Errorf("chunk %s fetched %d times for HEAD", e.ID, n)
		}
	}

	if w := do(t, h, http.MethodHead, "/api/pdf/10.1/absent", nil); w.Code != http.StatusNotFound {
		t.Errorf("absent doi HEAD status = %d, want 404", w.Code)
	}
}

func TestDownloadPDFErrors(t *testing.T) {
	backend, _, h := testEnv(t, "")
	backend.Add(testutil.Monolithic("mono", doi, "2.0.0", 1), []byte("pdf"))

	if w := do(t, h, http.MethodGet, "/api/pdf/10.1/absent", nil); w.Code != http.StatusNotFound {
		t.Errorf("absent doi status = %d, want 404", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/pdf/"+doi+"?version=0.0.1", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown version status = %d, want 404", w.Code)
	}
}

func TestDownloadPDFChunkFailure(t *testing.T) {
	backend, _, h := testEnv(t, "")
	entries := backend.Publish(testutil.Bytes(500), testutil.Upload{DOI: doi, Version: "1.0.3", Timestamp: 1, Chunks: 5})
	backend.FailFetch(entries[2].ID, -1)

	w := do(t, h, http.MethodGet, "/api/pdf/"+doi, nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", w.Code)
	}
	var resp ChunkErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.DOI != doi || resp.ChunkIndex != 2 {
		t.Errorf("unexpected body %+v", resp)
	}
}

func TestStatus(t *testing.T) {
	backend, tracker, h := testEnv(t, "")
	backend.FailQueries("2.0.0")
	_ = do(t, h, http.MethodGet, "/api/versions/"+doi, nil)

	w := do(t, h, http.MethodGet, "/api/status", nil)
	var resp StatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Backends) != 1 || resp.Backends[0].Backend != "memory" {
		t.Fatalf("unexpected status %+v", resp)
	}
	if got := tracker.State("memory").Status; got != resp.Backends[0].Status {
		t.Errorf("status mismatch: %s vs %s", got, resp.Backends[0].Status)
	}
}

func TestLatestPapers(t *testing.T) {
	backend, _, h := testEnv(t, "")
	meta := models.StorageEntry{ID: "meta", Timestamp: 1, Tags: models.Tags{
		{Name: models.TagAppName, Value: testutil.AppName},
		{Name: models.TagContentType, Value: "application/json"},
		{Name: models.TagDOI, Value: doi},
	}}
	backend.Add(meta, []byte(`{"title":"Secure Routing","doi":"`+doi+`"}`))

	w := do(t, h, http.MethodGet, "/api/papers/latest?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp LatestResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Papers) != 1 || resp.Papers[0].Title != "Secure Routing" {
		t.Errorf("unexpected papers %+v", resp.Papers)
	}
}

func TestAuthRequired(t *testing.T) {
	_, _, h := testEnv(t, "secret")

	if w := do(t, h, http.MethodGet, "/api/status", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token status = %d, want 401", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token status = %d, want 401", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer secret"}); w.Code != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	_, _, h := testEnv(t, "")
	w := do(t, h, http.MethodGet, "/api/status", nil)
	if w.Header().Get("X-Request-Id") == "" {
		t.Error("missing generated request id")
	}
	w = do(t, h, http.MethodGet, "/api/status", map[string]string{"X-Request-Id": "abc"})
	if got := w.Header().Get("X-Request-Id"); got != "abc" {
		t.Errorf("request id = %q, want abc", got)
	}
}
