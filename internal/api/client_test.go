package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/swarmqa/endurance/internal/storage"
)

func TestNew(t *testing.T) {
	c := New("http://localhost:5000", "secret123")

	if c == nil {
		t.Fatal("New returned nil")
	}
	if c.baseURL != "http://localhost:5000" {
		t.Errorf("expected baseURL=http://localhost:5000, got %s", c.baseURL)
	}
	if c.apiKey != "secret123" {
		t.Errorf("expected apiKey=secret123, got %s", c.apiKey)
	}
	if c.httpClient == nil {
		t.Error("httpClient is nil")
	}
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:5000/", "secret")
	if c.baseURL != "http://localhost:5000" {
		t.Errorf("expected trailing slash trimmed, got %s", c.baseURL)
	}
}

func TestHealthcheck_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthcheck" {
			t.Errorf("expected path /healthcheck, got %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "")
	err := c.Healthcheck()
	if err != nil {
		t.Errorf("Healthcheck failed: %v", err)
	}
}

func TestHealthcheck_ServerDown(t *testing.T) {
	c := New("http://localhost:59999", "") // unlikely to be listening
	err := c.Healthcheck()
	if err == nil {
		t.Error("expected error for unreachable server")
	}
}

func TestHealthcheck_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "")
	err := c.Healthcheck()
	if err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestUpload_Success(t *testing.T) {
	var received map[string]string
	var receivedFileContent, receivedAttachment []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/runs/add" {
			t.Errorf("expected path /api/v1/runs/add, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Fatalf("failed to parse multipart form: %v", err)
		}

		received = map[string]string{}
		for _, k := range []string{"secret", "filename", "runId", "site", "duration", "outcome"} {
			received[k] = r.FormValue(k)
		}

		receivedFileContent = readPart(t, r, "file")
		receivedAttachment = readPart(t, r, "attachment")

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "lab_20260301_100000_abcd1234.json.gz")
	traceFile := filepath.Join(tmpDir, "lab_20260301_100000_abcd1234_trace.csv")
	if err := writeTestFile(testFile, []byte("test content")); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := writeTestFile(traceFile, []byte("device,timestamp,x,y,z\n")); err != nil {
		t.Fatalf("failed to create trace file: %v", err)
	}

	c := New(server.URL, "mysecret")
	meta := storage.UploadMetadata{
		RunID:    "abcd1234-0000",
		Site:     "lab",
		Duration: 3600.5,
		Outcome:  "completed",
	}

	if err := c.Upload(testFile, meta, traceFile); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	want := map[string]string{
		"secret":   "mysecret",
		"filename": "lab_20260301_100000_abcd1234.json.gz",
		"runId":    "abcd1234-0000",
		"site":     "lab",
		"duration": "3600.500",
		"outcome":  "completed",
	}
	for k, v := range want {
		if received[k] != v {
			t.Errorf("expected %s=%s, got %s", k, v, received[k])
		}
	}
	if string(receivedFileContent) != "test content" {
		t.Errorf("expected file content 'test content', got '%s'", string(receivedFileContent))
	}
	if string(receivedAttachment) != "device,timestamp,x,y,z\n" {
		t.Errorf("unexpected attachment content '%s'", string(receivedAttachment))
	}
}

func TestUpload_MissingAttachment(t *testing.T) {
	testFile := filepath.Join(t.TempDir(), "report.json")
	_ = writeTestFile(testFile, []byte("{}"))

	c := New("http://localhost:5000", "secret")
	if err := c.Upload(testFile, storage.UploadMetadata{}, "/nonexistent/trace.csv"); err == nil {
		t.Error("expected error for missing attachment")
	}
}

func TestUpload_FileNotFound(t *testing.T) {
	c := New("http://localhost:5000", "secret")
	err := c.Upload("/nonexistent/file.json.gz", storage.UploadMetadata{})
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestUpload_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	testFile := filepath.Join(tmpDir, "test.json.gz")
	_ = writeTestFile(testFile, []byte("content"))

	c := New(server.URL, "wrong-secret")
	err := c.Upload(testFile, storage.UploadMetadata{})
	if err == nil {
		t.Error("expected error for 403 response")
	}
}

func readPart(t *testing.T, r *http.Request, name string) []byte {
	t.Helper()
	file, _, err := r.FormFile(name)
	if err != nil {
		t.Fatalf("failed to get %s: %v", name, err)
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return data
}

func writeTestFile(path string, content []byte) error {
	return os.WriteFile(path, content, 0o644)
}
