package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/swarmqa/endurance/internal/storage"
)

// Client uploads finished run reports to the results server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New creates a new API client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Healthcheck checks if the results server is reachable.
func (c *Client) Healthcheck() error {
	resp, err := c.httpClient.Get(c.baseURL + "/healthcheck")
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Upload sends a run report to the results server. Each attachment is sent
// as an additional "attachment" file part.
func (c *Client) Upload(filePath string, meta storage.UploadMetadata, attachments ...string) error {
	files := make([]*os.File, 0, 1+len(attachments))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, p := range append([]string{filePath}, attachments...) {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		files = append(files, f)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	errCh := make(chan error, 1)
	go func() {
		err := writeForm(writer, c.apiKey, meta, files)
		if cerr := writer.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
		errCh <- err
	}()

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/api/v1/runs/add", pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	if writeErr := <-errCh; writeErr != nil {
		return writeErr
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload returned status %d", resp.StatusCode)
	}
	return nil
}

func writeForm(w *multipart.Writer, secret string, meta storage.UploadMetadata, files []*os.File) error {
	fields := [][2]string{
		{"secret", secret},
		{"filename", filepath.Base(files[0].Name())},
		{"runId", meta.RunID},
		{"site", meta.Site},
		{"duration", strconv.FormatFloat(meta.Duration, 'f', 3, 64)},
		{"outcome", meta.Outcome},
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	for i, f := range files {
		name := "file"
		if i > 0 {
			name = "attachment"
		}
		part, err := w.CreateFormFile(name, filepath.Base(f.Name()))
		if err != nil {
			return fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			return fmt.Errorf("failed to copy file: %w", err)
		}
	}
	return nil
}
