package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// pipelineTimeout covers a PR build, which waits on several model calls.
const pipelineTimeout = 2 * time.Minute

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newClient(opts *options) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(opts.serverURL, "/"),
		http:    &http.Client{Timeout: pipelineTimeout},
	}
}

// apiResponse is a successful response body and its headers.
type apiResponse struct {
	Body   []byte
	Header http.Header
}

func (c *apiClient) do(ctx context.Context, method, path string) (*apiResponse, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, serverMessage(body))
	}
	return &apiResponse{Body: body, Header: resp.Header}, nil
}

// serverMessage extracts echo's {"message": ...} error body when present.
func serverMessage(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(body))
}

// printJSON writes body indented, falling back to the raw bytes.
func printJSON(w io.Writer, body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		_, werr := w.Write(body)
		return werr
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}
