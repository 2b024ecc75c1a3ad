package compute

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// DefaultTimeout bounds ordinary compute calls. Emulator operations such as
// image conversion can be slow, so the bound is generous.
const DefaultTimeout = 120 * time.Second

// Client is the HTTP client for one compute agent. Ordinary calls use a
// bounded client; notification and pcap streams use a dedicated client with
// no timeout so long-lived connections are not cut.
type Client struct {
	computeID string
	baseURL   string
	user      string
	password  string

	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for the compute reachable at
// protocol://host:port, authenticating with HTTP basic auth when user is
// not empty.
func NewClient(computeID, protocol, host string, port int, user, password string) *Client {
	base := fmt.Sprintf("%s://%s:%d", protocol, host, port)
	return &Client{
		computeID:    computeID,
		baseURL:      base,
		user:         user,
		password:     password,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		streamClient: &http.Client{},
	}
}

// BaseURL returns the compute endpoint without credentials.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// computeErrorBody is the error shape compute agents return.
type computeErrorBody struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// do performs an HTTP request against the compute and decodes the response
// into result. Failures are classified into network, timeout, conflict,
// driver and protocol errors.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(KindNetwork, c.computeID, err)
	}

	if resp.StatusCode >= 400 {
		return c.statusError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return &Error{
				Kind:      KindProtocol,
				ComputeID: c.computeID,
				Message:   fmt.Sprintf("failed to decode response: %v", err),
				Err:       err,
			}
		}
	}

	return nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
}

func (c *Client) classifyTransport(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return newError(KindTimeout, c.computeID, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindTimeout, c.computeID, err)
	}
	return newError(KindNetwork, c.computeID, err)
}

func (c *Client) statusError(status int, body []byte) error {
	var parsed computeErrorBody
	message := string(body)
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		message = parsed.Message
	}

	kind := KindProtocol
	switch {
	case status == http.StatusConflict:
		kind = KindConflict
	case status == http.StatusGatewayTimeout:
		kind = KindTimeout
	case status >= 500:
		kind = KindDriver
	}

	return &Error{
		Kind:       kind,
		ComputeID:  c.computeID,
		StatusCode: status,
		Message:    message,
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs a POST request.
func (c *Client) Post(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// Put performs a PUT request.
func (c *Client) Put(ctx context.Context, path string, body, result any) error {
	return c.do(ctx, http.MethodPut, path, body, result)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, result any) error {
	return c.do(ctx, http.MethodDelete, path, nil, result)
}

// Forward relays an arbitrary request to the compute verbatim and returns
// the raw response. The caller owns the response body. Streamed responses
// (pcap captures) use the unbounded client.
func (c *Client) Forward(ctx context.Context, method, path string, body io.Reader, header http.Header, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	c.setAuth(req)

	client := c.httpClient
	if stream {
		client = c.streamClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	return resp, nil
}

// OpenStream opens a long-lived GET stream (notifications, pcap) on the
// compute. The caller must close the returned body.
func (c *Client) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, c.statusError(resp.StatusCode, body)
	}
	return resp.Body, nil
}

// OpenPCAP opens a capture byte stream, forwarding an optional Range header
// so clients can resume a partially read file. The caller owns the response
// and must close its body; the status and Content-Range header come straight
// from the compute.
func (c *Client) OpenPCAP(ctx context.Context, path, rangeHeader string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, c.classifyTransport(err)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, c.statusError(resp.StatusCode, body)
	}
	return resp, nil
}

// UploadImage streams a local file to the compute's image storage, returning
// the MD5 checksum of the uploaded bytes.
func (c *Client) UploadImage(ctx context.Context, emulator, filename, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open image: %w", err)
	}
	defer func() { _ = file.Close() }()

	hash := md5.New()
	body := io.TeeReader(file, hash)

	path := fmt.Sprintf("/v2/compute/%s/images/%s", emulator, url.PathEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	c.setAuth(req)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return "", c.classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", c.statusError(resp.StatusCode, respBody)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}

// DownloadImage streams an image from the compute into w, returning the MD5
// checksum of the transferred bytes.
func (c *Client) DownloadImage(ctx context.Context, emulator, filename string, w io.Writer) (string, error) {
	path := fmt.Sprintf("/v2/compute/%s/images/%s", emulator, url.PathEscape(filename))
	body, err := c.OpenStream(ctx, path)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	hash := md5.New()
	if _, err := io.Copy(io.MultiWriter(w, hash), body); err != nil {
		return "", newError(KindNetwork, c.computeID, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
