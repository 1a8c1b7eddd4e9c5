// Package storage moves task files in and out of content-addressed storage.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/cryptobuks/truebit-os/execution"
)

const DefaultTimeout = 30 * time.Second

// Object is a stored file and its content identifier.
type Object struct {
	Name string
	Hash string
	Size string
}

// Uploader stores task output files.
type Uploader interface {
	Upload(ctx context.Context, files []execution.File) ([]Object, error)
}

// IPFS uploads files through the HTTP API of an IPFS node
type IPFS struct {
	api    string
	client *http.Client
	log    zerolog.Logger
	retry  func() backoff.BackOff
}

// IPFSOption configures an IPFS uploader.
type IPFSOption func(*IPFS)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) IPFSOption {
	return func(i *IPFS) { i.client = c }
}

// WithBackOff replaces the retry policy.
func WithBackOff(fn func() backoff.BackOff) IPFSOption {
	return func(i *IPFS) { i.retry = fn }
}

// NewIPFS creates an uploader for the node API at api, e.g. http://localhost:5001.
func NewIPFS(api string, timeout time.Duration, log zerolog.Logger, opts ...IPFSOption) *IPFS {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	i := &IPFS{
		api:    strings.TrimRight(api, "/"),
		client: &http.Client{Timeout: timeout},
		log:    log.With().Str("component", "storage").Logger(),
		retry:  defaultBackOff,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func defaultBackOff() backoff.BackOff {
	backoffConfig := backoff.NewExponentialBackOff()
	backoffConfig.InitialInterval = 1 * time.Second
	backoffConfig.Multiplier = 1.5
	backoffConfig.MaxInterval = 4 * time.Second
	backoffConfig.MaxElapsedTime = 10 * time.Second
	return backoffConfig
}

// Upload adds every file in one request and returns the node's entries in
// the order the node reports them. Server errors are retried; client errors
// are not.
func (i *IPFS) Upload(ctx context.Context, files []execution.File) ([]Object, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var objects []Object
	operation := func() error {
		var err error
		objects, err = i.add(ctx, files)
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(i.retry(), ctx)); err != nil {
		return nil, fmt.Errorf("failed to upload %d files after retries: %w", len(files), err)
	}

	for _, o := range objects {
		i.log.Info().Str("file", o.Name).Str("hash", o.Hash).Msg("Uploaded output file")
	}
	return objects, nil
}

func (i *IPFS) add(ctx context.Context, files []execution.File) ([]Object, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range files {
		part, err := w.CreateFormFile("file", f.Name)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}
	}
	if err := w.Close(); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.api+"/api/v0/add?pin=true", body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send add request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("add request failed, status code: %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	return decodeAdd(resp.Body)
}

// decodeAdd reads the newline-delimited JSON entries returned by /api/v0/add.
func decodeAdd(r io.Reader) ([]Object, error) {
	var out []Object
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var o Object
		if err := json.Unmarshal(line, &o); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode add response: %w", err))
		}
		out = append(out, o)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read add response: %w", err)
	}
	if len(out) == 0 {
		return nil, backoff.Permanent(errors.New("add response carried no entries"))
	}
	return out, nil
}
