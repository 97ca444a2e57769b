// Package archiveorg implements the archive stage client against the
// archive.org S3-compatible upload API. A PUT on a bucket path registers a
// metadata-only item; a PUT on an object path uploads the document into it.
package archiveorg

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/stage"
)

const (
	defaultUploadURL = "https://s3.us.archive.org"
	detailURLFormat  = "https://archive.org/details/%s"
)

// Config controls the archive.org client.
type Config struct {
	// UploadURL overrides the S3 endpoint, for tests.
	UploadURL string
	AccessKey string
	SecretKey string
	// Timeout bounds each upload call. Document uploads can be slow.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.UploadURL == "" {
		c.UploadURL = defaultUploadURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Minute
	}
	return c
}

// Client implements stage.Uploader.
type Client struct {
	cfg    Config
	client *http.Client
	log    *zap.Logger
}

// New builds a Client.
func New(cfg Config, log *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

// Upload implements stage.Uploader.
func (c *Client) Upload(ctx context.Context, req stage.UploadRequest) (stage.Item, error) {
	if req.Identifier == "" {
		return stage.Item{}, &stage.RejectedError{Op: "archive upload", Reason: "empty identifier"}
	}

	target := fmt.Sprintf("%s/%s", strings.TrimRight(c.cfg.UploadURL, "/"), req.Identifier)
	var body *os.File
	var size int64
	if req.LocalPath != "" {
		f, err := os.Open(req.LocalPath)
		if err != nil {
			return stage.Item{}, &stage.RejectedError{Op: "archive upload", Reason: fmt.Sprintf("open document: %v", err)}
		}
		defer func() {
			_ = f.Close()
		}()
		info, err := f.Stat()
		if err != nil {
			return stage.Item{}, &stage.RejectedError{Op: "archive upload", Reason: fmt.Sprintf("stat document: %v", err)}
		}
		body = f
		size = info.Size()
		target = target + "/" + filepath.Base(req.LocalPath)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, target, nil)
	if err != nil {
		return stage.Item{}, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		httpReq.Body = body
		httpReq.ContentLength = size
		httpReq.Header.Set("Content-Type", "application/pdf")
	}
	c.setHeaders(httpReq, req.Metadata)

	c.log.Debug("archive upload",
		zap.String("identifier", req.Identifier),
		zap.String("target", target),
		zap.Bool("metadata_only", req.LocalPath == ""))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return stage.Item{}, &stage.ServiceError{Op: "archive upload", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return stage.Item{
			Identifier: req.Identifier,
			URL:        fmt.Sprintf(detailURLFormat, req.Identifier),
		}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return stage.Item{}, &stage.ServiceError{
			Op:  "archive upload",
			Err: fmt.Errorf("http_%d for %s", resp.StatusCode, req.Identifier),
		}
	default:
		return stage.Item{}, &stage.RejectedError{
			Op:     "archive upload",
			Reason: fmt.Sprintf("http_%d for %s", resp.StatusCode, req.Identifier),
		}
	}
}

func (c *Client) setHeaders(req *http.Request, metadata map[string]string) {
	if c.cfg.AccessKey != "" && c.cfg.SecretKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", c.cfg.AccessKey, c.cfg.SecretKey))
	}
	req.Header.Set("x-archive-auto-make-bucket", "1")
	req.Header.Set("x-archive-keep-old-version", "1")

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		req.Header.Set("x-archive-meta-"+k, metadata[k])
	}
}
