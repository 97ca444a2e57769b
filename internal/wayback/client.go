// Package wayback implements the SPN2 (Save Page Now) client used by the
// wayback stage. Submissions either complete synchronously or hand back a
// job id that is polled until the capture settles.
package wayback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicdatalab/gr-archiver/internal/stage"
)

const (
	defaultSaveURL      = "https://web.archive.org/save"
	defaultWebURLFormat = "https://web.archive.org/web/%s/%s"
)

// Config controls the SPN2 client.
type Config struct {
	// SaveURL overrides the SPN2 endpoint, for tests.
	SaveURL string
	// AccessKey/SecretKey fill the LOW authorization header when set.
	AccessKey string
	SecretKey string
	// CaptureAll asks SPN2 to capture error pages too.
	CaptureAll bool
	// Timeout bounds each HTTP call.
	Timeout time.Duration
	// PollInterval and PollTimeout drive the status loop.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SaveURL == "" {
		c.SaveURL = defaultSaveURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 3 * time.Minute
	}
	return c
}

// Client implements stage.Submitter against SPN2.
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

type spn2Response struct {
	Status    string `json:"status"`
	StatusExt string `json:"status_ext"`
	Message   string `json:"message"`
	JobID     string `json:"job_id"`
	Timestamp string `json:"timestamp"`
}

// Submit implements stage.Submitter.
func (c *Client) Submit(ctx context.Context, sourceURL string) (stage.Snapshot, error) {
	form := url.Values{
		"url":                   {sourceURL},
		"skip_first_archive":    {"1"},
		"delay_wb_availability": {"1"},
	}
	if c.cfg.CaptureAll {
		form.Set("capture_all", "1")
	}

	body, err := c.postForm(ctx, c.cfg.SaveURL, form)
	if err != nil {
		return stage.Snapshot{}, err
	}
	if body.Status == "error" {
		return stage.Snapshot{}, &stage.RejectedError{Op: "wayback submit", Reason: body.reason()}
	}
	if body.Status == "success" && body.Timestamp != "" {
		return c.snapshot(sourceURL, body.Timestamp), nil
	}
	if body.JobID == "" {
		return stage.Snapshot{}, &stage.RejectedError{Op: "wayback submit", Reason: "missing job_id"}
	}
	return c.poll(ctx, sourceURL, body.JobID)
}

func (c *Client) poll(ctx context.Context, sourceURL, jobID string) (stage.Snapshot, error) {
	statusURL := fmt.Sprintf("%s/status/%s", strings.TrimRight(c.cfg.SaveURL, "/"), jobID)
	deadline := time.Now().Add(c.cfg.PollTimeout)

	for {
		body, err := c.get(ctx, statusURL)
		if err != nil {
			return stage.Snapshot{}, err
		}
		switch body.Status {
		case "success":
			if body.Timestamp == "" {
				return stage.Snapshot{}, &stage.RejectedError{Op: "wayback status", Reason: "missing timestamp"}
			}
			return c.snapshot(sourceURL, body.Timestamp), nil
		case "error":
			return stage.Snapshot{}, &stage.RejectedError{Op: "wayback status", Reason: body.reason()}
		}

		if time.Now().After(deadline) {
			return stage.Snapshot{}, &stage.ServiceError{
				Op:  "wayback status",
				Err: fmt.Errorf("poll timeout after %s for job %s", c.cfg.PollTimeout, jobID),
			}
		}
		select {
		case <-ctx.Done():
			return stage.Snapshot{}, &stage.ServiceError{Op: "wayback status", Err: ctx.Err()}
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *Client) snapshot(sourceURL, timestamp string) stage.Snapshot {
	return stage.Snapshot{
		URL:         fmt.Sprintf(defaultWebURLFormat, timestamp, sourceURL),
		ContentURL:  fmt.Sprintf(defaultWebURLFormat, timestamp+"id_", sourceURL),
		ArchiveTime: timestamp,
	}
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (spn2Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return spn2Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, endpoint string) (spn2Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return spn2Response{}, fmt.Errorf("build request: %w", err)
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (spn2Response, error) {
	req.Header.Set("Accept", "application/json")
	if c.cfg.AccessKey != "" && c.cfg.SecretKey != "" {
		req.Header.Set("Authorization", fmt.Sprintf("LOW %s:%s", c.cfg.AccessKey, c.cfg.SecretKey))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return spn2Response{}, &stage.ServiceError{Op: "wayback", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return spn2Response{}, &stage.ServiceError{Op: "wayback", Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return spn2Response{}, &stage.ServiceError{Op: "wayback", Err: fmt.Errorf("http_%d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return spn2Response{}, &stage.RejectedError{Op: "wayback", Reason: fmt.Sprintf("http_%d", resp.StatusCode)}
	}

	var body spn2Response
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return spn2Response{}, &stage.ServiceError{Op: "wayback", Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	body.Status = strings.ToLower(body.Status)
	return body, nil
}

func (r spn2Response) reason() string {
	if r.Message != "" {
		return r.Message
	}
	if r.StatusExt != "" {
		return r.StatusExt
	}
	return "spn2_error"
}
