// Package web implements the edition source against the publisher portal's
// HTTP API. The portal issues a session cookie on login, serves the latest
// edition's metadata as JSON, and serves the edition file from a download URL
// named in that metadata.
package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/araddon/dateparse"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/presslane/edition-courier/internal/courier"
)

// Config controls portal access.
type Config struct {
	BaseURL         string
	Username        string
	Password        string
	UserAgent       string
	Timeout         time.Duration
	DownloadTimeout time.Duration

	// RequestsPerSecond paces portal calls. Zero or negative disables pacing.
	RequestsPerSecond float64
	// Burst caps how many calls may go out back to back. Defaults to 1.
	Burst int
}

func (cfg Config) timeout() time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 20 * time.Second
}

func (cfg Config) downloadTimeout() time.Duration {
	if cfg.DownloadTimeout > 0 {
		return cfg.DownloadTimeout
	}
	return 120 * time.Second
}

// Client implements courier.Source against the portal.
type Client struct {
	cfg     Config
	http    *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New builds a portal client. The underlying resty client keeps the session
// cookie issued by Login, so one Client serves a whole batch.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("portal credentials are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "edition-courier/1.0"
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.timeout()).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		cfg:     cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  logger.Named("source"),
	}, nil
}

// wait paces portal traffic so a batch over many publications does not
// hammer the publisher's servers.
func (c *Client) wait(ctx context.Context, op string) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit wait: %w", op, err)
	}
	return nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login opens a portal session. Rejected credentials surface as an
// authentication error so the batch halts instead of retrying.
func (c *Client) Login(ctx context.Context) error {
	if err := c.wait(ctx, "login"); err != nil {
		return err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(credentials{Username: c.cfg.Username, Password: c.cfg.Password}).
		Post("/api/session")
	if err := classify("login", resp, err); err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return courier.NewAuthError("login", fmt.Errorf("portal returned %d", resp.StatusCode()))
	}
	c.logger.Debug("portal session opened")
	return nil
}

// editionDocument is the portal's metadata envelope for one edition.
type editionDocument struct {
	Title       string `json:"title"`
	IssueNumber string `json:"issue_number"`
	PublishedOn string `json:"published_on"`
	FileName    string `json:"file_name"`
	DownloadURL string `json:"download_url"`
}

// LatestEdition asks the portal for the newest edition of one publication.
// A portal answer of 404 means no edition is available yet, which is a
// normal outcome, not a failure.
func (c *Client) LatestEdition(ctx context.Context, pub courier.Publication) (courier.Edition, error) {
	if err := c.wait(ctx, "latest edition"); err != nil {
		return courier.Edition{}, err
	}
	var doc editionDocument
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&doc).
		SetPathParam("publication", pub.ID).
		Get("/api/publications/{publication}/editions/latest")
	if err := classify("latest edition", resp, err); err != nil {
		return courier.Edition{}, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return courier.Edition{}, courier.ErrNoEdition
	}
	if !resp.IsSuccess() {
		return courier.Edition{}, fmt.Errorf("latest edition: portal returned %d", resp.StatusCode())
	}

	ed := courier.Edition{
		PublicationID: pub.ID,
		Title:         doc.Title,
		IssueNumber:   doc.IssueNumber,
		FileName:      doc.FileName,
		DownloadURL:   doc.DownloadURL,
	}
	if doc.PublishedOn != "" {
		// The portal is not consistent about its date format.
		publishedOn, perr := dateparse.ParseIn(doc.PublishedOn, time.UTC)
		if perr != nil && doc.IssueNumber == "" {
			return courier.Edition{}, fmt.Errorf("latest edition: unusable published date %q: %w", doc.PublishedOn, perr)
		}
		if perr != nil {
			c.logger.Warn("unparseable published date, keying on issue number",
				zap.String("publication", pub.ID),
				zap.String("published_on", doc.PublishedOn))
		} else {
			ed.PublishedOn = publishedOn
		}
	} else if doc.IssueNumber == "" {
		return courier.Edition{}, fmt.Errorf("latest edition: portal sent neither issue number nor published date")
	}
	return ed, nil
}

// Download fetches the edition file. It uses its own timeout since edition
// files are much larger than the metadata responses.
func (c *Client) Download(ctx context.Context, ed courier.Edition) ([]byte, string, error) {
	if ed.DownloadURL == "" {
		return nil, "", fmt.Errorf("download: edition %s has no download url", ed.Key())
	}
	if err := c.wait(ctx, "download"); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.downloadTimeout())
	defer cancel()

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "*/*").
		Get(ed.DownloadURL)
	if err := classify("download", resp, err); err != nil {
		return nil, "", err
	}
	if !resp.IsSuccess() {
		return nil, "", fmt.Errorf("download: portal returned %d for %s", resp.StatusCode(), ed.Key())
	}

	data := resp.Body()
	if len(data) == 0 {
		return nil, "", fmt.Errorf("download: portal sent an empty file for %s", ed.Key())
	}
	return data, resp.Header().Get("Content-Type"), nil
}

// classify maps transport errors and portal status codes onto the courier
// error taxonomy. Status codes it does not recognize are left for the caller,
// which knows what the operation expects.
func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return courier.NewTransientError(op, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return courier.NewTransientError(op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return courier.NewAuthError(op, fmt.Errorf("portal returned %d", code))
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return courier.NewTransientError(op, fmt.Errorf("portal returned %d", code))
	}
	return nil
}
