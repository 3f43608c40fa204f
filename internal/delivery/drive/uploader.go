// Package drive delivers editions into a shared drive over its HTTP API.
// Small files go up in one request; larger ones use a chunked upload session
// that is deleted on failure so no partial file is ever left behind.
package drive

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
)

// Config controls the drive channel.
type Config struct {
	BaseURL            string
	Token              string
	RootFolder         string
	SingleShotMaxBytes int64
	ChunkSizeBytes     int64
	ChunkTimeout       time.Duration
}

func (cfg Config) rootFolder() string {
	if cfg.RootFolder != "" {
		return cfg.RootFolder
	}
	return "Editions"
}

func (cfg Config) singleShotMax() int64 {
	if cfg.SingleShotMaxBytes > 0 {
		return cfg.SingleShotMaxBytes
	}
	return 4 << 20
}

func (cfg Config) chunkSize() int64 {
	if cfg.ChunkSizeBytes > 0 {
		return cfg.ChunkSizeBytes
	}
	return 8 << 20
}

func (cfg Config) chunkTimeout() time.Duration {
	if cfg.ChunkTimeout > 0 {
		return cfg.ChunkTimeout
	}
	return 60 * time.Second
}

// Uploader implements courier.Sender against the drive API.
type Uploader struct {
	cfg    Config
	http   *resty.Client
	logger *zap.Logger
}

// New builds the drive channel.
func New(cfg Config, logger *zap.Logger) (*Uploader, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("drive base url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := resty.New().SetBaseURL(cfg.BaseURL)
	if cfg.Token != "" {
		httpClient.SetAuthToken(cfg.Token)
	}

	return &Uploader{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.Named("drive"),
	}, nil
}

// Channel names the delivery channel.
func (u *Uploader) Channel() courier.Channel {
	return courier.ChannelDrive
}

type fileDocument struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type uploadSession struct {
	UploadID string `json:"upload_id"`
}

// Deliver uploads the edition into the destination folder. Files at or below
// the single-shot ceiling use one PUT; anything larger goes through an upload
// session in chunks, each with its own timeout.
func (u *Uploader) Deliver(ctx context.Context, payload courier.Payload, dest courier.Destination) (courier.DeliveryOutcome, error) {
	if payload.FileName == "" {
		return courier.DeliveryOutcome{}, courier.NewDeliveryError(courier.ChannelDrive, dest.Recipient, fmt.Errorf("payload has no file name"))
	}
	target := path.Join(u.cfg.rootFolder(), dest.Folder, payload.FileName)

	var (
		doc fileDocument
		err error
	)
	if int64(len(payload.Data)) <= u.cfg.singleShotMax() {
		doc, err = u.putSingleShot(ctx, target, payload)
	} else {
		doc, err = u.putChunked(ctx, target, payload)
	}
	if err != nil {
		return courier.DeliveryOutcome{}, wrapUploadError(dest.Recipient, err)
	}

	location := doc.URL
	if location == "" {
		location = "drive:" + target
	}
	u.logger.Debug("edition uploaded",
		zap.String("path", target),
		zap.String("edition", payload.Edition.Key()),
		zap.Int("bytes", len(payload.Data)))
	return courier.DeliveryOutcome{Channel: courier.ChannelDrive, Location: location}, nil
}

func (u *Uploader) putSingleShot(ctx context.Context, target string, payload courier.Payload) (fileDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.chunkTimeout())
	defer cancel()

	var doc fileDocument
	resp, err := u.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", payload.ContentType).
		SetQueryParam("path", target).
		SetBody(payload.Data).
		SetResult(&doc).
		Put("/api/files")
	if err := classify("upload", resp, err); err != nil {
		return fileDocument{}, err
	}
	if !resp.IsSuccess() {
		return fileDocument{}, fmt.Errorf("upload: drive returned %d", resp.StatusCode())
	}
	return doc, nil
}

// putChunked runs an upload session. The session is deleted when any chunk
// fails, which discards the partial file on the drive side.
func (u *Uploader) putChunked(ctx context.Context, target string, payload courier.Payload) (fileDocument, error) {
	session, err := u.openSession(ctx, target, payload)
	if err != nil {
		return fileDocument{}, err
	}

	total := int64(len(payload.Data))
	chunkSize := u.cfg.chunkSize()

	var doc fileDocument
	for offset := int64(0); offset < total; offset += chunkSize {
		end := offset + chunkSize
		if end > total {
			end = total
		}
		if err := u.putChunk(ctx, session.UploadID, payload, offset, end, total, &doc); err != nil {
			u.abortSession(session.UploadID)
			return fileDocument{}, err
		}
	}
	return doc, nil
}

func (u *Uploader) openSession(ctx context.Context, target string, payload courier.Payload) (uploadSession, error) {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.chunkTimeout())
	defer cancel()

	var session uploadSession
	resp, err := u.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"path":         target,
			"size":         len(payload.Data),
			"content_type": payload.ContentType,
		}).
		SetResult(&session).
		Post("/api/uploads")
	if err := classify("open upload session", resp, err); err != nil {
		return uploadSession{}, err
	}
	if !resp.IsSuccess() {
		return uploadSession{}, fmt.Errorf("open upload session: drive returned %d", resp.StatusCode())
	}
	if session.UploadID == "" {
		return uploadSession{}, fmt.Errorf("open upload session: drive sent no upload id")
	}
	return session, nil
}

func (u *Uploader) putChunk(ctx context.Context, uploadID string, payload courier.Payload, offset, end, total int64, doc *fileDocument) error {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.chunkTimeout())
	defer cancel()

	resp, err := u.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end-1, total)).
		SetBody(payload.Data[offset:end]).
		SetResult(doc).
		SetPathParam("upload", uploadID).
		Put("/api/uploads/{upload}")
	if err := classify("upload chunk", resp, err); err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("upload chunk at %d: drive returned %d", offset, resp.StatusCode())
	}
	return nil
}

// abortSession discards a failed upload session. Best effort on a fresh
// context since the delivery context may already be canceled.
func (u *Uploader) abortSession(uploadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), u.cfg.chunkTimeout())
	defer cancel()

	resp, err := u.http.R().
		SetContext(ctx).
		SetPathParam("upload", uploadID).
		Delete("/api/uploads/{upload}")
	if err != nil || !resp.IsSuccess() {
		u.logger.Warn("could not abort upload session",
			zap.String("upload_id", uploadID),
			zap.Error(err))
	}
}

// wrapUploadError keeps auth and transient failures bare for the retry and
// halt logic and pins everything else to the recipient as a delivery error.
func wrapUploadError(recipient string, err error) error {
	if courier.IsAuth(err) || courier.IsTransient(err) {
		return err
	}
	return courier.NewDeliveryError(courier.ChannelDrive, recipient, err)
}

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
		return courier.NewAuthError(op, fmt.Errorf("drive returned %d", code))
	case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
		return courier.NewTransientError(op, fmt.Errorf("drive returned %d", code))
	}
	return nil
}
