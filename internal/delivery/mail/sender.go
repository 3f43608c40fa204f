// Package mail delivers editions as Gmail attachments. Authentication uses a
// pre-issued OAuth refresh token; the token acquisition flow lives outside
// this program.
package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/presslane/edition-courier/internal/courier"
)

// Config controls the Gmail channel.
type Config struct {
	Sender             string
	SenderName         string
	SubjectPrefix      string
	ClientID           string
	ClientSecret       string
	RefreshToken       string
	MaxAttachmentBytes int64
	Timeout            time.Duration
}

func (cfg Config) timeout() time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return 30 * time.Second
}

func (cfg Config) maxAttachmentBytes() int64 {
	if cfg.MaxAttachmentBytes > 0 {
		return cfg.MaxAttachmentBytes
	}
	return 20 << 20
}

// rawSender sends one raw RFC 822 message and returns the provider's message
// id. Narrow so tests can stand in for the Gmail API.
type rawSender interface {
	send(ctx context.Context, raw string) (string, error)
}

type gmailSender struct {
	service *gmail.Service
	user    string
}

func (g *gmailSender) send(_ context.Context, raw string) (string, error) {
	msg := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
	}
	sent, err := g.service.Users.Messages.Send(g.user, msg).Do()
	if err != nil {
		return "", err
	}
	return sent.Id, nil
}

// Sender implements courier.Sender over the Gmail API.
type Sender struct {
	cfg    Config
	raw    rawSender
	logger *zap.Logger
}

// New builds the Gmail channel. The service authenticates with a token source
// derived from the configured refresh token, so it never prompts.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Sender, error) {
	if cfg.Sender == "" {
		return nil, fmt.Errorf("sender address is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("gmail oauth client id, secret and refresh token are required")
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return newWithRawSender(cfg, &gmailSender{service: service, user: cfg.Sender}, logger), nil
}

func newWithRawSender(cfg Config, raw rawSender, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{cfg: cfg, raw: raw, logger: logger.Named("mail")}
}

// Channel names the delivery channel.
func (s *Sender) Channel() courier.Channel {
	return courier.ChannelMail
}

// Deliver mails the edition to one recipient. Editions over the attachment
// ceiling fail without calling the API since Gmail would reject them anyway.
func (s *Sender) Deliver(ctx context.Context, payload courier.Payload, dest courier.Destination) (courier.DeliveryOutcome, error) {
	if dest.Recipient == "" {
		return courier.DeliveryOutcome{}, courier.NewDeliveryError(courier.ChannelMail, "", fmt.Errorf("destination has no recipient address"))
	}
	if size := int64(len(payload.Data)); size > s.cfg.maxAttachmentBytes() {
		err := fmt.Errorf("attachment is %d bytes, ceiling is %d", size, s.cfg.maxAttachmentBytes())
		return courier.DeliveryOutcome{}, courier.NewDeliveryError(courier.ChannelMail, dest.Recipient, err)
	}

	raw, err := buildMessage(s.cfg, dest.Recipient, payload)
	if err != nil {
		return courier.DeliveryOutcome{}, courier.NewDeliveryError(courier.ChannelMail, dest.Recipient, fmt.Errorf("compose message: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.timeout())
	defer cancel()

	id, err := s.raw.send(ctx, raw)
	if err != nil {
		return courier.DeliveryOutcome{}, classifySendError(dest.Recipient, err)
	}

	s.logger.Debug("edition mailed",
		zap.String("recipient", dest.Recipient),
		zap.String("edition", payload.Edition.Key()),
		zap.String("message_id", id))
	return courier.DeliveryOutcome{Channel: courier.ChannelMail, Location: "gmail:" + id}, nil
}

// classifySendError separates credential failures, which must halt the batch,
// from per-recipient and retryable failures.
func classifySendError(recipient string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
			return courier.NewAuthError("gmail send", err)
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError:
			return courier.NewTransientError("gmail send", err)
		}
		return courier.NewDeliveryError(courier.ChannelMail, recipient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return courier.NewTransientError("gmail send", err)
	}
	return courier.NewDeliveryError(courier.ChannelMail, recipient, err)
}
