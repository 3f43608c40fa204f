package mail

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/presslane/edition-courier/internal/courier"
)

// buildMessage renders the RFC 822 message for one recipient: a short plain
// text body plus the edition file as an attachment.
func buildMessage(cfg Config, recipient string, payload courier.Payload) (string, error) {
	var buf bytes.Buffer

	subject := subjectFor(payload.Edition)
	if cfg.SubjectPrefix != "" {
		subject = cfg.SubjectPrefix + " " + subject
	}

	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Name: cfg.SenderName, Address: cfg.Sender}})
	header.SetAddressList("To", []*mail.Address{{Address: recipient}})
	header.SetSubject(subject)

	writer, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return "", fmt.Errorf("create mime writer: %w", err)
	}

	inline, err := writer.CreateInline()
	if err != nil {
		return "", fmt.Errorf("create inline part: %w", err)
	}
	var textHeader mail.InlineHeader
	textHeader.Set("Content-Type", "text/plain; charset=utf-8")
	text, err := inline.CreatePart(textHeader)
	if err != nil {
		return "", fmt.Errorf("create text part: %w", err)
	}
	if _, err := io.WriteString(text, bodyFor(payload.Edition)); err != nil {
		return "", fmt.Errorf("write body: %w", err)
	}
	if err := text.Close(); err != nil {
		return "", fmt.Errorf("close text part: %w", err)
	}
	if err := inline.Close(); err != nil {
		return "", fmt.Errorf("close inline part: %w", err)
	}

	var attachHeader mail.AttachmentHeader
	attachHeader.Set("Content-Type", contentTypeFor(payload))
	attachHeader.Set("Content-Transfer-Encoding", "base64")
	attachHeader.SetFilename(payload.FileName)
	attachment, err := writer.CreateAttachment(attachHeader)
	if err != nil {
		return "", fmt.Errorf("create attachment: %w", err)
	}
	if _, err := attachment.Write(payload.Data); err != nil {
		return "", fmt.Errorf("write attachment: %w", err)
	}
	if err := attachment.Close(); err != nil {
		return "", fmt.Errorf("close attachment: %w", err)
	}

	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close mime writer: %w", err)
	}
	return buf.String(), nil
}

func subjectFor(ed courier.Edition) string {
	if ed.Title != "" {
		return ed.Title
	}
	if ed.IssueNumber != "" {
		return fmt.Sprintf("%s issue %s", ed.PublicationID, ed.IssueNumber)
	}
	return fmt.Sprintf("%s edition of %s", ed.PublicationID, ed.PublishedOn.Format("2006-01-02"))
}

func bodyFor(ed courier.Edition) string {
	return fmt.Sprintf("Your copy of %s is attached.\r\n", subjectFor(ed))
}

func contentTypeFor(payload courier.Payload) string {
	if payload.ContentType != "" {
		return payload.ContentType
	}
	return "application/octet-stream"
}
