package archive

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/kennygrant/sanitize"

	"github.com/presslane/edition-courier/internal/courier"
)

// ObjectPath returns the archive location for an edition:
// {year}/{publication_id}/{normalized filename}. The path is stable for any
// edition carrying a published date; editions keyed by issue number alone
// file under the year of now.
func ObjectPath(pub courier.Publication, ed courier.Edition, now time.Time) string {
	year := ed.PublishedOn.Year()
	if ed.PublishedOn.IsZero() {
		year = now.Year()
	}
	return path.Join(strconv.Itoa(year), pub.ID, FileName(ed))
}

// FileName returns the normalized file name for the edition. The portal's
// name is used when present; otherwise one is derived from the edition key.
func FileName(ed courier.Edition) string {
	name := ed.FileName
	if name == "" {
		name = ed.Key() + ".pdf"
	}
	return sanitize.Name(name)
}

// Tags builds the object metadata recorded with each archived edition. The
// archive API layer rejects non-ASCII header values, so every free-text
// value goes through TagValue.
func Tags(pub courier.Publication, ed courier.Edition, contentHash string, archivedAt time.Time) map[string]string {
	tags := map[string]string{
		"publication_id": TagValue(pub.ID),
		"publication":    TagValue(pub.Name),
		"edition_key":    TagValue(ed.Key()),
		"archived_at":    archivedAt.UTC().Format(time.RFC3339),
	}
	if !ed.PublishedOn.IsZero() {
		tags["edition_date"] = ed.PublishedOn.Format("2006-01-02")
	}
	if ed.IssueNumber != "" {
		tags["issue"] = TagValue(ed.IssueNumber)
	}
	if ed.DownloadURL != "" {
		tags["origin_url"] = TagValue(ed.DownloadURL)
	}
	if contentHash != "" {
		tags["content_sha256"] = contentHash
	}
	return tags
}

// TagValue transliterates v into an ASCII-safe metadata value. Accented
// characters are mapped to ASCII equivalents and anything left outside the
// printable ASCII range is dropped.
func TagValue(v string) string {
	v = sanitize.Accents(v)
	var b strings.Builder
	for _, r := range v {
		if r >= 32 && r < 127 {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
