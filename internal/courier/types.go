package courier

import (
	"time"
)

// Channel identifies a delivery mechanism.
type Channel string

// Delivery channels. Mail sends the document as an attachment directly to the
// recipient; Drive uploads it into a shared cloud folder.
const (
	ChannelMail  Channel = "mail"
	ChannelDrive Channel = "drive"
)

// Publication is a named, independently schedulable content source. The
// per-channel flags are a global ceiling: a recipient preference can restrict
// them but never expand them.
type Publication struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Active       bool      `json:"active"`
	MailEnabled  bool      `json:"mail_enabled"`
	DriveEnabled bool      `json:"drive_enabled"`
	FolderPath   string    `json:"folder_path"`
	YearFolders  bool      `json:"year_folders"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ChannelEnabled reports whether the publication allows the channel at all.
func (p Publication) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelMail:
		return p.MailEnabled
	case ChannelDrive:
		return p.DriveEnabled
	default:
		return false
	}
}

// Recipient is a delivery target. Recipients receive nothing unless they
// carry an enabled preference for a publication (opt-in model).
type Recipient struct {
	Address     string       `json:"address"`
	Name        string       `json:"name,omitempty"`
	Active      bool         `json:"active"`
	Preferences []Preference `json:"preferences"`
}

// PreferenceFor returns the recipient's preference entry for the publication,
// if one exists.
func (r Recipient) PreferenceFor(publicationID string) (Preference, bool) {
	for _, p := range r.Preferences {
		if p.PublicationID == publicationID {
			return p, true
		}
	}
	return Preference{}, false
}

// Preference is a recipient's per-publication opt-in. Pointer fields are
// overrides: nil inherits the publication default, a non-nil value wins even
// when it is the zero value.
type Preference struct {
	PublicationID string     `json:"publication_id"`
	Enabled       bool       `json:"enabled"`
	Mail          bool       `json:"mail"`
	Drive         bool       `json:"drive"`
	FolderPath    *string    `json:"folder_path,omitempty"`
	YearFolders   *bool      `json:"year_folders,omitempty"`
	SendCount     int        `json:"send_count"`
	LastSentAt    *time.Time `json:"last_sent_at,omitempty"`
}

// Edition is one dated or issue-numbered instance of a publication.
type Edition struct {
	PublicationID string    `json:"publication_id"`
	Title         string    `json:"title"`
	IssueNumber   string    `json:"issue_number,omitempty"`
	PublishedOn   time.Time `json:"published_on"`
	FileName      string    `json:"file_name"`
	DownloadURL   string    `json:"download_url,omitempty"`
}

// Key derives the stable registry identity for the edition. The issue number
// is preferred when the portal supplies one; otherwise the publication date is
// used. The portal's displayed delivery date can drift from the print date, so
// whichever component is not part of the key is carried as metadata only.
func (e Edition) Key() string {
	if e.IssueNumber != "" {
		return e.IssueNumber + "_" + e.PublicationID
	}
	return e.PublishedOn.Format("2006-01-02") + "_" + e.PublicationID
}

// Payload carries one edition's bytes through delivery and archival.
type Payload struct {
	Edition     Edition
	FileName    string
	ContentType string
	Data        []byte
	ContentHash string
	FromCache   bool
}

// Destination addresses a single delivery: the mail channel uses Recipient,
// the drive channel uses Folder. Recipient is always set for attribution.
type Destination struct {
	Recipient string
	Folder    string
}

// DeliveryOutcome is returned by a Sender for one delivery attempt.
type DeliveryOutcome struct {
	Channel  Channel `json:"channel"`
	Location string  `json:"location,omitempty"`
}

// DeliveryRecord is the pipeline's per-recipient, per-channel bookkeeping.
type DeliveryRecord struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	OK        bool    `json:"ok"`
	Location  string  `json:"location,omitempty"`
	ErrorText string  `json:"error_text,omitempty"`
}

// ArchiveLocation describes where an edition's bytes were archived.
type ArchiveLocation struct {
	Store string `json:"store"`
	Path  string `json:"path"`
	URI   string `json:"uri"`
	Bytes int64  `json:"bytes"`
}

// EditionOrigin records how the edition's bytes were obtained.
type EditionOrigin string

// Origin values persisted on processed-edition rows.
const (
	OriginLive     EditionOrigin = "live"
	OriginBackfill EditionOrigin = "backfill"
)

// ProcessedEdition is the dedup record persisted per (publication, edition).
// Timestamps are populated as the pipeline steps complete.
type ProcessedEdition struct {
	PublicationID string          `json:"publication_id"`
	EditionKey    string          `json:"edition_key"`
	Title         string          `json:"title,omitempty"`
	IssueNumber   string          `json:"issue_number,omitempty"`
	PublishedOn   time.Time       `json:"published_on"`
	Origin        EditionOrigin   `json:"origin"`
	ContentHash   string          `json:"content_hash,omitempty"`
	ArchiveStore  string          `json:"archive_store,omitempty"`
	ArchivePath   string          `json:"archive_path,omitempty"`
	ByteSize      int64           `json:"byte_size"`
	FetchedAt     *time.Time      `json:"fetched_at,omitempty"`
	MailedAt      *time.Time      `json:"mailed_at,omitempty"`
	UploadedAt    *time.Time      `json:"uploaded_at,omitempty"`
	ArchivedAt    *time.Time      `json:"archived_at,omitempty"`
	FinalizedAt   *time.Time      `json:"finalized_at,omitempty"`
}

// Stage is a pipeline lifecycle state for one publication run.
type Stage string

// Pipeline stages in execution order, plus the terminal failure state.
const (
	StageDiscovering  Stage = "discovering"
	StageChecking     Stage = "checking"
	StageFetching     Stage = "fetching"
	StageDistributing Stage = "distributing"
	StageArchiving    Stage = "archiving"
	StageRecording    Stage = "recording"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// DeliveryCounts tracks per-channel delivery stats for one publication run.
type DeliveryCounts struct {
	MailSent    int `json:"mail_sent"`
	MailFailed  int `json:"mail_failed"`
	DriveSent   int `json:"drive_sent"`
	DriveFailed int `json:"drive_failed"`
}

// Sent returns the total successful deliveries across channels.
func (c DeliveryCounts) Sent() int { return c.MailSent + c.DriveSent }

// Failed returns the total failed deliveries across channels.
func (c DeliveryCounts) Failed() int { return c.MailFailed + c.DriveFailed }

// PublicationResult is the structured outcome of one pipeline invocation.
// It is consumed by the batch orchestrator and never persisted.
type PublicationResult struct {
	PublicationID    string           `json:"publication_id"`
	PublicationName  string           `json:"publication_name"`
	EditionKey       string           `json:"edition_key,omitempty"`
	EditionTitle     string           `json:"edition_title,omitempty"`
	Success          bool             `json:"success"`
	AlreadyProcessed bool             `json:"already_processed"`
	NoEdition        bool             `json:"no_edition"`
	FromCache        bool             `json:"from_cache"`
	Counts           DeliveryCounts   `json:"counts"`
	Deliveries       []DeliveryRecord `json:"deliveries,omitempty"`
	Archived         bool             `json:"archived"`
	ArchiveURI       string           `json:"archive_uri,omitempty"`
	FailedStage      Stage            `json:"failed_stage,omitempty"`
	ErrorText        string           `json:"error_text,omitempty"`
	Duration         time.Duration    `json:"duration_ns"`
}

// Skipped reports whether the run ended without work to do: either the
// edition was already processed or the portal had nothing new.
func (r PublicationResult) Skipped() bool {
	return r.Success && (r.AlreadyProcessed || r.NoEdition)
}

// BatchSummary aggregates one scheduled run over all active publications.
type BatchSummary struct {
	BatchID        string              `json:"batch_id"`
	StartedAt      time.Time           `json:"started_at"`
	FinishedAt     time.Time           `json:"finished_at"`
	Processed      int                 `json:"processed"`
	Succeeded      int                 `json:"succeeded"`
	Skipped        int                 `json:"skipped"`
	Failed         int                 `json:"failed"`
	RegistryPurged int64               `json:"registry_purged"`
	Halted         bool                `json:"halted"`
	HaltReason     string              `json:"halt_reason,omitempty"`
	Results        []PublicationResult `json:"results"`
}
