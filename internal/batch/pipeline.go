// Package batch executes the edition delivery pipeline: a Pipeline carries
// one publication from discovery to the finalized registry record, and the
// Orchestrator iterates it over every active publication in one run.
package batch

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"

	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/archive"
	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/prefs"
	"github.com/presslane/edition-courier/internal/progress"
)

// PipelineConfig controls Pipeline behavior.
type PipelineConfig struct {
	// UseArchiveCache makes the fetch stage consult the archive before the
	// portal so an already archived edition is never downloaded twice.
	UseArchiveCache bool
	// ContentType is assumed for bytes served from the archive, which stores
	// documents without their original response headers.
	ContentType string
}

func (cfg PipelineConfig) contentType() string {
	if cfg.ContentType == "" {
		return "application/pdf"
	}
	return cfg.ContentType
}

// Pipeline runs one publication through discovery, dedup, fetch, delivery,
// archival and record-keeping. It is stateless across runs; all per-run state
// lives in the PublicationResult it returns.
type Pipeline struct {
	source    courier.Source
	registry  courier.Registry
	directory courier.Directory
	archive   courier.Archive
	senders   []courier.Sender
	hasher    courier.Hasher
	clock     courier.Clock
	retry     *courier.ExponentialRetryPolicy
	emitter   progress.Emitter
	cfg       PipelineConfig
	logger    *zap.Logger
}

// NewPipeline constructs a Pipeline.
func NewPipeline(
	source courier.Source,
	registry courier.Registry,
	directory courier.Directory,
	archiveStore courier.Archive,
	senders []courier.Sender,
	hasher courier.Hasher,
	clock courier.Clock,
	retry *courier.ExponentialRetryPolicy,
	emitter progress.Emitter,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if retry == nil {
		retry = courier.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source:    source,
		registry:  registry,
		directory: directory,
		archive:   archiveStore,
		senders:   senders,
		hasher:    hasher,
		clock:     clock,
		retry:     retry,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// run is the mutable state of one publication pass.
type run struct {
	batchID    string
	pub        courier.Publication
	recipients []courier.Recipient
	ed         courier.Edition
	payload    courier.Payload
	record     courier.ProcessedEdition
	res        courier.PublicationResult
	logger     *zap.Logger
}

func (r *run) fail(stage courier.Stage, err error) error {
	r.res.FailedStage = stage
	r.res.ErrorText = err.Error()
	return err
}

// Run processes one publication end to end. Delivery failures are folded into
// the result; the returned error is non-nil only when the whole batch must
// stop, which today means authentication was rejected.
func (p *Pipeline) Run(ctx context.Context, batchID string, pub courier.Publication, recipients []courier.Recipient) (courier.PublicationResult, error) {
	started := p.clock.Now()
	r := &run{
		batchID:    batchID,
		pub:        pub,
		recipients: recipients,
		logger: p.logger.With(
			zap.String("batch_id", batchID),
			zap.String("publication", pub.ID),
		),
	}
	r.res.PublicationID = pub.ID
	r.res.PublicationName = pub.Name

	err := p.process(ctx, r)
	r.res.Duration = p.clock.Now().Sub(started)

	if err != nil {
		r.logger.Error("publication failed",
			zap.String("stage", string(r.res.FailedStage)),
			zap.Error(err))
		p.emit(ctx, r, progress.Event{
			Stage:  courier.StageFailed,
			Result: progress.ResultFailed,
			Dur:    r.res.Duration,
			Note:   r.res.ErrorText,
		})
		if courier.IsAuth(err) {
			return r.res, err
		}
		return r.res, nil
	}

	r.res.Success = true
	result := progress.ResultDelivered
	note := ""
	switch {
	case r.res.NoEdition:
		result, note = progress.ResultSkipped, "no new edition"
	case r.res.AlreadyProcessed:
		result, note = progress.ResultSkipped, "already processed"
	}
	p.emit(ctx, r, progress.Event{
		Stage:  courier.StageDone,
		Result: result,
		Dur:    r.res.Duration,
		Note:   note,
	})
	r.logger.Info("publication processed",
		zap.String("edition", r.res.EditionKey),
		zap.Bool("skipped", r.res.Skipped()),
		zap.Int("sent", r.res.Counts.Sent()),
		zap.Int("failed", r.res.Counts.Failed()),
		zap.Duration("duration", r.res.Duration))
	return r.res, nil
}

func (p *Pipeline) process(ctx context.Context, r *run) error {
	p.emit(ctx, r, progress.Event{Stage: courier.StageDiscovering})
	ed, err := p.discover(ctx, r.pub)
	if errors.Is(err, courier.ErrNoEdition) {
		r.res.NoEdition = true
		r.logger.Info("no new edition")
		return nil
	}
	if err != nil {
		return r.fail(courier.StageDiscovering, err)
	}
	r.ed = ed
	r.res.EditionKey = ed.Key()
	r.res.EditionTitle = ed.Title
	r.logger.Info("edition discovered",
		zap.String("edition", r.res.EditionKey),
		zap.String("title", ed.Title))

	p.emit(ctx, r, progress.Event{Stage: courier.StageChecking})
	seen, err := p.registry.IsProcessed(ctx, r.pub.ID, r.res.EditionKey)
	if err != nil {
		return r.fail(courier.StageChecking, fmt.Errorf("check registry: %w", err))
	}
	if seen {
		r.res.AlreadyProcessed = true
		r.logger.Info("edition already processed", zap.String("edition", r.res.EditionKey))
		return nil
	}

	p.emit(ctx, r, progress.Event{Stage: courier.StageFetching})
	if err := p.fetch(ctx, r); err != nil {
		return r.fail(courier.StageFetching, err)
	}
	p.emit(ctx, r, progress.Event{
		Stage:  courier.StageFetching,
		Result: progress.ResultOK,
		Bytes:  int64(len(r.payload.Data)),
	})
	if err := p.markFetched(ctx, r); err != nil {
		return r.fail(courier.StageFetching, err)
	}

	p.emit(ctx, r, progress.Event{Stage: courier.StageDistributing})
	if err := p.distribute(ctx, r); err != nil {
		return r.fail(courier.StageDistributing, err)
	}

	p.emit(ctx, r, progress.Event{Stage: courier.StageArchiving})
	p.archiveEdition(ctx, r)

	p.emit(ctx, r, progress.Event{Stage: courier.StageRecording})
	p.finalize(ctx, r)
	return nil
}

func (p *Pipeline) discover(ctx context.Context, pub courier.Publication) (courier.Edition, error) {
	var ed courier.Edition
	err := p.retry.Do(ctx, func() error {
		var err error
		ed, err = p.source.LatestEdition(ctx, pub)
		return err
	})
	return ed, err
}

// fetch obtains the edition bytes, archive first when the cache is enabled,
// then computes the content hash. The payload file name is canonicalized so
// mail attachments, drive uploads and archive objects all agree on it.
func (p *Pipeline) fetch(ctx context.Context, r *run) error {
	r.payload = courier.Payload{
		Edition:     r.ed,
		FileName:    archive.FileName(r.ed),
		ContentType: p.cfg.contentType(),
	}
	if p.cfg.UseArchiveCache {
		data, err := p.archive.Fetch(ctx, r.pub, r.ed)
		switch {
		case err == nil:
			r.logger.Info("serving edition from archive", zap.Int("bytes", len(data)))
			r.payload.Data = data
			r.payload.FromCache = true
			r.res.FromCache = true
		case errors.Is(err, courier.ErrNotFound):
		default:
			r.logger.Warn("archive lookup failed, falling back to portal", zap.Error(err))
		}
	}
	if r.payload.Data == nil {
		var (
			data  []byte
			ctype string
		)
		err := p.retry.Do(ctx, func() error {
			var err error
			data, ctype, err = p.source.Download(ctx, r.ed)
			return err
		})
		if err != nil {
			return fmt.Errorf("download edition: %w", err)
		}
		r.payload.Data = data
		if ctype != "" {
			r.payload.ContentType = ctype
		}
	}
	hash, err := p.hasher.Hash(r.payload.Data)
	if err != nil {
		return fmt.Errorf("hash edition: %w", err)
	}
	r.payload.ContentHash = hash
	return nil
}

// markFetched writes the initial registry record. Failing here aborts the
// publication: without the record a rerun could not be deduplicated, and no
// delivery has happened yet so aborting is free.
func (p *Pipeline) markFetched(ctx context.Context, r *run) error {
	now := p.clock.Now()
	origin := courier.OriginLive
	if r.payload.FromCache {
		origin = courier.OriginBackfill
	}
	r.record = courier.ProcessedEdition{
		PublicationID: r.pub.ID,
		EditionKey:    r.res.EditionKey,
		Title:         r.ed.Title,
		IssueNumber:   r.ed.IssueNumber,
		PublishedOn:   r.ed.PublishedOn,
		Origin:        origin,
		ContentHash:   r.payload.ContentHash,
		ByteSize:      int64(len(r.payload.Data)),
		FetchedAt:     &now,
	}
	if err := p.registry.MarkProcessed(ctx, r.record); err != nil {
		return fmt.Errorf("record fetch: %w", err)
	}
	return nil
}

// distribute fans the payload out across the enabled channels. Individual
// delivery failures are recorded and tolerated; authentication failures and
// a run where every attempted delivery failed abort the publication.
func (p *Pipeline) distribute(ctx context.Context, r *run) error {
	attempted := 0
	for _, sender := range p.senders {
		ch := sender.Channel()
		if !r.pub.ChannelEnabled(ch) {
			continue
		}
		targets := prefs.RecipientsFor(r.pub, ch, r.recipients)
		if len(targets) == 0 {
			r.logger.Info("no opted-in recipients", zap.String("channel", string(ch)))
			continue
		}
		attempted += len(targets)
		var err error
		switch ch {
		case courier.ChannelMail:
			err = p.deliverMail(ctx, r, sender, targets)
		case courier.ChannelDrive:
			err = p.deliverDrive(ctx, r, sender, targets)
		default:
			r.logger.Warn("unknown channel, skipping", zap.String("channel", string(ch)))
			attempted -= len(targets)
		}
		if err != nil {
			return err
		}
	}
	if attempted > 0 && r.res.Counts.Sent() == 0 {
		return fmt.Errorf("all %d deliveries failed", attempted)
	}
	return nil
}

func (p *Pipeline) deliverMail(ctx context.Context, r *run, sender courier.Sender, targets []courier.Recipient) error {
	for _, rec := range targets {
		dest := courier.Destination{Recipient: rec.Address}
		outcome, err := p.deliver(ctx, sender, r.payload, dest)
		if err != nil {
			r.res.Counts.MailFailed++
			p.recordDelivery(ctx, r, courier.ChannelMail, rec.Address, "", err)
			if courier.IsAuth(err) {
				return err
			}
			continue
		}
		r.res.Counts.MailSent++
		p.recordDelivery(ctx, r, courier.ChannelMail, rec.Address, outcome.Location, nil)
		p.noteSend(ctx, r, rec.Address)
	}
	if r.res.Counts.MailSent > 0 {
		p.markDelivered(ctx, r, courier.ChannelMail)
	}
	return nil
}

// deliverDrive groups recipients by resolved folder so a shared folder is
// uploaded once, while every recipient behind it still gets a record and a
// send-count bump.
func (p *Pipeline) deliverDrive(ctx context.Context, r *run, sender courier.Sender, targets []courier.Recipient) error {
	folders := make([]string, 0, len(targets))
	byFolder := make(map[string][]courier.Recipient, len(targets))
	for _, rec := range targets {
		folder := p.driveFolder(r, rec)
		if _, ok := byFolder[folder]; !ok {
			folders = append(folders, folder)
		}
		byFolder[folder] = append(byFolder[folder], rec)
	}
	for _, folder := range folders {
		group := byFolder[folder]
		dest := courier.Destination{Recipient: group[0].Address, Folder: folder}
		outcome, err := p.deliver(ctx, sender, r.payload, dest)
		for _, rec := range group {
			if err != nil {
				r.res.Counts.DriveFailed++
				p.recordDelivery(ctx, r, courier.ChannelDrive, rec.Address, "", err)
				continue
			}
			r.res.Counts.DriveSent++
			p.recordDelivery(ctx, r, courier.ChannelDrive, rec.Address, outcome.Location, nil)
			p.noteSend(ctx, r, rec.Address)
		}
		if err != nil && courier.IsAuth(err) {
			return err
		}
	}
	if r.res.Counts.DriveSent > 0 {
		p.markDelivered(ctx, r, courier.ChannelDrive)
	}
	return nil
}

func (p *Pipeline) driveFolder(r *run, rec courier.Recipient) string {
	folder := prefs.FolderPath(rec, r.pub)
	if prefs.YearFolders(rec, r.pub) {
		year := r.ed.PublishedOn.Year()
		if r.ed.PublishedOn.IsZero() {
			year = p.clock.Now().Year()
		}
		folder = path.Join(folder, strconv.Itoa(year))
	}
	return folder
}

func (p *Pipeline) deliver(ctx context.Context, sender courier.Sender, payload courier.Payload, dest courier.Destination) (courier.DeliveryOutcome, error) {
	var outcome courier.DeliveryOutcome
	err := p.retry.Do(ctx, func() error {
		var err error
		outcome, err = sender.Deliver(ctx, payload, dest)
		return err
	})
	return outcome, err
}

func (p *Pipeline) recordDelivery(ctx context.Context, r *run, ch courier.Channel, recipient, location string, err error) {
	rec := courier.DeliveryRecord{
		Channel:   ch,
		Recipient: recipient,
		OK:        err == nil,
		Location:  location,
	}
	result := progress.ResultOK
	if err != nil {
		rec.ErrorText = err.Error()
		result = progress.ResultFailed
		r.logger.Warn("delivery failed",
			zap.String("channel", string(ch)),
			zap.String("recipient", recipient),
			zap.Error(err))
	} else {
		r.logger.Info("delivered",
			zap.String("channel", string(ch)),
			zap.String("recipient", recipient),
			zap.String("location", location))
	}
	r.res.Deliveries = append(r.res.Deliveries, rec)
	p.emit(ctx, r, progress.Event{
		Stage:   courier.StageDistributing,
		Channel: ch,
		Result:  result,
		Note:    rec.ErrorText,
	})
}

// noteSend bumps the recipient's per-publication send stats. The delivery
// already happened, so a stats write failure is logged and swallowed.
func (p *Pipeline) noteSend(ctx context.Context, r *run, address string) {
	if err := p.directory.RecordSend(ctx, address, r.pub.ID, p.clock.Now()); err != nil {
		r.logger.Warn("record send",
			zap.String("recipient", address),
			zap.Error(err))
	}
}

func (p *Pipeline) markDelivered(ctx context.Context, r *run, ch courier.Channel) {
	now := p.clock.Now()
	switch ch {
	case courier.ChannelMail:
		r.record.MailedAt = &now
	case courier.ChannelDrive:
		r.record.UploadedAt = &now
	}
	if err := p.registry.MarkProcessed(ctx, r.record); err != nil {
		r.logger.Warn("record delivery timestamp",
			zap.String("channel", string(ch)),
			zap.Error(err))
	}
}

// archiveEdition writes the bytes to long-term storage. The publication was
// already delivered, so archive failures are reported but never fail the run.
func (p *Pipeline) archiveEdition(ctx context.Context, r *run) {
	if r.payload.FromCache {
		// The bytes came out of the archive; nothing to write back.
		r.res.Archived = true
		return
	}
	loc, err := p.archive.Store(ctx, r.pub, r.ed, r.payload)
	if err != nil {
		r.logger.Error("archive edition", zap.Error(err))
		p.emit(ctx, r, progress.Event{
			Stage:  courier.StageArchiving,
			Result: progress.ResultFailed,
			Note:   err.Error(),
		})
		return
	}
	now := p.clock.Now()
	r.record.ArchiveStore = loc.Store
	r.record.ArchivePath = loc.Path
	r.record.ArchivedAt = &now
	if err := p.registry.MarkProcessed(ctx, r.record); err != nil {
		r.logger.Warn("record archive timestamp", zap.Error(err))
	}
	r.res.Archived = true
	r.res.ArchiveURI = loc.URI
	p.emit(ctx, r, progress.Event{
		Stage:  courier.StageArchiving,
		Result: progress.ResultOK,
		Bytes:  loc.Bytes,
	})
	r.logger.Info("edition archived", zap.String("uri", loc.URI))
}

// finalize stamps the record complete. Without the marker the next batch
// reruns this edition and deliveries repeat, so a failure here is loud even
// though the run itself still counts as a success.
func (p *Pipeline) finalize(ctx context.Context, r *run) {
	now := p.clock.Now()
	r.record.FinalizedAt = &now
	if err := p.registry.MarkProcessed(ctx, r.record); err != nil {
		r.logger.Error("finalize edition record", zap.Error(err))
	}
}

func (p *Pipeline) emit(ctx context.Context, r *run, evt progress.Event) {
	if p.emitter == nil {
		return
	}
	evt.BatchID = r.batchID
	evt.TS = p.clock.Now()
	evt.Publication = r.pub.ID
	if evt.Edition == "" {
		evt.Edition = r.res.EditionKey
	}
	p.emitter.Emit(ctx, evt)
}
