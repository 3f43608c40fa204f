// Package main hosts the edition courier service entrypoint.
//
// Architecture overview:
//   - Batch pipeline: internal/batch drives one publication at a time through
//     discover, dedup-check, fetch, distribute, archive, and record. The
//     orchestrator wraps the pipeline with batch-level sequencing, panic
//     isolation, registry retention cleanup, and the end-of-batch
//     notification.
//   - Portal source: internal/source/web logs in to the publisher portal with
//     a Resty client and resolves the newest edition per publication; the
//     archive doubles as a read-through cache when batch.use_cache is set.
//   - Delivery channels: internal/delivery/mail sends Gmail attachments using
//     a pre-issued OAuth refresh token; internal/delivery/drive uploads into
//     shared folders, switching from single-shot to segmented uploads above
//     the configured size threshold. Channels fail independently per
//     recipient; credential failures halt the whole batch.
//   - Persistence: internal/store/postgres keeps the processed-edition
//     registry and the publication/recipient directory on a shared pgx pool.
//     Archived editions land in GCS, on local disk, or in memory depending on
//     archive.provider.
//   - HTTP API: internal/api.Server exposes health, metrics, batch control
//     (run/last/status), and directory administration under /v1. An optional
//     API key guards every route.
//   - Scheduling: internal/scheduler fires batches on a cron expression;
//     ticks that land while a batch is still running are skipped. POST
//     /v1/batch/run triggers the same orchestrator out of schedule, and the
//     -once flag runs a single batch without the server for external cron.
//
// Operational notes:
//   - Concurrency model: publications are processed strictly one at a time;
//     the only background work is the HTTP server and the cron trigger, which
//     funnel into the same single-flight orchestrator.
//   - Observability: zap logs carry batch and publication IDs at stage
//     transitions, Prometheus exports batch and per-stage pipeline metrics on
//     /metrics, and each batch ends with exactly one Slack/PubSub summary.
//   - Shutdown: the process reacts to SIGINT/SIGTERM by draining the HTTP
//     server and stopping the scheduler; a batch already in flight finishes
//     its current publication before the context cancellation is observed.
//
// Quick checklist:
//   - Configure env vars with the COURIER_ prefix (COURIER_DB_DSN,
//     COURIER_SOURCE_BASE_URL, COURIER_MAIL_CLIENT_ID, ...) or pass
//     -config config.yaml.
//   - Run locally: go run ./cmd/courier -config config.yaml; add -once for a
//     single batch.
//   - The server listens on server.port and shuts down cleanly on SIGTERM.
package main
