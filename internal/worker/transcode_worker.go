package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clipstack/transcoder/internal/client"
	"github.com/clipstack/transcoder/internal/config"
	"github.com/clipstack/transcoder/internal/engine"
	"github.com/clipstack/transcoder/internal/model"
	"github.com/clipstack/transcoder/internal/progress"
	"github.com/clipstack/transcoder/internal/service"
	"github.com/clipstack/transcoder/internal/webhook"
	"github.com/clipstack/transcoder/internal/websocket"
	"github.com/clipstack/transcoder/internal/workspace"
)

// TranscodeWorker processes one job end-to-end: workspace, probe, the
// sequential output loop, uploads, terminal transition and webhook.
type TranscodeWorker struct {
	jobs      *service.JobService
	engine    engine.Engine
	workspace *workspace.Manager
	storage   client.StorageClient
	notifier  *webhook.Notifier
	hub       *websocket.Hub

	transcodeTimeout time.Duration
	probeTimeout     time.Duration
	progressDelta    float64
	progressInterval time.Duration
}

func NewTranscodeWorker(
	jobs *service.JobService,
	eng engine.Engine,
	ws *workspace.Manager,
	storage client.StorageClient,
	notifier *webhook.Notifier,
	hub *websocket.Hub,
	cfg *config.Config,
) *TranscodeWorker {
	return &TranscodeWorker{
		jobs:             jobs,
		engine:           eng,
		workspace:        ws,
		storage:          storage,
		notifier:         notifier,
		hub:              hub,
		transcodeTimeout: time.Duration(cfg.Worker.TranscodeTimeout) * time.Second,
		probeTimeout:     time.Duration(cfg.Worker.ProbeTimeout) * time.Second,
		progressDelta:    cfg.Progress.MinDelta,
		progressInterval: time.Duration(cfg.Progress.MinInterval) * time.Second,
	}
}

// ProcessTask handles one queued transcode job. Job-level failures are
// recorded on the job record and reported to the queue as success; only
// infrastructure errors before the job is owned (store unreachable, bad
// payload) propagate to the queue.
func (w *TranscodeWorker) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	var payload model.TranscodeTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	jobID := payload.JobID
	log.Printf("Starting transcode job %s (%d outputs)", jobID, len(payload.Outputs))

	job, err := w.jobs.Begin(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to begin job %s: %w", jobID, err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Transcode job %s panicked: %v", jobID, r)
			w.fail(ctx, job, fmt.Sprintf("internal error: %v", r))
			err = nil
		}
	}()

	ws, err := w.workspace.Acquire(ctx, job.MediaRef)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("failed to fetch source: %v", err))
		return nil
	}
	defer ws.Release()

	// Best-effort: a probe failure only omits source metadata.
	var sourceMeta *model.SourceMetadata
	probeCtx, cancelProbe := context.WithTimeout(ctx, w.probeTimeout)
	if meta, probeErr := w.engine.Probe(probeCtx, ws.SourcePath); probeErr == nil {
		sourceMeta = meta
		if saveErr := w.jobs.SetSourceMetadata(ctx, jobID, meta); saveErr != nil {
			log.Printf("Failed to save source metadata for job %s: %v", jobID, saveErr)
		}
	} else {
		log.Printf("Source probe failed for job %s: %v", jobID, probeErr)
	}
	cancelProbe()

	total := len(job.Outputs)
	throttle := progress.NewThrottle(w.progressDelta, w.progressInterval)

	for i, spec := range job.Outputs {
		if err := w.processOutput(ctx, job, i, total, spec, ws, throttle); err != nil {
			w.fail(ctx, job, err.Error())
			return nil
		}
	}

	final, err := w.jobs.Complete(ctx, jobID)
	if err != nil {
		w.fail(ctx, job, fmt.Sprintf("failed to save result: %v", err))
		return nil
	}

	if w.hub != nil {
		w.hub.BroadcastComplete(jobID, final)
	}
	w.notifier.Notify(ctx, final.WebhookURL, &model.WebhookPayload{
		JobID:    final.ID,
		MediaRef: final.MediaRef,
		Status:   model.JobStatusCompleted,
		Outputs:  final.Generated,
		Metadata: &model.WebhookMetadata{Source: sourceMeta},
	})

	log.Printf("Transcode job %s completed", jobID)
	return nil
}

// processOutput encodes, probes and uploads one variant, then appends the
// generated output to the job record.
func (w *TranscodeWorker) processOutput(ctx context.Context, job *model.Job, index, total int, spec model.OutputSpec, ws *workspace.Workspace, throttle *progress.Throttle) error {
	name := fmt.Sprintf("output-%d.%s", index, spec.Format)
	outPath := filepath.Join(ws.Dir, name)

	tctx, cancel := context.WithTimeout(ctx, w.transcodeTimeout)
	defer cancel()

	err := w.engine.Transcode(tctx, ws.SourcePath, outPath, spec, func(fraction float64) {
		pct, emit := throttle.Advance(progress.Overall(index, total, fraction))
		if !emit {
			return
		}
		if updErr := w.jobs.UpdateProgress(ctx, job.ID, int(pct)); updErr != nil {
			log.Printf("Failed to update progress for job %s: %v", job.ID, updErr)
		}
		if w.hub != nil {
			w.hub.BroadcastProgress(job.ID, int(pct), model.JobStatusProcessing)
		}
	})
	if err != nil {
		return err
	}

	out := model.GeneratedOutput{Format: spec.Format}
	if info, statErr := os.Stat(outPath); statErr == nil {
		out.Size = info.Size()
	}
	if meta, probeErr := w.engine.Probe(ctx, outPath); probeErr == nil {
		out.Duration = meta.Duration
		out.Width = meta.Width
		out.Height = meta.Height
		out.Bitrate = meta.Bitrate
	}

	f, err := os.Open(outPath)
	if err != nil {
		return fmt.Errorf("failed to open produced file: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("jobs/%s/outputs/%d/%s", job.ID, index, name)
	url, err := w.storage.Upload(ctx, key, f, model.ContentTypeForFormat(spec.Format))
	if err != nil {
		return fmt.Errorf("failed to upload output %d: %v", index, err)
	}
	out.Key = key
	out.URL = url

	if err := w.jobs.AppendOutput(ctx, job.ID, out); err != nil {
		return fmt.Errorf("failed to record output %d: %v", index, err)
	}
	return nil
}

func (w *TranscodeWorker) fail(ctx context.Context, job *model.Job, errMsg string) {
	final, err := w.jobs.Fail(ctx, job.ID, errMsg)
	if err != nil {
		log.Printf("Failed to mark job %s as failed: %v", job.ID, err)
		final = job
	}

	if w.hub != nil {
		w.hub.BroadcastError(job.ID, "TRANSCODE_FAILED", errMsg)
	}
	w.notifier.Notify(ctx, job.WebhookURL, &model.WebhookPayload{
		JobID:    final.ID,
		MediaRef: final.MediaRef,
		Status:   model.JobStatusFailed,
		Error:    errMsg,
	})

	log.Printf("Transcode job %s failed: %s", job.ID, errMsg)
}
