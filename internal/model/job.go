package model

import "time"

// Job represents one transcoding request and its current state.
type Job struct {
	ID          string            `json:"id"`
	MediaRef    string            `json:"mediaRef"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	Outputs     []OutputSpec      `json:"outputs"`
	Generated   []GeneratedOutput `json:"generatedOutputs"`
	WebhookURL  string            `json:"webhookUrl,omitempty"`
	Error       *string           `json:"error,omitempty"`
	Source      *SourceMetadata   `json:"sourceMetadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	StartedAt   *time.Time        `json:"startedAt,omitempty"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// OutputSpec is a fully-resolved transcoding target. Immutable once the job
// is enqueued.
type OutputSpec struct {
	Format       string `json:"format"`
	VideoCodec   string `json:"videoCodec,omitempty"`
	AudioCodec   string `json:"audioCodec,omitempty"`
	Resolution   string `json:"resolution,omitempty"` // "1280x720"
	VideoBitrate string `json:"videoBitrate,omitempty"`
	AudioBitrate string `json:"audioBitrate,omitempty"`
	FrameRate    int    `json:"frameRate,omitempty"`
	Profile      string `json:"profile,omitempty"`
	Quality      int    `json:"quality,omitempty"` // CRF value, 0 = encoder default
}

// GeneratedOutput is the persisted result of one successfully produced variant.
type GeneratedOutput struct {
	Key      string  `json:"key"`
	URL      string  `json:"url"`
	Format   string  `json:"format"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration,omitempty"`
	Width    int     `json:"width,omitempty"`
	Height   int     `json:"height,omitempty"`
	Bitrate  int64   `json:"bitrate,omitempty"`
}

// SourceMetadata holds best-effort probe results for the source file.
type SourceMetadata struct {
	Container string  `json:"container,omitempty"`
	Codec     string  `json:"codec,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Bitrate   int64   `json:"bitrate,omitempty"`
	Size      int64   `json:"size,omitempty"`
}

// OutputRequest is one caller-supplied output entry. It may name a preset;
// any explicitly supplied field overrides the preset's default.
type OutputRequest struct {
	Preset       string `json:"preset,omitempty"`
	Format       string `json:"format,omitempty"`
	VideoCodec   string `json:"videoCodec,omitempty"`
	AudioCodec   string `json:"audioCodec,omitempty"`
	Resolution   string `json:"resolution,omitempty"`
	VideoBitrate string `json:"videoBitrate,omitempty"`
	AudioBitrate string `json:"audioBitrate,omitempty"`
	FrameRate    int    `json:"frameRate,omitempty"`
	Profile      string `json:"profile,omitempty"`
	Quality      int    `json:"quality,omitempty"`
}

// SubmitRequest is the body of POST /jobs.
type SubmitRequest struct {
	MediaRef   string          `json:"mediaRef" validate:"required"`
	Outputs    []OutputRequest `json:"outputs,omitempty" validate:"omitempty,dive"`
	WebhookURL string          `json:"webhookUrl,omitempty" validate:"omitempty,url"`
}

// TranscodeTaskPayload is the queue work item referencing a persisted job.
type TranscodeTaskPayload struct {
	JobID      string       `json:"jobId"`
	MediaRef   string       `json:"mediaRef"`
	Outputs    []OutputSpec `json:"outputs"`
	WebhookURL string       `json:"webhookUrl,omitempty"`
}

// WebhookPayload is delivered to the operator-supplied callback URL when a
// job reaches a terminal state.
type WebhookPayload struct {
	JobID    string            `json:"jobId"`
	MediaRef string            `json:"mediaRef"`
	Status   JobStatus         `json:"status"`
	Outputs  []GeneratedOutput `json:"outputs,omitempty"`
	Metadata *WebhookMetadata  `json:"metadata,omitempty"`
	Error    string            `json:"error,omitempty"`
}

type WebhookMetadata struct {
	Source *SourceMetadata `json:"source,omitempty"`
}
