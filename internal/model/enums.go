package model

// Job status
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Container formats the pipeline can produce. Requests resolving to anything
// else are dropped silently during preset resolution.
var SupportedFormats = map[string]bool{
	"mp4":  true,
	"webm": true,
	"mkv":  true,
	"mov":  true,
}

// Source file extensions accepted when the object store reports no usable
// content type.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
	".avi":  true,
	".ts":   true,
	".flv":  true,
	".wmv":  true,
	".mpg":  true,
	".mpeg": true,
}

// ContentTypeForFormat maps an output container to the MIME type used when
// uploading the produced artifact.
func ContentTypeForFormat(format string) string {
	switch format {
	case "mp4", "m4v":
		return "video/mp4"
	case "webm":
		return "video/webm"
	case "mkv":
		return "video/x-matroska"
	case "mov":
		return "video/quicktime"
	default:
		return "application/octet-stream"
	}
}
