package model

// PresetTable is the read-only set of named default output specs. It is built
// once at startup and passed explicitly into the job service; it is never
// mutated afterwards.
type PresetTable map[string]OutputSpec

// DefaultPresets returns the built-in preset table. Entries can be extended
// or overridden through configuration.
func DefaultPresets() PresetTable {
	return PresetTable{
		"1080p": {
			Format:       "mp4",
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			Resolution:   "1920x1080",
			VideoBitrate: "5M",
			AudioBitrate: "192k",
			Profile:      "high",
		},
		"720p": {
			Format:       "mp4",
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			Resolution:   "1280x720",
			VideoBitrate: "2800k",
			AudioBitrate: "128k",
			Profile:      "main",
		},
		"480p": {
			Format:       "mp4",
			VideoCodec:   "libx264",
			AudioCodec:   "aac",
			Resolution:   "854x480",
			VideoBitrate: "1400k",
			AudioBitrate: "128k",
			Profile:      "main",
		},
		"webm-720p": {
			Format:       "webm",
			VideoCodec:   "libvpx-vp9",
			AudioCodec:   "libopus",
			Resolution:   "1280x720",
			VideoBitrate: "2M",
			AudioBitrate: "128k",
		},
	}
}

// DefaultOutputRequests is the output list applied when a submission carries
// none: the standard MP4 ladder.
func DefaultOutputRequests() []OutputRequest {
	return []OutputRequest{
		{Preset: "1080p"},
		{Preset: "720p"},
		{Preset: "480p"},
	}
}

// Resolve merges each request onto its named preset (preset values are
// defaults, caller-specified fields win) and drops entries whose container
// format is unsupported. The result preserves request order.
func (t PresetTable) Resolve(reqs []OutputRequest) []OutputSpec {
	var resolved []OutputSpec
	for _, req := range reqs {
		spec, ok := t[req.Preset]
		if !ok {
			spec = OutputSpec{}
		}
		if req.Format != "" {
			spec.Format = req.Format
		}
		if req.VideoCodec != "" {
			spec.VideoCodec = req.VideoCodec
		}
		if req.AudioCodec != "" {
			spec.AudioCodec = req.AudioCodec
		}
		if req.Resolution != "" {
			spec.Resolution = req.Resolution
		}
		if req.VideoBitrate != "" {
			spec.VideoBitrate = req.VideoBitrate
		}
		if req.AudioBitrate != "" {
			spec.AudioBitrate = req.AudioBitrate
		}
		if req.FrameRate != 0 {
			spec.FrameRate = req.FrameRate
		}
		if req.Profile != "" {
			spec.Profile = req.Profile
		}
		if req.Quality != 0 {
			spec.Quality = req.Quality
		}
		if !SupportedFormats[spec.Format] {
			continue
		}
		applyCodecDefaults(&spec)
		resolved = append(resolved, spec)
	}
	return resolved
}

func applyCodecDefaults(spec *OutputSpec) {
	if spec.VideoCodec == "" {
		switch spec.Format {
		case "webm":
			spec.VideoCodec = "libvpx-vp9"
		default:
			spec.VideoCodec = "libx264"
		}
	}
	if spec.AudioCodec == "" {
		switch spec.Format {
		case "webm":
			spec.AudioCodec = "libopus"
		default:
			spec.AudioCodec = "aac"
		}
	}
}
