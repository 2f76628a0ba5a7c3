// Package engine drives the external transcoding engine (ffmpeg/ffprobe).
package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/clipstack/transcoder/internal/model"
)

// Engine is the external transcoder invoked once per requested output.
type Engine interface {
	// Transcode encodes inputPath into outputPath according to spec,
	// reporting local completion fractions in [0,1] through onProgress.
	Transcode(ctx context.Context, inputPath, outputPath string, spec model.OutputSpec, onProgress func(float64)) error
	// Probe captures container/stream metadata for a local media file.
	Probe(ctx context.Context, path string) (*model.SourceMetadata, error)
}

// FFmpeg implements Engine on top of the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{ffmpegPath: "ffmpeg", ffprobePath: "ffprobe"}
}

// Available reports whether both binaries are on PATH.
func (f *FFmpeg) Available() bool {
	if _, err := exec.LookPath(f.ffmpegPath); err != nil {
		return false
	}
	if _, err := exec.LookPath(f.ffprobePath); err != nil {
		return false
	}
	return true
}

// Transcode runs one ffmpeg encode. Progress is parsed from the machine
// readable -progress stream (out_time_ms against the probed duration).
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string, spec model.OutputSpec, onProgress func(float64)) error {
	var totalMs int64
	if meta, err := f.Probe(ctx, inputPath); err == nil && meta.Duration > 0 {
		totalMs = int64(meta.Duration * 1000)
	}

	args := buildArgs(inputPath, outputPath, spec)
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start failed: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok || key != "out_time_ms" {
			continue
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil || totalMs <= 0 {
			continue
		}
		fraction := float64(ms) / float64(totalMs*1000)
		if fraction > 1 {
			fraction = 1
		}
		if onProgress != nil {
			onProgress(fraction)
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, lastStderrLine(&stderr))
	}

	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// buildArgs assembles the ffmpeg invocation for one resolved output spec.
func buildArgs(inputPath, outputPath string, spec model.OutputSpec) []string {
	args := []string{
		"-y",
		"-i", inputPath,
		"-nostats",
		"-progress", "pipe:1",
		"-sn",
		"-map", "0:v:0?",
		"-map", "0:a:0?",
	}

	args = append(args, "-c:v", spec.VideoCodec)
	if spec.Resolution != "" {
		if w, h, ok := strings.Cut(spec.Resolution, "x"); ok {
			args = append(args, "-vf", fmt.Sprintf("scale=%s:%s", w, h))
		}
	}
	if spec.VideoBitrate != "" {
		args = append(args, "-b:v", spec.VideoBitrate)
	}
	if spec.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(spec.FrameRate))
	}
	if spec.Profile != "" {
		args = append(args, "-profile:v", spec.Profile)
	}
	if spec.Quality > 0 {
		args = append(args, "-crf", strconv.Itoa(spec.Quality))
	}

	args = append(args, "-c:a", spec.AudioCodec)
	if spec.AudioBitrate != "" {
		args = append(args, "-b:a", spec.AudioBitrate)
	}

	switch spec.Format {
	case "mp4", "mov":
		args = append(args, "-movflags", "+faststart")
	}
	args = append(args, "-f", muxerFor(spec.Format), outputPath)

	return args
}

func muxerFor(format string) string {
	switch format {
	case "mkv":
		return "matroska"
	default:
		return format
	}
}

// ffprobe JSON layout, trimmed to the fields the pipeline records.
type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		Size       string `json:"size"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (*model.SourceMetadata, error) {
	args := []string{
		"-v", "error",
		"-show_format",
		"-show_streams",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probed probeOutput
	if err := json.Unmarshal(out, &probed); err != nil {
		return nil, fmt.Errorf("ffprobe output unreadable: %w", err)
	}

	meta := &model.SourceMetadata{
		Container: probed.Format.FormatName,
	}
	meta.Duration, _ = strconv.ParseFloat(probed.Format.Duration, 64)
	meta.Size, _ = strconv.ParseInt(probed.Format.Size, 10, 64)
	meta.Bitrate, _ = strconv.ParseInt(probed.Format.BitRate, 10, 64)

	for _, s := range probed.Streams {
		if s.CodecType == "video" {
			meta.Codec = s.CodecName
			meta.Width = s.Width
			meta.Height = s.Height
			break
		}
	}

	return meta, nil
}

func lastStderrLine(buf *bytes.Buffer) string {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
