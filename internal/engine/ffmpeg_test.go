package engine

import (
	"strings"
	"testing"

	"github.com/clipstack/transcoder/internal/model"
)

func argString(args []string) string {
	return " " + strings.Join(args, " ") + " "
}

func TestBuildArgsFullSpec(t *testing.T) {
	spec := model.OutputSpec{
		Format:       "mp4",
		VideoCodec:   "libx264",
		AudioCodec:   "aac",
		Resolution:   "1280x720",
		VideoBitrate: "2800k",
		AudioBitrate: "128k",
		FrameRate:    30,
		Profile:      "main",
		Quality:      21,
	}

	got := argString(buildArgs("/tmp/in.mkv", "/tmp/out.mp4", spec))

	for _, want := range []string{
		" -i /tmp/in.mkv ",
		" -progress pipe:1 ",
		" -c:v libx264 ",
		" -vf scale=1280:720 ",
		" -b:v 2800k ",
		" -r 30 ",
		" -profile:v main ",
		" -crf 21 ",
		" -c:a aac ",
		" -b:a 128k ",
		" -movflags +faststart ",
		" -f mp4 /tmp/out.mp4 ",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("args missing %q:\n%s", want, got)
		}
	}
}

func TestBuildArgsOptionalFieldsOmitted(t *testing.T) {
	spec := model.OutputSpec{
		Format:     "webm",
		VideoCodec: "libvpx-vp9",
		AudioCodec: "libopus",
	}

	got := argString(buildArgs("in.mp4", "out.webm", spec))

	for _, absent := range []string{" -vf ", " -b:v ", " -r ", " -profile:v ", " -crf ", " -b:a ", " -movflags "} {
		if strings.Contains(got, absent) {
			t.Errorf("args should not contain %q:\n%s", absent, got)
		}
	}
	if !strings.Contains(got, " -f webm out.webm ") {
		t.Errorf("expected webm muxer, got:\n%s", got)
	}
}

func TestMuxerFor(t *testing.T) {
	if got := muxerFor("mkv"); got != "matroska" {
		t.Errorf("muxerFor(mkv) = %s", got)
	}
	if got := muxerFor("mp4"); got != "mp4" {
		t.Errorf("muxerFor(mp4) = %s", got)
	}
}
