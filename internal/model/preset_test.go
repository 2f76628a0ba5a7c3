package model

import (
	"reflect"
	"testing"
)

func TestResolvePresetMergePrecedence(t *testing.T) {
	table := PresetTable{
		"p1": {Format: "mp4", VideoCodec: "h264", VideoBitrate: "2M"},
	}

	resolved := table.Resolve([]OutputRequest{
		{Preset: "p1", VideoBitrate: "4M"},
	})

	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolved spec, got %d", len(resolved))
	}
	if resolved[0].VideoBitrate != "4M" {
		t.Errorf("caller override lost: bitrate = %s", resolved[0].VideoBitrate)
	}
	if resolved[0].VideoCodec != "h264" {
		t.Errorf("preset default lost: codec = %s", resolved[0].VideoCodec)
	}
}

func TestResolveDropsUnsupportedFormats(t *testing.T) {
	table := DefaultPresets()

	resolved := table.Resolve([]OutputRequest{
		{Format: "avi"},
		{Preset: "720p"},
		{Format: "ogv"},
	})

	if len(resolved) != 1 {
		t.Fatalf("expected unsupported formats dropped silently, got %d specs", len(resolved))
	}
	if resolved[0].Resolution != "1280x720" {
		t.Errorf("unexpected surviving spec: %+v", resolved[0])
	}
}

func TestResolveUnknownPresetYieldsNothing(t *testing.T) {
	table := DefaultPresets()

	resolved := table.Resolve([]OutputRequest{{Preset: "unknown-format"}})
	if len(resolved) != 0 {
		t.Errorf("expected empty resolution, got %+v", resolved)
	}
}

func TestResolvePreservesRequestOrder(t *testing.T) {
	table := DefaultPresets()

	resolved := table.Resolve([]OutputRequest{
		{Preset: "480p"},
		{Preset: "1080p"},
		{Preset: "webm-720p"},
	})

	var got []string
	for _, spec := range resolved {
		got = append(got, spec.Resolution+"/"+spec.Format)
	}
	want := []string{"854x480/mp4", "1920x1080/mp4", "1280x720/webm"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order not preserved: got %v, want %v", got, want)
	}
}

func TestResolveAppliesCodecDefaults(t *testing.T) {
	table := DefaultPresets()

	resolved := table.Resolve([]OutputRequest{
		{Format: "mp4"},
		{Format: "webm"},
	})

	if len(resolved) != 2 {
		t.Fatalf("expected 2 specs, got %d", len(resolved))
	}
	if resolved[0].VideoCodec != "libx264" || resolved[0].AudioCodec != "aac" {
		t.Errorf("mp4 codec defaults wrong: %+v", resolved[0])
	}
	if resolved[1].VideoCodec != "libvpx-vp9" || resolved[1].AudioCodec != "libopus" {
		t.Errorf("webm codec defaults wrong: %+v", resolved[1])
	}
}

func TestDefaultOutputRequestsResolve(t *testing.T) {
	table := DefaultPresets()

	resolved := table.Resolve(DefaultOutputRequests())
	if len(resolved) != 3 {
		t.Fatalf("default ladder should resolve fully, got %d specs", len(resolved))
	}
}
