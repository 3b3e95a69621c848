package runner

import (
	"testing"
)

func TestBuildFFmpegArgs(t *testing.T) {
	args := BuildFFmpegArgs("/in/video.mkv", "/out/video-transcoded.mp4")

	expected := map[string]string{
		"-i":        "/in/video.mkv",
		"-c:v":      VideoCodec,
		"-preset":   VideoPreset,
		"-crf":      VideoCRF,
		"-c:a":      AudioCodec,
		"-b:a":      AudioBitrate,
		"-movflags": FastStartFlag,
		"-progress": ProgressPipeTarget,
	}
	for flag, value := range expected {
		found := false
		for i := 0; i < len(args)-1; i++ {
			if args[i] == flag && args[i+1] == value {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("args missing %s %s", flag, value)
		}
	}

	if args[len(args)-1] != "/out/video-transcoded.mp4" {
		t.Errorf("last arg = %s, expected output path", args[len(args)-1])
	}
	if args[0] != "-y" {
		t.Error("args should start with -y to overwrite existing output")
	}
}

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		line   string
		micros int64
		ok     bool
	}{
		{"out_time_us=123456", 123456, true},
		{"out_time_us=0", 0, true},
		{"out_time_us=garbage", 0, false},
		{"frame=42", 0, false},
		{"", 0, false},
	}

	for _, test := range tests {
		micros, ok := parseProgressLine(test.line)
		if ok != test.ok || micros != test.micros {
			t.Errorf("parseProgressLine(%q) = (%d, %v), expected (%d, %v)",
				test.line, micros, ok, test.micros, test.ok)
		}
	}
}

func TestProgressFraction(t *testing.T) {
	tests := []struct {
		micros   int64
		total    float64
		fraction float64
		ok       bool
	}{
		{500000, 1.0, 0.5, true},
		{1000000, 1.0, 1.0, true},
		{2000000, 1.0, 1.0, true}, // clamped, never over 100%
		{500000, 0, 0, false},     // unknown duration
	}

	for _, test := range tests {
		fraction, ok := progressFraction(test.micros, test.total)
		if ok != test.ok || fraction != test.fraction {
			t.Errorf("progressFraction(%d, %f) = (%f, %v), expected (%f, %v)",
				test.micros, test.total, fraction, ok, test.fraction, test.ok)
		}
	}
}

func TestTranscodeOutputPath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/downloads/video.mkv", "/downloads/video-transcoded.mp4"},
		{"/downloads/song.mp4", "/downloads/song-transcoded.mp4"},
		{"clip", "clip-transcoded.mp4"},
	}

	for _, test := range tests {
		if got := transcodeOutputPath(test.input); got != test.expected {
			t.Errorf("transcodeOutputPath(%s) = %s, expected %s", test.input, got, test.expected)
		}
	}
}
