package ttsutils_test

import (
	"testing"

	"github.com/book-expert/voiceclone-service/internal/ttsutils"
)

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		expected string
	}{
		{"narrator.wav", "audio/wav"},
		{"narrator.WAV", "audio/wav"},
		{"song.mp3", "audio/mpeg"},
		{"transcript.txt", "text/plain"},
		{"timings.json", "application/json"},
		{"mystery.bin", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}

	for _, testCase := range tests {
		result := ttsutils.ContentTypeFor(testCase.filename)
		if result != testCase.expected {
			t.Errorf(
				"ContentTypeFor(%q) = %q, expected %q",
				testCase.filename,
				result,
				testCase.expected,
			)
		}
	}
}

func TestIsValidAudioFile(t *testing.T) {
	t.Parallel()

	valid := []string{"a.wav", "b.mp3", "c.flac", "d.ogg", "e.m4a", "f.aac", "G.WAV"}
	for _, filename := range valid {
		if !ttsutils.IsValidAudioFile(filename) {
			t.Errorf("Expected %q to be a valid audio file", filename)
		}
	}

	invalid := []string{"a.txt", "b.json", "noext", "a.wav.exe"}
	for _, filename := range invalid {
		if ttsutils.IsValidAudioFile(filename) {
			t.Errorf("Expected %q to be rejected", filename)
		}
	}
}

func TestStemOf(t *testing.T) {
	t.Parallel()

	if stem := ttsutils.StemOf("narrator.wav"); stem != "narrator" {
		t.Errorf("StemOf(narrator.wav) = %q, expected narrator", stem)
	}

	if stem := ttsutils.StemOf("noext"); stem != "noext" {
		t.Errorf("StemOf(noext) = %q, expected noext", stem)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	result := ttsutils.SanitizeFilename(`bad/name:with*chars?.wav`)
	expected := "bad_name_with_chars_.wav"

	if result != expected {
		t.Errorf("SanitizeFilename = %q, expected %q", result, expected)
	}
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		seconds  float64
		expected string
	}{
		{45.2, "45.2s"},
		{330.5, "5m 30.5s"},
		{4500, "1h 15m"},
	}

	for _, testCase := range tests {
		result := ttsutils.FormatDuration(testCase.seconds)
		if result != testCase.expected {
			t.Errorf(
				"FormatDuration(%v) = %q, expected %q",
				testCase.seconds,
				result,
				testCase.expected,
			)
		}
	}
}

func TestFormatFileSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes    int64
		expected string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}

	for _, testCase := range tests {
		result := ttsutils.FormatFileSize(testCase.bytes)
		if result != testCase.expected {
			t.Errorf(
				"FormatFileSize(%d) = %q, expected %q",
				testCase.bytes,
				result,
				testCase.expected,
			)
		}
	}
}
