package tts

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestAudioFormat_String(t *testing.T) {
	tests := []struct {
		format AudioFormat
		want   string
	}{
		{FormatPCM24k, "pcm_24000"},
		{FormatPCM16k, "pcm_16000"},
		{AudioFormat{Name: "pcm"}, "pcm"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.format.String(); got != tt.want {
				t.Errorf("AudioFormat.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultSynthesisConfig(t *testing.T) {
	config := DefaultSynthesisConfig()

	if config.Format != FormatPCM24k {
		t.Errorf("DefaultSynthesisConfig().Format = %v, want pcm_24000", config.Format)
	}
	if config.Speed != 1.0 {
		t.Errorf("DefaultSynthesisConfig().Speed = %v, want 1.0", config.Speed)
	}
	if config.Voice != "" {
		t.Errorf("DefaultSynthesisConfig().Voice = %v, want provider default", config.Voice)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 900)
	accented := strings.Repeat("é", 10)

	tests := []struct {
		name          string
		text          string
		max           int
		wantTruncated bool
		wantRunes     int
		wantSuffix    bool
	}{
		{"short", "hello", 800, false, 5, false},
		{"exact", strings.Repeat("b", 800), 800, false, 800, false},
		{"long", long, 800, true, 800, true},
		{"runes not bytes", accented, 10, false, 10, false},
		{"multibyte cut", accented, 6, true, 6, true},
		{"no limit", long, 0, false, 900, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, truncated := Truncate(tt.text, tt.max)
			if truncated != tt.wantTruncated {
				t.Errorf("truncated = %v, want %v", truncated, tt.wantTruncated)
			}
			if n := utf8.RuneCountInString(got); n != tt.wantRunes {
				t.Errorf("rune count = %d, want %d", n, tt.wantRunes)
			}
			if strings.HasSuffix(got, "...") != tt.wantSuffix {
				t.Errorf("suffix mismatch for %q", got)
			}
			if !utf8.ValidString(got) {
				t.Errorf("result is not valid UTF-8")
			}
		})
	}
}
