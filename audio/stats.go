package audio

import (
	"time"
)

// Stats summarises the inbound audio of a call.
type Stats struct {
	TotalFrames    int           `json:"total_frames"`
	TotalSamples   int           `json:"total_samples"`
	SpeechFrames   int           `json:"speech_frames"`
	SilenceFrames  int           `json:"silence_frames"`
	SpeechSegments int           `json:"speech_segments"`
	MinLevel       float64       `json:"min_level"`
	MaxLevel       float64       `json:"max_level"`
	AvgLevel       float64       `json:"avg_level"`
	Duration       time.Duration `json:"duration"`
}

func (s *Stats) observeFrame(samples int, level float64, isSpeech bool, d time.Duration) {
	s.TotalFrames++
	s.TotalSamples += samples
	s.Duration += d
	if isSpeech {
		s.SpeechFrames++
	} else {
		s.SilenceFrames++
	}
	if s.TotalFrames == 1 || level < s.MinLevel {
		s.MinLevel = level
	}
	if level > s.MaxLevel {
		s.MaxLevel = level
	}
	s.AvgLevel += (level - s.AvgLevel) / float64(s.TotalFrames)
}

// SpeechRatio returns the fraction of frames classified as speech.
func (s Stats) SpeechRatio() float64 {
	if s.TotalFrames == 0 {
		return 0
	}
	return float64(s.SpeechFrames) / float64(s.TotalFrames)
}
