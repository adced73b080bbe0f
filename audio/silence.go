package audio

import (
	"time"
)

// SilenceCounter tracks the continuous run of silence (and of speech) in a
// frame stream. Any speech frame resets the silence run to zero; any silent
// frame resets the speech run.
type SilenceCounter struct {
	silence time.Duration
	speech  time.Duration
}

// Observe records one classified frame of duration d.
func (c *SilenceCounter) Observe(isSpeech bool, d time.Duration) {
	if isSpeech {
		c.silence = 0
		c.speech += d
		return
	}
	c.speech = 0
	c.silence += d
}

// Silence returns the current continuous silence.
func (c *SilenceCounter) Silence() time.Duration {
	return c.silence
}

// Speech returns the current continuous speech.
func (c *SilenceCounter) Speech() time.Duration {
	return c.speech
}

// Reset clears both runs.
func (c *SilenceCounter) Reset() {
	c.silence = 0
	c.speech = 0
}
