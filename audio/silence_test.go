package audio

import (
	"testing"
	"time"
)

func TestSilenceCounter(t *testing.T) {
	var c SilenceCounter
	frame := 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		c.Observe(false, frame)
	}
	if c.Silence() != 100*time.Millisecond {
		t.Errorf("Silence() = %v, want 100ms", c.Silence())
	}
	if c.Speech() != 0 {
		t.Errorf("Speech() = %v, want 0", c.Speech())
	}

	c.Observe(true, frame)
	if c.Silence() != 0 {
		t.Errorf("Silence() after speech = %v, want 0", c.Silence())
	}
	c.Observe(true, frame)
	if c.Speech() != 40*time.Millisecond {
		t.Errorf("Speech() = %v, want 40ms", c.Speech())
	}

	c.Observe(false, frame)
	if c.Speech() != 0 || c.Silence() != frame {
		t.Errorf("after silence: speech=%v silence=%v", c.Speech(), c.Silence())
	}

	c.Reset()
	if c.Speech() != 0 || c.Silence() != 0 {
		t.Error("Reset() should clear both runs")
	}
}
