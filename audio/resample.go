package audio

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

const (
	// firZeroCrossings is the number of sinc lobes kept on each side of the
	// filter centre, per unit of rate ratio.
	firZeroCrossings = 8
	// firCutoffRatio places the low-pass cutoff just below the new Nyquist
	// frequency so the transition band does not alias.
	firCutoffRatio = 0.9
)

// Resampler converts a stream of 16-bit PCM blocks from one sample rate to
// another. State is carried between calls to Process so that consecutive
// blocks of the same stream join without discontinuities. A Resampler is
// not safe for concurrent use.
type Resampler struct {
	from, to int

	// Integer ratios.
	fir      *firFilter
	upBy     int
	identity bool

	// Other ratios.
	rational resampling.Resampler
}

// NewResampler creates a Resampler for the given rates.
func NewResampler(fromRate, toRate int) (*Resampler, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates: from=%d, to=%d", fromRate, toRate)
	}

	r := &Resampler{from: fromRate, to: toRate}
	switch {
	case fromRate == toRate:
		r.identity = true
	case fromRate%toRate == 0:
		m := fromRate / toRate
		r.fir = newFIRFilter(lowPassTaps(m), m)
	case toRate%fromRate == 0:
		l := toRate / fromRate
		r.upBy = l
		r.fir = newFIRFilter(lowPassTaps(l), 1)
	default:
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(fromRate),
			OutputRate: float64(toRate),
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		r.rational = rs
	}
	return r, nil
}

// Process resamples the next block of the stream.
func (r *Resampler) Process(in []int16) ([]int16, error) {
	if r.identity {
		out := make([]int16, len(in))
		copy(out, in)
		return out, nil
	}
	if len(in) == 0 {
		return []int16{}, nil
	}

	if r.rational != nil {
		buf := make([]float64, len(in))
		for i, s := range in {
			buf[i] = float64(s) / pcmMaxAmplitude
		}
		res, err := r.rational.Process(buf)
		if err != nil {
			return nil, fmt.Errorf("resample error: %w", err)
		}
		out := make([]int16, len(res))
		for i, v := range res {
			out[i] = clampSample(v * pcmMaxAmplitude)
		}
		return out, nil
	}

	var buf []float64
	if r.upBy > 1 {
		// Zero-stuff; the gain restores the energy spread over L samples.
		buf = make([]float64, len(in)*r.upBy)
		for i, s := range in {
			buf[i*r.upBy] = float64(s) * float64(r.upBy)
		}
	} else {
		buf = make([]float64, len(in))
		for i, s := range in {
			buf[i] = float64(s)
		}
	}

	filtered := r.fir.process(buf)
	out := make([]int16, len(filtered))
	for i, v := range filtered {
		out[i] = clampSample(v)
	}
	return out, nil
}

// Resample converts a complete PCM buffer between sample rates.
func Resample(pcm []int16, fromRate, toRate int) ([]int16, error) {
	r, err := NewResampler(fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return r.Process(pcm)
}

// ResamplePCM16 resamples little-endian PCM16 bytes.
func ResamplePCM16(input []byte, fromRate, toRate int) ([]byte, error) {
	pcm, err := BytesToPCM16(input)
	if err != nil {
		return nil, err
	}
	out, err := Resample(pcm, fromRate, toRate)
	if err != nil {
		return nil, err
	}
	return PCM16ToBytes(out), nil
}

// firFilter is a streaming FIR filter that keeps every step-th output.
type firFilter struct {
	taps    []float64
	step    int
	history []float64
	next    int
}

func newFIRFilter(taps []float64, step int) *firFilter {
	return &firFilter{
		taps:    taps,
		step:    step,
		history: make([]float64, len(taps)-1),
		next:    len(taps) - 1,
	}
}

func (f *firFilter) process(in []float64) []float64 {
	buf := make([]float64, 0, len(f.history)+len(in))
	buf = append(buf, f.history...)
	buf = append(buf, in...)

	out := make([]float64, 0, len(in)/f.step+1)
	pos := f.next
	for ; pos < len(buf); pos += f.step {
		var acc float64
		for k, h := range f.taps {
			acc += h * buf[pos-k]
		}
		out = append(out, acc)
	}

	keep := len(f.taps) - 1
	f.next = pos - (len(buf) - keep)
	copy(f.history, buf[len(buf)-keep:])
	return out
}

// lowPassTaps designs a Blackman-windowed sinc low-pass for a rate change
// by factor (decimation or interpolation), with unity DC gain.
func lowPassTaps(factor int) []float64 {
	n := 2*firZeroCrossings*factor + 1
	fc := firCutoffRatio * 0.5 / float64(factor)
	centre := float64(n-1) / 2

	taps := make([]float64, n)
	var sum float64
	for i := range taps {
		x := float64(i) - centre
		var sinc float64
		if x == 0 {
			sinc = 2 * fc
		} else {
			sinc = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
		w := 0.42 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1)) + 0.08*math.Cos(4*math.Pi*float64(i)/float64(n-1))
		taps[i] = sinc * w
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}
