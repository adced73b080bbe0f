// Package audio provides the telephony audio primitives used by a live call:
// G.711 mu-law companding, PCM helpers, energy-based voice activity
// detection with windowed framing, level statistics, anti-aliased
// resampling and the barge-in policy applied while the agent is talking.
//
// # Framing
//
// Inbound telephony audio arrives as 20 ms frames of 8 kHz mu-law. The
// Framer classifies every frame as speech or silence against an RMS
// threshold, keeps a running silence counter and accumulates frames into
// fixed analysis windows that are forwarded to speech recognition:
//
//	framer, _ := audio.NewFramer(audio.DefaultFramerConfig())
//	for frame := range frames {
//	    ev := framer.Feed(audio.DecodeMulaw(frame))
//	    for _, w := range ev.Windows {
//	        recognizer.Send(w)
//	    }
//	}
//
// # Resampling
//
// Synthesized speech is usually produced at 24 kHz. Integer rate ratios are
// converted with a windowed-sinc FIR low-pass matched to the new Nyquist
// frequency followed by exact decimation (or zero-stuffing then the same
// filter when upsampling). Any other ratio is delegated to a polyphase
// resampler.
package audio
