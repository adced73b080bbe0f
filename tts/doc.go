// Package tts speaks agent text onto the phone line.
//
// A Service synthesizes text to raw PCM16. Two providers are included:
// ElevenLabs (turbo model, telephony voice settings) and OpenAI (tts-1-hd,
// "nova"). Both return 24 kHz audio, an exact 3:1 ratio to the 8 kHz line.
//
// Pipeline is what the call uses. Speak reads the provider's audio as it
// streams in, resamples each block with carried filter state, encodes it to
// mu-law and hands 160-byte frames to a FrameSink as soon as each is full:
//
//	p := tts.NewPipeline(tts.NewElevenLabs(key), tts.PipelineConfig{})
//	res, err := p.Speak(ctx, "How much is a day pass?", pacer)
//
// Text longer than 800 characters is truncated. A retryable failure before
// the first frame is retried once; failures after audio has started are
// returned with the partial SpeakResult.
package tts
