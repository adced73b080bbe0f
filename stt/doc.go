// Package stt turns caller audio into utterances.
//
// Two layers live here. A Recognizer is a streaming speech-recognition
// collaborator: Start opens a Stream that accepts audio windows and emits
// interim and final Events. The Deepgram recognizer speaks the live
// transcription WebSocket protocol; BatchRecognizer adapts any request/response
// Service (OpenAI transcription) to the same streaming contract by segmenting
// on voice activity.
//
// The Adapter sits between the per-call audio path and a Recognizer. Its Send
// never blocks, only final utterances reach Utterances(), interim results
// update Preview(), and connection failures are retried with backoff. When
// retries run out the Adapter closes Degraded() and the call continues with
// timed turns instead of recognition.
//
//	adapter := stt.NewAdapter(stt.NewDeepgram(key), stt.AdapterConfig{})
//	adapter.Start(ctx)
//	adapter.Send(window)
//	for u := range adapter.Utterances() {
//	    fmt.Println("caller said:", u.Text)
//	}
package stt
