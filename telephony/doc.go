// Package telephony terminates the Twilio Media Streams WebSocket.
//
// A Bridge is created by Accept from the stream endpoint's HTTP request.
// Handshake consumes the connected and start events; after that
// ReceiveFrame yields decoded 8 kHz frames in arrival order until the stop
// event or a socket error, when it returns ErrClosed. The Closed channel is
// closed exactly once. Malformed media is dropped and counted, never
// returned as an error.
//
// Outbound audio goes through a Pacer, which sends at most one 20 ms frame
// per interval so the far end's playout buffer is never overrun:
//
//	pacer := telephony.NewPacer(bridge, telephony.PacerConfig{})
//	go pacer.Run(ctx)
//	_, err := pipeline.Speak(ctx, text, pacer)
//	played, _ := pacer.Mark(ctx, "turn-1")
//
// TwiML builds the voice webhook response that points a call at the
// stream endpoint.
package telephony
