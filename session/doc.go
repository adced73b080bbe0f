// Package session runs phone calls end to end.
//
// A Runner owns nothing per call until a media transport connects. For each
// call it completes the handshake, builds the audio framer, recognizer
// adapter, synthesis pipeline, outbound pacer and dialogue orchestrator, and
// runs four tasks under one errgroup:
//
//   - receiver: inbound frames to the framer, activity monitor and recognizer
//   - listener: final recognition results to the orchestrator
//   - orchestrator: the turn-taking state machine, sole owner of the session
//   - speaker: agent text through synthesis into the pacer
//
// The tasks share no state except through channels. When the orchestrator
// reaches Ended it closes the transport and the other tasks unwind. The
// finished session is exported to the record store.
//
// Pools bound concurrent use of the external collaborators across calls.
package session
