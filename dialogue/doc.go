// Package dialogue holds the per-call conversation state and the
// turn-taking orchestrator.
//
// A CallSession is owned by exactly one Orchestrator. Run moves it through
//
//	Connecting → Greeting → (ListenTurn → Thinking → SpeakingTurn)* → Ending → Ended
//
// and is the only code that mutates it. The other call tasks talk to the
// orchestrator through Inputs: final caller utterances, voice-activity
// readings coalesced by an ActivityMonitor, playback results, and the
// transport-closed and recognition-degraded signals.
//
// The agent takes the turn only after a final utterance followed by
// Config.SilenceThreshold of silence, after Config.MaxTurnDuration, or on a
// timed turn while recognition is degraded. It never starts a new utterance
// while one is still playing. Collected values are tracked against a field
// Catalogue, and the call ends once the CompletionPolicy is satisfied, the
// exchange limit is hit, or no unasked question remains.
package dialogue
