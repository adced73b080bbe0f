// Package reasoning decides what the agent learned and what it says next.
//
// A Reasoner has two operations: Extract pulls newly stated field values out
// of the caller's latest utterance, and Respond produces the agent's next
// short line. OpenAI and Anthropic back them with chat models; Rules asks
// canned questions and needs no network.
//
// Model output is treated as untrusted. ParseExtraction repairs malformed
// JSON, validates the envelope against a schema and keeps only values for
// known fields. SoftReasoner wraps any backend so a call can never fail or
// hang a conversation:
//
//	soft := reasoning.NewSoftReasoner(backend, reasoning.SoftConfig{Timeout: 5 * time.Second})
//	text, outcome := soft.Respond(ctx, req)
//	if !outcome.OK() {
//	    // fall back to reasoning.NextQuestion
//	}
package reasoning
