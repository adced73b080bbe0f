package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"
)

// Generation parameters shared by the model backends.
const (
	extractTemperature = 0.1
	extractMaxTokens   = 500
	respondTemperature = 0.5
	respondMaxTokens   = 40
	recentTurns        = 5
	maxResponseWords   = 12
)

func topicOrDefault(topic string) string {
	if strings.TrimSpace(topic) == "" {
		return "the business"
	}
	return topic
}

// extractionSystemPrompt lists the fields, what is already known and the
// JSON envelope the model must return.
func extractionSystemPrompt(req ExtractRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI assistant analyzing a phone call with staff at %s.\n\n", topicOrDefault(req.Topic))
	b.WriteString("Your task: Extract specific information from what the staff member says.\n\n")

	b.WriteString("INFORMATION TO EXTRACT:\n")
	for _, f := range req.Fields {
		kind := "string"
		if f.List {
			kind = "list of strings"
		}
		fmt.Fprintf(&b, "- %s (%s): %s", f.Name, kind, f.Description)
		if f.Example != "" {
			fmt.Fprintf(&b, " (e.g., %s)", f.Example)
		}
		b.WriteString("\n")
	}

	current, _ := json.MarshalIndent(collectedOrEmpty(req.Collected), "", "  ")
	fmt.Fprintf(&b, "\nCURRENT INFORMATION COLLECTED:\n%s\n", current)

	missing := missingFields(req.Fields, req.Collected)
	b.WriteString("\nSTILL MISSING:\n")
	if len(missing) == 0 {
		b.WriteString("None - we have all info!\n")
	} else {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = f.Name
		}
		b.WriteString(strings.Join(names, ", ") + "\n")
	}

	b.WriteString(`
INSTRUCTIONS:
1. Extract ONLY information explicitly stated in the transcript
2. Do NOT make assumptions or infer information
3. If something is unclear, mark it as null
4. Normalize prices to a format like "$25"
5. Return ONLY newly extracted info (don't repeat what we already have)

RESPONSE FORMAT (JSON):
{"extracted_info": {"<field>": "string, list or null"}, "confidence": "high|medium|low", "notes": "any clarifications or uncertainties"}

If nothing new was said, return {"extracted_info": {}, "confidence": "low", "notes": "No information provided yet"}`)
	return b.String()
}

func extractionUserMessage(req ExtractRequest) string {
	names := make([]string, len(req.Fields))
	for i, f := range req.Fields {
		names[i] = strings.ReplaceAll(f.Name, "_", " ")
	}
	return fmt.Sprintf("Recent conversation:\n%s\n\nLatest from the caller: %q\n\nExtract any new information about %s.",
		formatTurns(req.Recent), req.Latest, strings.Join(names, ", "))
}

func responseSystemPrompt(req RespondRequest) string {
	descriptions := make([]string, len(req.Fields))
	for i, f := range req.Fields {
		descriptions[i] = f.Description
	}
	return fmt.Sprintf(`You are a friendly AI assistant on a phone call with %s.

You need to collect: %s.

RULES:
1. Keep responses under %d words
2. Ask ONE question at a time
3. NEVER repeat questions - check what AI already asked
4. If they gave info, thank them briefly and ask about something NEW
5. Sound natural and conversational

Return ONLY the text to speak, nothing else.`, topicOrDefault(req.Topic), strings.Join(descriptions, ", "), maxResponseWords)
}

func responseUserMessage(req RespondRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CONVERSATION SO FAR:\n%s\n\n", formatTurns(req.Recent))

	b.WriteString("AI HAS ALREADY SAID:\n")
	for _, a := range req.Asked {
		fmt.Fprintf(&b, "- %q\n", a)
	}

	b.WriteString("\nINFORMATION COLLECTED:\n")
	for _, f := range req.Fields {
		v := strings.TrimSpace(req.Collected[f.Name])
		if v == "" {
			v = "(not yet)"
		}
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, v)
	}
	b.WriteString("\nGenerate ONE short response. Do NOT repeat any question from \"AI HAS ALREADY SAID\".")
	return b.String()
}

// formatTurns renders the last few turns, oldest first.
func formatTurns(turns []Turn) string {
	if len(turns) > recentTurns {
		turns = turns[len(turns)-recentTurns:]
	}
	if len(turns) == 0 {
		return "(no conversation yet)"
	}
	lines := make([]string, len(turns))
	for i, t := range turns {
		label := "Caller"
		if t.Speaker == SpeakerAgent {
			label = "Agent"
		}
		lines[i] = label + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

func collectedOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// CleanResponse trims model text for speech: surrounding quotes and
// whitespace are removed and internal whitespace is collapsed.
func CleanResponse(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
