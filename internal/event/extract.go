package event

import (
	"strconv"
	"strings"

	"voicedesk/internal/calls"
)

// Alias tables: each logical field is a priority-ordered list of paths into
// the payload. Every path is tried against the payload root first, then
// under the "data" envelope. Dots separate nesting levels.
var (
	callIDPaths = []string{
		"call_id",
		"callId",
		"conversation_initiation_client_data.dynamic_variables.call_id",
		"dynamic_variables.call_id",
	}

	calledNumberPaths = []string{
		"called_number",
		"calledNumber",
		"system__called_number",
		"to_number",
	}

	audioPaths = []string{
		"audio",
		"audio_base64",
		"recording",
		"recording_base64",
	}

	durationPaths = []string{
		"call_duration_secs",
		"system__call_duration_secs",
		"duration_seconds",
	}

	summaryPaths = []string{
		"summary",
		"call_summary",
		"callSummary",
		"analysis.summary",
		"analysis.call_summary",
		"conversation_summary",
	}

	transcriptPaths = []string{
		"transcript",
		"messages",
		"conversation.transcript",
		"conversation.messages",
		"analysis.transcript",
	}
)

// Parse normalizes a decoded webhook payload into a CallEvent.
// Missing fields are left zero; callers decide which absences are fatal.
func Parse(payload map[string]any) CallEvent {
	ev := CallEvent{
		CallID:       lookupString(payload, callIDPaths),
		CalledNumber: lookupString(payload, calledNumberPaths),
		AudioBase64:  lookupString(payload, audioPaths),
		Summary:      lookupString(payload, summaryPaths),
	}
	if d, ok := lookupNumber(payload, durationPaths); ok {
		secs := int(d)
		ev.DurationSeconds = &secs
	}
	if raw, ok := lookupList(payload, transcriptPaths); ok {
		ev.Transcript = normalizeTranscript(raw)
	}
	return ev
}

// lookupString resolves the first path yielding a non-empty string,
// checking the payload root and then the nested data envelope.
func lookupString(payload map[string]any, paths []string) string {
	for _, scope := range scopes(payload) {
		for _, path := range paths {
			if v, ok := walk(scope, path); ok {
				if s, ok := v.(string); ok {
					if s = strings.TrimSpace(s); s != "" {
						return s
					}
				}
			}
		}
	}
	return ""
}

func lookupNumber(payload map[string]any, paths []string) (float64, bool) {
	for _, scope := range scopes(payload) {
		for _, path := range paths {
			v, ok := walk(scope, path)
			if !ok {
				continue
			}
			switch n := v.(type) {
			case float64:
				return n, true
			case int:
				return float64(n), true
			case string:
				if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func lookupList(payload map[string]any, paths []string) ([]any, bool) {
	for _, scope := range scopes(payload) {
		for _, path := range paths {
			if v, ok := walk(scope, path); ok {
				if list, ok := v.([]any); ok && len(list) > 0 {
					return list, true
				}
			}
		}
	}
	return nil, false
}

// scopes returns the payload root and, when present, its "data" envelope.
func scopes(payload map[string]any) []map[string]any {
	out := []map[string]any{payload}
	if data, ok := payload["data"].(map[string]any); ok {
		out = append(out, data)
	}
	return out
}

func walk(m map[string]any, path string) (any, bool) {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// normalizeTranscript converts a raw provider message list into the canonical
// transcript shape. Items without text are discarded; any role other than
// "user" maps to the agent.
func normalizeTranscript(raw []any) []calls.TranscriptEntry {
	out := make([]calls.TranscriptEntry, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text := firstString(obj, "text", "message", "content", "transcript")
		if text == "" {
			continue
		}
		speaker := calls.SpeakerAgent
		if strings.EqualFold(firstString(obj, "role", "speaker", "type"), "user") {
			speaker = calls.SpeakerUser
		}
		entry := calls.TranscriptEntry{Speaker: speaker, Text: text}
		if off, ok := firstNumber(obj, "start", "start_time", "start_s", "offset"); ok {
			entry.Time = calls.FormatOffset(off)
		}
		out = append(out, entry)
	}
	return out
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstNumber(obj map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		switch n := obj[k].(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		}
	}
	return 0, false
}
