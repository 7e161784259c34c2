// Package normalize turns the backend's heterogeneous chat-response shapes
// into one typed metadata bag. The backend expresses citations three ways: an
// explicit citations array, implicit id lists under metadata buckets, and
// inline [mission:<id>] / [kpi:<id>] markers in the response text. All three
// are collected, in that fixed order, with later steps appending to (never
// replacing) earlier ones.
//
// No deduplication is performed across the three sources: a mission id
// present both in the explicit list and as an inline marker yields two
// citation entries.
package normalize

import (
	"encoding/json"
	"log/slog"
	"regexp"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/conversation"
)

var inlineMarker = regexp.MustCompile(`\[(mission|kpi):([^\s\]]+)\]`)

// Normalize builds message metadata from a raw chat response. Malformed
// citation entries and unknown citation types are dropped with a log line,
// never surfaced to the timeline.
func Normalize(resp *api.ChatResponse) *conversation.Metadata {
	meta := &conversation.Metadata{}

	meta.Citations = append(meta.Citations, explicitCitations(resp.Citations)...)
	meta.Citations = append(meta.Citations, bucketCitations(resp.Metadata)...)
	meta.Citations = append(meta.Citations, inlineCitations(resp.Response)...)

	meta.Suggestions = append(meta.Suggestions, stringList(resp.Metadata["suggestions"])...)
	meta.Suggestions = append(meta.Suggestions, resp.FollowUpQuestions...)

	if actions, ok := resp.Metadata["actions"].([]any); ok {
		meta.Actions = actions
	}

	if len(meta.Citations) == 0 && len(meta.Suggestions) == 0 && len(meta.Actions) == 0 {
		return nil
	}
	return meta
}

// rawCitation is the wire shape of one explicit citation entry.
type rawCitation struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Title   string `json:"title"`
	URL     string `json:"url,omitempty"`
	Excerpt string `json:"excerpt,omitempty"`
}

func explicitCitations(raw json.RawMessage) []conversation.Citation {
	if len(raw) == 0 {
		return nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		slog.Debug("Citations field is not a list, ignoring", "error", err)
		return nil
	}
	var out []conversation.Citation
	for _, entry := range entries {
		var rc rawCitation
		if err := json.Unmarshal(entry, &rc); err != nil {
			slog.Debug("Dropping malformed citation entry", "error", err)
			continue
		}
		ct, err := conversation.ParseCitationType(rc.Type)
		if err != nil {
			slog.Debug("Dropping citation", "error", err, "id", rc.ID)
			continue
		}
		out = append(out, conversation.Citation{
			Type:    ct,
			ID:      rc.ID,
			Title:   rc.Title,
			URL:     rc.URL,
			Excerpt: rc.Excerpt,
		})
	}
	return out
}

func bucketCitations(metadata map[string]any) []conversation.Citation {
	if metadata == nil {
		return nil
	}
	var out []conversation.Citation
	for _, id := range stringList(metadata["missions"]) {
		out = append(out, conversation.Citation{
			Type:  conversation.CitationMission,
			ID:    id,
			Title: "Mission " + id,
		})
	}
	for _, id := range stringList(metadata["kpis"]) {
		out = append(out, conversation.Citation{
			Type:  conversation.CitationKPI,
			ID:    id,
			Title: "KPI " + id,
		})
	}
	docs, ok := metadata["documents"].([]any)
	if !ok {
		return out
	}
	for _, entry := range docs {
		doc, ok := entry.(map[string]any)
		if !ok {
			slog.Debug("Dropping non-object document entry")
			continue
		}
		c := conversation.Citation{
			Type:    conversation.CitationDocument,
			ID:      str(doc["id"]),
			Title:   str(doc["title"]),
			URL:     str(doc["url"]),
			Excerpt: str(doc["excerpt"]),
		}
		if c.Title == "" {
			c.Title = "Document " + c.ID
		}
		out = append(out, c)
	}
	return out
}

func inlineCitations(text string) []conversation.Citation {
	matches := inlineMarker.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]conversation.Citation, 0, len(matches))
	for _, m := range matches {
		kind, id := m[1], m[2]
		c := conversation.Citation{ID: id}
		if kind == "mission" {
			c.Type = conversation.CitationMission
			c.Title = "Mission " + id
		} else {
			c.Type = conversation.CitationKPI
			c.Title = "KPI " + id
		}
		out = append(out, c)
	}
	return out
}

func stringList(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, entry := range list {
		if s, ok := entry.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
