package normalize

import (
	"encoding/json"
	"testing"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/conversation"
)

func TestMissionBucket(t *testing.T) {
	resp := &api.ChatResponse{
		Response: "ok",
		Metadata: map[string]any{"missions": []any{"m1"}},
	}
	meta := Normalize(resp)
	if meta == nil || len(meta.Citations) != 1 {
		t.Fatalf("got %+v, want exactly one citation", meta)
	}
	c := meta.Citations[0]
	if c.Type != conversation.CitationMission || c.ID != "m1" || c.Title != "Mission m1" {
		t.Fatalf("citation = %+v", c)
	}
}

func TestInlineMarkerDuplicatesBucket(t *testing.T) {
	// No dedup policy: an id present both in the kpis bucket and as an
	// inline marker yields two citations.
	resp := &api.ChatResponse{
		Response: "revenue is tracked in [kpi:rev1]",
		Metadata: map[string]any{"kpis": []any{"rev1"}},
	}
	meta := Normalize(resp)
	if meta == nil || len(meta.Citations) != 2 {
		t.Fatalf("got %+v, want two citations", meta)
	}
	for _, c := range meta.Citations {
		if c.Type != conversation.CitationKPI || c.ID != "rev1" {
			t.Errorf("citation = %+v", c)
		}
	}
}

func TestInlineMarkerAlone(t *testing.T) {
	meta := Normalize(&api.ChatResponse{Response: "see [mission:alpha-2] and [kpi:churn]"})
	if meta == nil || len(meta.Citations) != 2 {
		t.Fatalf("got %+v, want two citations", meta)
	}
	if meta.Citations[0].Type != conversation.CitationMission || meta.Citations[0].ID != "alpha-2" {
		t.Errorf("first citation = %+v", meta.Citations[0])
	}
	if meta.Citations[1].Type != conversation.CitationKPI || meta.Citations[1].ID != "churn" {
		t.Errorf("second citation = %+v", meta.Citations[1])
	}
}

func TestExplicitCitationsValidated(t *testing.T) {
	raw := json.RawMessage(`[
		{"type":"document","id":"d1","title":"Q3 report","url":"https://x/d1","excerpt":"…"},
		{"type":"ticket","id":"t1","title":"bad kind"},
		{"type":"url","id":"u1","title":"ext"}
	]`)
	meta := Normalize(&api.ChatResponse{Response: "ok", Citations: raw})
	if meta == nil || len(meta.Citations) != 2 {
		t.Fatalf("got %+v, want the two valid citations", meta)
	}
	if meta.Citations[0].Type != conversation.CitationDocument || meta.Citations[0].URL != "https://x/d1" {
		t.Errorf("document citation = %+v", meta.Citations[0])
	}
	if meta.Citations[1].Type != conversation.CitationURL {
		t.Errorf("url citation = %+v", meta.Citations[1])
	}
}

func TestCitationsNotAList(t *testing.T) {
	meta := Normalize(&api.ChatResponse{
		Response:  "ok",
		Citations: json.RawMessage(`"not-a-list"`),
	})
	if meta != nil {
		t.Fatalf("got %+v, want nil metadata", meta)
	}
}

func TestSourceOrderIsExplicitThenBucketsThenInline(t *testing.T) {
	resp := &api.ChatResponse{
		Response:  "see [kpi:k9]",
		Citations: json.RawMessage(`[{"type":"code","id":"c1","title":"handler.go"}]`),
		Metadata:  map[string]any{"missions": []any{"m1"}},
	}
	meta := Normalize(resp)
	if meta == nil || len(meta.Citations) != 3 {
		t.Fatalf("got %+v, want three citations", meta)
	}
	order := []conversation.CitationType{
		meta.Citations[0].Type, meta.Citations[1].Type, meta.Citations[2].Type,
	}
	want := []conversation.CitationType{
		conversation.CitationCode, conversation.CitationMission, conversation.CitationKPI,
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestDocumentBucketCarriesFields(t *testing.T) {
	resp := &api.ChatResponse{
		Response: "ok",
		Metadata: map[string]any{
			"documents": []any{
				map[string]any{"id": "d1", "title": "Handbook", "url": "https://x/d1", "excerpt": "p. 4"},
				map[string]any{"id": "d2"},
				"not-an-object",
			},
		},
	}
	meta := Normalize(resp)
	if meta == nil || len(meta.Citations) != 2 {
		t.Fatalf("got %+v, want two document citations", meta)
	}
	if meta.Citations[0].Title != "Handbook" || meta.Citations[0].Excerpt != "p. 4" {
		t.Errorf("first document = %+v", meta.Citations[0])
	}
	if meta.Citations[1].Title != "Document d2" {
		t.Errorf("second document title = %q", meta.Citations[1].Title)
	}
}

func TestSuggestionsAndActionsPassThrough(t *testing.T) {
	resp := &api.ChatResponse{
		Response:          "ok",
		FollowUpQuestions: []string{"and then?"},
		Metadata: map[string]any{
			"suggestions": []any{"try the dashboard"},
			"actions":     []any{map[string]any{"kind": "scale", "replicas": 3.0}},
		},
	}
	meta := Normalize(resp)
	if meta == nil {
		t.Fatal("got nil metadata")
	}
	if len(meta.Suggestions) != 2 || meta.Suggestions[0] != "try the dashboard" || meta.Suggestions[1] != "and then?" {
		t.Errorf("suggestions = %v", meta.Suggestions)
	}
	if len(meta.Actions) != 1 {
		t.Errorf("actions = %v", meta.Actions)
	}
}

func TestEmptyResponseYieldsNilMetadata(t *testing.T) {
	if meta := Normalize(&api.ChatResponse{Response: "plain text"}); meta != nil {
		t.Fatalf("got %+v, want nil", meta)
	}
}
