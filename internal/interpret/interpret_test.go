package interpret

import (
	"reflect"
	"testing"

	"github.com/abelbrown/recall/internal/retrieve"
)

var candidates = []retrieve.Candidate{
	{PageID: 1, URL: "https://ethics.example/ai", Title: "AI Ethics", Snippet: "board meets", Excerpt: "AI ethics board meets March 3 2025"},
	{PageID: 2, URL: "https://www.bread.example/", Title: "Sourdough", Snippet: "flour"},
}

func pageIDs(items []Item) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.PageID
	}
	return out
}

func TestInterpretMatchesCandidateURLs(t *testing.T) {
	raw := "  See https://ethics.example/ai. Also http://bread.example and https://other.example/x!  "
	res := Interpret(raw, candidates)

	if want := "See https://ethics.example/ai. Also http://bread.example and https://other.example/x!"; res.ConversationalResponse != want {
		t.Errorf("ConversationalResponse = %q, want %q", res.ConversationalResponse, want)
	}
	if len(res.Items) != 3 {
		t.Fatalf("got %d items, want 3: %+v", len(res.Items), res.Items)
	}
	if res.Items[0].PageID != 1 || res.Items[0].Title != "AI Ethics" {
		t.Errorf("item 0 = %+v", res.Items[0])
	}
	if res.Items[1].PageID != 2 {
		t.Errorf("item 1 = %+v", res.Items[1])
	}
	if want := (Item{URL: "https://other.example/x"}); res.Items[2] != want {
		t.Errorf("item 2 = %+v, want %+v", res.Items[2], want)
	}
	if want := []string{"https://ethics.example/ai", "http://bread.example", "https://other.example/x"}; !reflect.DeepEqual(res.Links, want) {
		t.Errorf("Links = %v, want %v", res.Links, want)
	}
	if res.Fallback {
		t.Error("Fallback = true, want false")
	}
}

func TestInterpretCitations(t *testing.T) {
	res := Interpret("Bread first [page:2], then ethics [Page: 1] and again [page:2]. Unknown [page:99].", candidates)
	if want := []int64{2, 1}; !reflect.DeepEqual(pageIDs(res.Items), want) {
		t.Errorf("items = %v, want %v", pageIDs(res.Items), want)
	}
	if len(res.Links) != 0 {
		t.Errorf("Links = %v, want none", res.Links)
	}
}

func TestInterpretFallsBackToTopCandidate(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []int64
	}{
		{"no references", "I could not find specifics.", []int64{1}},
		{"unknown citation only", "As noted in [page:999], nothing else.", []int64{1}},
		{"outside link only", "Try https://other.example/x instead.", []int64{0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Interpret(tt.raw, candidates)
			if !reflect.DeepEqual(pageIDs(res.Items), tt.want) {
				t.Errorf("items = %v, want %v", pageIDs(res.Items), tt.want)
			}
			if !res.Fallback {
				t.Error("Fallback = false, want true")
			}
		})
	}
}

func TestInterpretNoCandidates(t *testing.T) {
	res := Interpret("Nothing here [page:3].", nil)
	if res.Items == nil || len(res.Items) != 0 {
		t.Errorf("Items = %#v, want empty non-nil slice", res.Items)
	}
	if res.Fallback {
		t.Error("Fallback = true, want false")
	}
}

func TestInterpretMarkdownLink(t *testing.T) {
	res := Interpret("Read [the primer](https://ethics.example/ai/) now.", candidates)
	if want := []int64{1}; !reflect.DeepEqual(pageIDs(res.Items), want) {
		t.Errorf("items = %v, want %v", pageIDs(res.Items), want)
	}
}

func TestInterpretDeterministic(t *testing.T) {
	raw := "https://other.example [page:2] https://ethics.example/ai"
	if a, b := Interpret(raw, candidates), Interpret(raw, candidates); !reflect.DeepEqual(a, b) {
		t.Errorf("Interpret not deterministic:\n%+v\n%+v", a, b)
	}
}

func TestGroundedIDs(t *testing.T) {
	tests := []struct {
		text string
		want []int64
	}{
		{"[page:2] and https://ethics.example/ai", []int64{2, 1}},
		{"no refs", []int64{}},
		{"only [page:999]", []int64{}},
	}
	for _, tt := range tests {
		if got := GroundedIDs(tt.text, candidates); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("GroundedIDs(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestScanOrder(t *testing.T) {
	refs := Scan("x [page:5] y https://a.example/p, z [page:6]")
	if want := []Ref{{PageID: 5}, {URL: "https://a.example/p"}, {PageID: 6}}; !reflect.DeepEqual(refs, want) {
		t.Errorf("Scan = %+v, want %+v", refs, want)
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"https://Example.com/Path/":  "https://example.com/Path",
		"http://www.example.com":     "https://example.com",
		"https://example.com/a#frag": "https://example.com/a",
		"https://example.com/a?b=1":  "https://example.com/a?b=1",
		"  not a url/ ":              "not a url",
	}
	for in, want := range tests {
		if got := Normalize(in); got != want {
			t.Errorf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromCandidates(t *testing.T) {
	items := FromCandidates(candidates)
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[1].URL != "https://www.bread.example/" {
		t.Errorf("items[1].URL = %q", items[1].URL)
	}
}
