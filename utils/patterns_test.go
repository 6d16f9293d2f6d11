package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	matcher, err := NewPatternMatcher(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !matcher.ShouldInclude("photo.jpg") {
		t.Fatal("expected include by default")
	}
	matcher, _ = NewPatternMatcher([]string{"*.jpg"}, nil)
	if matcher.ShouldInclude("scan.png") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !matcher.ShouldInclude("/ingest/IMG_0001.JPG") {
		t.Fatal("glob include must ignore case")
	}
	matcher, _ = NewPatternMatcher(nil, []string{"draft_*"})
	if matcher.ShouldInclude("draft_cover.png") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !matcher.ShouldInclude("cover.png") {
		t.Fatal("should include when exclude does not match")
	}
	matcher, _ = NewPatternMatcher([]string{`re:case-\d+/`}, nil)
	if !matcher.ShouldInclude("ingest/case-42/photo.png") {
		t.Fatal("should match regex include pattern")
	}
	if matcher.ShouldInclude("ingest/photo.png") {
		t.Fatal("regex include must not match unrelated path")
	}
}

func TestInvalidPatternsAreRejected(t *testing.T) {
	if _, err := NewPatternMatcher([]string{"re:("}, nil); err == nil {
		t.Fatal("expected invalid regex to be rejected")
	}
	if _, err := NewPatternMatcher(nil, []string{"[a-"}); err == nil {
		t.Fatal("expected invalid glob to be rejected")
	}
}

func TestNilMatcherIncludesEverything(t *testing.T) {
	var m *PatternMatcher
	if !m.ShouldInclude("anything") {
		t.Fatal("nil matcher must include")
	}
}
