package pion

import (
	"testing"

	"github.com/pionweb/pion/message"
)

// TestLongestPrefixWithBoundary is spec.md §8's testable property:
// register {""→A, "/api"→B, "/api/v1"→C}; GET /api/v1/x → C;
// GET /api/other → B; GET /foo → A.
func TestLongestPrefixWithBoundary(t *testing.T) {
	rt := NewRouter()
	var calledA, calledB, calledC bool
	rt.AddResource("", func(w *Writer, req *message.Message) { calledA = true }, nil)
	rt.AddResource("/api", func(w *Writer, req *message.Message) { calledB = true }, nil)
	rt.AddResource("/api/v1", func(w *Writer, req *message.Message) { calledC = true }, nil)

	run := func(resource string) {
		calledA, calledB, calledC = false, false, false
		h, _, _, ok := rt.Match(resource)
		if !ok {
			t.Fatalf("%s: no match found", resource)
		}
		h(nil, nil)
	}

	run("/api/v1/x")
	if !calledC || calledA || calledB {
		t.Fatalf("/api/v1/x should match C (longest prefix)")
	}
	run("/api/other")
	if !calledB || calledA || calledC {
		t.Fatalf("/api/other should match B")
	}
	run("/foo")
	if !calledA || calledB || calledC {
		t.Fatalf("/foo should fall back to A (empty prefix)")
	}
}

func TestMatchBoundaryRejectsPartialSegment(t *testing.T) {
	rt := NewRouter()
	rt.AddResource("/api", func(w *Writer, req *message.Message) {}, nil)
	// "/apiextra" shares the "/api" prefix textually but is not a
	// boundary match: the byte right after the prefix must be '/' or
	// end-of-string.
	if _, _, _, ok := rt.Match("/apiextra"); ok {
		t.Fatalf("/apiextra must not match pattern /api")
	}
	if _, _, _, ok := rt.Match("/api"); !ok {
		t.Fatalf("/api must match pattern /api exactly")
	}
	if _, _, _, ok := rt.Match("/api/sub"); !ok {
		t.Fatalf("/api/sub must match pattern /api at a / boundary")
	}
}

// TestRedirectChainWithinBudget is spec.md's S5 scenario.
func TestRedirectChainWithinBudget(t *testing.T) {
	rt := NewRouter()
	rt.AddRedirect("/a", "/b")
	rt.AddRedirect("/b", "/c")
	final, looped := rt.Resolve("/a")
	if looped {
		t.Fatalf("a 2-hop chain must not be reported as looped")
	}
	if final != "/c" {
		t.Fatalf("got final=%q, want /c", final)
	}
}

// TestRedirectLoopExceedsBudget is spec.md's S6 scenario.
func TestRedirectLoopExceedsBudget(t *testing.T) {
	rt := NewRouter()
	rt.AddRedirect("/a", "/b")
	rt.AddRedirect("/b", "/a")
	_, looped := rt.Resolve("/a")
	if !looped {
		t.Fatalf("a redirect cycle must be reported as looped")
	}
}

func TestAddResourceReplacesExisting(t *testing.T) {
	rt := NewRouter()
	var which int
	rt.AddResource("/x", func(w *Writer, req *message.Message) { which = 1 }, nil)
	rt.AddResource("/x", func(w *Writer, req *message.Message) { which = 2 }, nil)
	h, _, _, ok := rt.Match("/x")
	if !ok {
		t.Fatalf("expected a match")
	}
	h(nil, nil)
	if which != 2 {
		t.Fatalf("re-registering a pattern should replace its handler")
	}
}

func TestRemoveResource(t *testing.T) {
	rt := NewRouter()
	rt.AddResource("/x", func(w *Writer, req *message.Message) {}, nil)
	rt.RemoveResource("/x")
	if _, _, _, ok := rt.Match("/x"); ok {
		t.Fatalf("expected no match after RemoveResource")
	}
}

func TestNormalizeResource(t *testing.T) {
	cases := map[string]string{
		"/":      "/",
		"/foo/":  "/foo",
		"/foo//": "/foo",
		"/foo":   "/foo",
		"/a/b/":  "/a/b",
	}
	for in, want := range cases {
		if got := normalizeResource(in); got != want {
			t.Fatalf("normalizeResource(%q) = %q, want %q", in, got, want)
		}
	}
}
