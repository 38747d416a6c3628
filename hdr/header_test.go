package hdr

import (
	"strings"
	"testing"
)

func TestCanonicalHeaderKey(t *testing.T) {
	cases := map[string]string{
		"content-length": "Content-Length",
		"HOST":           "Host",
		"x-my-header":    "X-My-Header",
	}
	for in, want := range cases {
		if got := CanonicalHeaderKey(in); got != want {
			t.Fatalf("CanonicalHeaderKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHeaderSetReplacesAllValues(t *testing.T) {
	h := make(Header)
	h.Add("X-Foo", "1")
	h.Add("X-Foo", "2")
	h.Set("X-Foo", "3")
	if got := h["X-Foo"]; len(got) != 1 || got[0] != "3" {
		t.Fatalf("got %v, want [3]", got)
	}
}

func TestHeaderGetIsCaseInsensitive(t *testing.T) {
	h := make(Header)
	h.Set("content-type", "text/plain")
	if got := h.Get("Content-Type"); got != "text/plain" {
		t.Fatalf("got %q", got)
	}
}

func TestHeaderAddPreservesOrder(t *testing.T) {
	h := make(Header)
	h.Add("X-Foo", "a")
	h.Add("X-Foo", "b")
	if got := h["X-Foo"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v, want [a b] in insertion order", got)
	}
}

func TestHeaderWriteWireFormat(t *testing.T) {
	h := make(Header)
	h.Set("Host", "example.com")
	var b strings.Builder
	if err := h.Write(&b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := b.String(); got != "Host: example.com\r\n" {
		t.Fatalf("got %q", got)
	}
}
