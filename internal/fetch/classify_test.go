package fetch

import (
	"strings"
	"testing"
)

// listingBody fabricates a body of n bytes carrying a listing signal.
func listingBody(n int) string {
	head := `<html><body><div class="property-description">`
	return head + strings.Repeat("x", n-len(head))
}

func TestClassifyStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   Class
	}{
		{"forbidden", 403, "", ClassBlocked},
		{"rate limited", 429, "", ClassRateLimited},
		{"not found", 404, "", ClassNotFound},
		{"server error", 500, "", ClassServerError},
		{"bad gateway", 502, "", ClassServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.status, tc.body); got != tc.want {
				t.Fatalf("Classify(%d): expected %v, got %v", tc.status, tc.want, got)
			}
		})
	}
}

func TestClassifyBody(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Class
	}{
		{"genuine listing", listingBody(6000), ClassOK},
		{"boundary length ok", listingBody(5000), ClassOK},
		{"one byte short", listingBody(4999), ClassShortContent},
		{"empty body", "", ClassShortContent},
		{"block signal wins over length", "Just a moment...", ClassBlocked},
		{"block signal in full page", strings.Repeat("x", 6000) + "checking your browser", ClassBlocked},
		{"full size without signals", strings.Repeat("x", 6000), ClassNotListing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(200, tc.body); got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestClassifySignalsCaseInsensitive(t *testing.T) {
	body := `<html>` + strings.Repeat("x", 6000) + `<div id="HP_Facilities_Box"></div></html>`
	if got := Classify(200, body); got != ClassOK {
		t.Fatalf("expected ClassOK for uppercase signal, got %v", got)
	}
}

func TestDumpLabel(t *testing.T) {
	cases := []struct {
		status int
		class  Class
		want   string
	}{
		{403, ClassBlocked, "403"},
		{200, ClassBlocked, "blocked"},
		{200, ClassShortContent, "short"},
		{200, ClassNotListing, "not_hotel"},
		{500, ClassServerError, "error"},
	}
	for _, tc := range cases {
		if got := dumpLabel(tc.status, tc.class); got != tc.want {
			t.Errorf("dumpLabel(%d, %v): expected %q, got %q", tc.status, tc.class, tc.want, got)
		}
	}
}
