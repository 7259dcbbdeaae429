package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"Bearer abc.def", "abc.def", false},
		{"bearer   abc.def  ", "abc.def", false},
		{"Basic dXNlcjpwYXNz", "", true},
		{"Bearer ", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: unexpected error state: %v", tc.header, err)
		}
		if got != tc.want {
			t.Fatalf("%q: got %q, want %q", tc.header, got, tc.want)
		}
	}
}

func TestSessionTokenSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/polls", nil)
	if tok, err := sessionToken(req); err != nil || tok != "" {
		t.Fatalf("expected anonymous request, got %q, %v", tok, err)
	}

	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "from-cookie"})
	if tok, _ := sessionToken(req); tok != "from-cookie" {
		t.Fatalf("expected cookie token, got %q", tok)
	}

	req.Header.Set("Authorization", "Bearer from-header")
	if tok, _ := sessionToken(req); tok != "from-header" {
		t.Fatalf("expected header to win over cookie, got %q", tok)
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/healthz", "/readyz", "/metrics", "/v1/csrf"} {
		if !isPublicPath(p) {
			t.Fatalf("expected %s to be public", p)
		}
	}
	for _, p := range []string{"/v1/polls", "/v1/polls/abc/votes", "/healthz/extra"} {
		if isPublicPath(p) {
			t.Fatalf("expected %s to be protected", p)
		}
	}
}
