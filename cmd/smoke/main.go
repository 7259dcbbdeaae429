package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"pollhub.org/internal/auth"
	"pollhub.org/internal/csrf"
)

type client struct {
	base      string
	http      *http.Client
	token     string
	csrfToken string
}

func newClient(base string, sessions *auth.Sessions, userID string) *client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Fatalf("cookie jar: %v", err)
	}
	token, err := sessions.Issue(userID, 10*time.Minute)
	if err != nil {
		log.Fatalf("issue session for %s: %v", userID, err)
	}
	c := &client{base: base, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}, token: token}

	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if code := c.call(http.MethodGet, "/v1/csrf", nil, &body); code != http.StatusOK {
		log.Fatalf("csrf for %s: status %d", userID, code)
	}
	c.csrfToken = body.CSRFToken
	return c
}

func (c *client) call(method, path string, in, out any) int {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			log.Fatalf("marshal: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("request %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.csrfToken != "" {
		req.Header.Set(csrf.HeaderName, c.csrfToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func main() {
	base := os.Getenv("POLLHUB_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	sessions, err := auth.NewSessions([]byte(os.Getenv("POLLHUB_SESSION_SECRET")))
	if err != nil {
		log.Fatalf("sessions: %v (set POLLHUB_SESSION_SECRET to the server's secret)", err)
	}

	suffix := time.Now().UnixNano()
	owner := newClient(base, sessions, fmt.Sprintf("smoke-owner-%d", suffix))
	voter := newClient(base, sessions, fmt.Sprintf("smoke-voter-%d", suffix))

	var created struct {
		Poll struct {
			ID string `json:"id"`
		} `json:"poll"`
	}
	if code := owner.call(http.MethodPost, "/v1/polls", map[string]any{
		"question": "Smoke test: does it work?",
		"options":  []string{"yes", "no"},
	}, &created); code != http.StatusCreated {
		log.Fatalf("create poll: status %d", code)
	}
	pollID := created.Poll.ID

	if code := voter.call(http.MethodPost, "/v1/polls/"+pollID+"/votes", map[string]any{"option_index": 0}, nil); code != http.StatusCreated {
		log.Fatalf("vote: status %d", code)
	}
	if code := voter.call(http.MethodPost, "/v1/polls/"+pollID+"/votes", map[string]any{"option_index": 1}, nil); code != http.StatusConflict {
		log.Fatalf("duplicate vote: expected 409, got %d", code)
	}
	if code := voter.call(http.MethodDelete, "/v1/polls/"+pollID, nil, nil); code != http.StatusForbidden {
		log.Fatalf("foreign delete: expected 403, got %d", code)
	}

	var results struct {
		Results struct {
			Counts []int `json:"counts"`
			Total  int   `json:"total"`
		} `json:"results"`
	}
	if code := owner.call(http.MethodGet, "/v1/polls/"+pollID+"/results", nil, &results); code != http.StatusOK {
		log.Fatalf("results: status %d", code)
	}
	if results.Results.Total != 1 || len(results.Results.Counts) != 2 || results.Results.Counts[0] != 1 {
		log.Fatalf("unexpected results: %+v", results.Results)
	}

	if code := owner.call(http.MethodDelete, "/v1/polls/"+pollID, nil, nil); code != http.StatusOK {
		log.Fatalf("cleanup delete: status %d", code)
	}

	fmt.Printf("✅ pollhub smoke test passed: poll=%s\n", pollID)
}
