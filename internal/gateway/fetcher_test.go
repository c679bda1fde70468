package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/donnelly-adventures/adventures/internal/offline"
	"github.com/donnelly-adventures/adventures/internal/server"
)

func TestOriginFetcherReturnsNonOKAsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "" && r.Header.Get("Accept-Encoding") != "gzip" {
			t.Errorf("client accept-encoding should not be forwarded: %s", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Connection", "close")
		w.Header().Set("X-Origin", "1")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	req, err := offline.NewRequest(http.MethodGet, srv.URL+"/api/photos")
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Accept-Encoding", "br")

	resp, err := NewOriginFetcher(server.NewOriginClient(nil), 0).Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("4xx/5xx 不应视为网络错误: %v", err)
	}
	if resp.Status != http.StatusBadGateway || string(resp.Body) != "bad gateway" {
		t.Fatalf("unexpected response %d %q", resp.Status, resp.Body)
	}
	if resp.Header.Get("X-Origin") != "1" {
		t.Fatalf("origin header missing")
	}
	if resp.Header.Get("Connection") != "" {
		t.Fatalf("hop-by-hop header should be dropped")
	}
}

func TestOriginFetcherRejectsOversizedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	req, _ := offline.NewRequest(http.MethodGet, srv.URL+"/big.bin")
	_, err := NewOriginFetcher(nil, 16).Fetch(context.Background(), req)
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("expected ErrResponseTooLarge, got %v", err)
	}
	if !errors.Is(err, offline.ErrUpstreamRejected) || errors.Is(err, offline.ErrNetwork) {
		t.Fatalf("oversized body must be an upstream rejection, not a network failure: %v", err)
	}
}

func TestOriginFetcherConnectionFailureIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	req, _ := offline.NewRequest(http.MethodGet, url+"/")
	if _, err := NewOriginFetcher(nil, 0).Fetch(context.Background(), req); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestAcceptsHTML(t *testing.T) {
	cases := map[string]bool{
		"text/html,application/xhtml+xml": true,
		"application/json":                false,
		"TEXT/HTML;q=0.8":                 true,
		"":                                false,
	}
	for accept, want := range cases {
		if got := acceptsHTML(accept); got != want {
			t.Fatalf("acceptsHTML(%q) = %v, want %v", accept, got, want)
		}
	}
}
