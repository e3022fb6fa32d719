package cdp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/json/version" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Browser":"Chrome/120","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://127.0.0.1:9222/devtools/browser/abc"}`))
	}))
	defer srv.Close()

	got, err := resolveEndpoint(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if got != "ws://127.0.0.1:9222/devtools/browser/abc" {
		t.Errorf("ws url = %q", got)
	}
}

func TestResolveEndpointPassesWebSocketThrough(t *testing.T) {
	for _, in := range []string{"ws://host:1/devtools/browser/x", "wss://host/devtools/browser/y"} {
		got, err := resolveEndpoint(context.Background(), in)
		if err != nil || got != in {
			t.Errorf("resolveEndpoint(%q) = %q, %v", in, got, err)
		}
	}
}

func TestResolveEndpointUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if _, err := resolveEndpoint(context.Background(), url); err == nil {
		t.Error("closed endpoint should fail")
	}
}
