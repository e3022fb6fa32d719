package collector

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cdpcapture/internal/archive"
	"cdpcapture/pkg/model"
	"cdpcapture/pkg/traffic"
)

var pngBytes = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 13}

type fakeBodies struct {
	bodies  map[string][]byte
	calls   int
	lastVia bool
}

func (f *fakeBodies) ResponseBody(_ context.Context, via bool, id string) ([]byte, error) {
	f.calls++
	f.lastVia = via
	b, ok := f.bodies[id]
	if !ok {
		return nil, errors.New("body already consumed")
	}
	delete(f.bodies, id)
	return b, nil
}

func newStore(t *testing.T) (*archive.Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := archive.Open(archive.Options{
		Root:     root,
		Location: time.UTC,
		Now:      func() time.Time { return time.Unix(1709640000, 0) },
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, root
}

func event(id, rawURL, contentType string, status int, post *string) model.ResponseEvent {
	req := traffic.NewRequest()
	req.URL = rawURL
	req.Method = "GET"
	req.PostData = post
	res := traffic.NewResponse()
	res.StatusCode = status
	res.Headers.Set("Content-Type", contentType)
	return model.ResponseEvent{
		InitiatorURL:      "https://app/",
		ViaPausingChannel: true,
		RequestID:         id,
		SessionID:         "s1",
		TargetID:          "t1",
		Request:           *req,
		Response:          *res,
	}
}

func TestCollectPersistsWithQueryPrompt(t *testing.T) {
	store, root := newStore(t)
	c := New(Options{Store: store, MimePrefixes: []string{"image/"}, PromptQuery: []string{"prompt"}, IDQuery: []string{"id"}})
	src := &fakeBodies{bodies: map[string][]byte{"r1": pngBytes}}

	ev := event("r1", "https://cdn/img?id=42&prompt=A+cat%2C+sleeping.+Peacefully%21", "image/png; charset=binary", 200, nil)
	if err := c.Collect(context.Background(), src, ev); err != nil {
		t.Fatal(err)
	}
	if !src.lastVia {
		t.Error("body should be fetched through the pausing channel")
	}
	file := filepath.Join(root, "images", "2024", "3", "5", "42-A-cat_sleeping_Peacefully.png")
	if _, err := os.Stat(file); err != nil {
		t.Fatalf("artifact missing: %v", err)
	}
	raw, err := os.ReadFile(filepath.Join(root, "database", "2024", "3", "5", "42.json"))
	if err != nil {
		t.Fatal(err)
	}
	var meta struct {
		Capture struct {
			TargetID    string `json:"targetId"`
			ContentType string `json:"contentType"`
		} `json:"capture"`
	}
	json.Unmarshal(raw, &meta)
	if meta.Capture.TargetID != "t1" || meta.Capture.ContentType != "image/png" {
		t.Errorf("capture fields = %+v", meta.Capture)
	}
	if st := c.Stats(); st.Captured != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCollectSkipsDuplicateWithoutFetching(t *testing.T) {
	store, _ := newStore(t)
	c := New(Options{Store: store, IDQuery: []string{"id"}})
	src := &fakeBodies{bodies: map[string][]byte{"r1": pngBytes, "r2": pngBytes}}
	ctx := context.Background()

	c.Collect(ctx, src, event("r1", "https://cdn/img?id=7", "image/png", 200, nil))
	if err := c.Collect(ctx, src, event("r2", "https://cdn/img?id=7", "image/png", 200, nil)); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("body fetched %d times, want 1", src.calls)
	}
	if st := c.Stats(); st.Captured != 1 || st.Duplicates != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCollectFilters(t *testing.T) {
	store, _ := newStore(t)
	c := New(Options{Store: store, MimePrefixes: []string{"image/"}})
	src := &fakeBodies{bodies: map[string][]byte{"html": []byte("<html>"), "js": []byte("x")}}
	ctx := context.Background()

	tests := []model.ResponseEvent{
		event("js", "https://cdn/app.js", "application/javascript", 200, nil),
		event("404", "https://cdn/missing.png", "image/png", 404, nil),
		event("html", "https://cdn/fake.png", "image/png", 200, nil),
	}
	for _, ev := range tests {
		if err := c.Collect(ctx, src, ev); err != nil {
			t.Errorf("%s: %v", ev.RequestID, err)
		}
	}
	if src.calls != 1 {
		t.Errorf("only the image-typed 2xx response should be fetched, got %d", src.calls)
	}
	if st := c.Stats(); st.Skipped != 3 || st.Captured != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCollectPromptFromPostBody(t *testing.T) {
	store, root := newStore(t)
	c := New(Options{Store: store, PromptJSONPath: "input.prompt", IDJSONPath: "input.seed"})
	src := &fakeBodies{bodies: map[string][]byte{"r1": pngBytes}}
	body := `{"input":{"prompt":"red fox","seed":99}}`

	if err := c.Collect(context.Background(), src, event("r1", "https://api/gen", "image/png", 200, &body)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(root, "images", "2024", "3", "5", "99-red-fox.png")); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestCollectBodyFailure(t *testing.T) {
	store, _ := newStore(t)
	c := New(Options{Store: store})
	src := &fakeBodies{bodies: map[string][]byte{}}
	if err := c.Collect(context.Background(), src, event("gone", "https://cdn/x.png", "image/png", 200, nil)); err == nil {
		t.Error("body failure should be returned")
	}
	if st := c.Stats(); st.Failed != 1 {
		t.Errorf("stats = %+v", st)
	}
}
