package admin

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/paepcke/lti-connectors/internal/subscriptions"
)

type fakeCounter struct {
	counts map[string]int64
}

func (f *fakeCounter) Incr(ctx context.Context, url string) error {
	f.counts[url]++
	return nil
}

func (f *fakeCounter) Count(ctx context.Context, url string) (int64, error) {
	return f.counts[url], nil
}

func TestSubscriptionsEndpointListsTopics(t *testing.T) {
	dir := t.TempDir()
	registry, err := subscriptions.Load(filepath.Join(dir, "subs.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, _, err := registry.Add("roster", "https://example.com/a"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	mux := Mux(registry, &fakeCounter{counts: map[string]int64{}})

	req := httptest.NewRequest("GET", "/admin/subscriptions", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp subscriptionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(resp.Topics) != 1 || resp.Topics[0].Topic != "roster" {
		t.Errorf("got %+v", resp)
	}
}

func TestFailuresEndpointRequiresURLParam(t *testing.T) {
	dir := t.TempDir()
	registry, err := subscriptions.Load(filepath.Join(dir, "subs.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	mux := Mux(registry, &fakeCounter{counts: map[string]int64{}})

	req := httptest.NewRequest("GET", "/admin/failures", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != 400 {
		t.Errorf("got %d, want 400", rec.Code)
	}
}

func TestFailuresEndpointReportsCount(t *testing.T) {
	dir := t.TempDir()
	registry, err := subscriptions.Load(filepath.Join(dir, "subs.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	counter := &fakeCounter{counts: map[string]int64{"https://example.com/a": 3}}
	mux := Mux(registry, counter)

	req := httptest.NewRequest("GET", "/admin/failures?url=https://example.com/a", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp failureCountResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Count != 3 {
		t.Errorf("got count %d, want 3", resp.Count)
	}
}
