package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crattend/internal/model"
)

func TestFetchRoster(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/roster" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"course":"CS-101","section":"A","courseId":1,"pushedAt":"2024-01-01T08:00:00Z",
			"students":[{"reg":"r1","displayReg":"R-1","name":"Ada"}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/", time.Second)
	roster, err := c.FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("fetch roster: %v", err)
	}
	if roster.CourseID != 1 || roster.Section != "A" {
		t.Fatalf("unexpected roster header: %+v", roster)
	}
	if len(roster.Students) != 1 || roster.Students[0].DisplayReg != "R-1" {
		t.Fatalf("unexpected students: %+v", roster.Students)
	}
}

func TestFetchRosterNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, time.Second).FetchRoster(context.Background()); err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestDeliver(t *testing.T) {
	var got model.Submission
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/submissions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"receipt_id":"abc","id":"1-A-2024-01-01","status":"pending"}`))
	}))
	defer srv.Close()

	rec := model.Submission{ID: "1-A-2024-01-01", Section: "A", Date: "2024-01-01", Source: model.SourceTag}
	receipt, err := New(srv.URL, time.Second).Deliver(context.Background(), rec)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if receipt.ReceiptID != "abc" {
		t.Fatalf("expected receipt id abc, got %q", receipt.ReceiptID)
	}
	if got.Source != model.SourceTag {
		t.Fatalf("expected source %q, got %q", model.SourceTag, got.Source)
	}
}

func TestDeliverEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if _, err := New(srv.URL, time.Second).Deliver(context.Background(), model.Submission{ID: "x"}); err != nil {
		t.Fatalf("expected empty 200 to succeed: %v", err)
	}
}

func TestOfflineShortCircuits(t *testing.T) {
	c := New("http://127.0.0.1:0", time.Second)
	c.Offline = true
	if _, err := c.FetchRoster(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if _, err := c.Deliver(context.Background(), model.Submission{}); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if err := c.Health(context.Background()); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
}
