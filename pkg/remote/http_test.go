package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/pkg/models"
)

func TestClientPush(t *testing.T) {
	var got models.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	ack, err := c.Push(context.Background(), models.Message{ID: "m1", Thread: "t1", Kind: models.KindText})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if ack.ID != "m1" || got.ID != "m1" {
		t.Fatalf("ack/body mismatch: %+v %+v", ack, got)
	}
}

func TestClientPushServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	_, err := c.Push(context.Background(), models.Message{ID: "m1"})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable; got %v", err)
	}
}

func TestClientPushRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	_, err := c.Push(context.Background(), models.Message{ID: "m1"})
	if err == nil || errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("4xx must be permanent; got %v", err)
	}
}

func TestClientPull(t *testing.T) {
	var gotSince atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/threads/t1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		gotSince.Store(r.URL.Query().Get("since_ts"))
		_ = json.NewEncoder(w).Encode([]models.Message{
			{ID: "r1", Thread: "t1", CreatedAt: 2000, Kind: models.KindText},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	msgs, err := c.Pull(context.Background(), "t1", 1000)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != "r1" {
		t.Fatalf("unexpected pull result: %+v", msgs)
	}
	if gotSince.Load() != "1000" {
		t.Fatalf("since_ts not propagated: %v", gotSince.Load())
	}
}

func TestClientPullUnknownThreadIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, 0)
	msgs, err := c.Pull(context.Background(), "t1", 0)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty result for 404; got %+v", msgs)
	}
}

func TestClientUnreachableHost(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 200*time.Millisecond, 0)
	_, err := c.Push(context.Background(), models.Message{ID: "m1"})
	if !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable; got %v", err)
	}
}
