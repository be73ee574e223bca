package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func ts(min int) *time.Time {
	t := time.Date(2026, 1, 1, 0, min, 0, 0, time.UTC)
	return &t
}

func TestSortByCreatedDesc(t *testing.T) {
	docs := []Document{
		{ID: "a", CreatedAt: ts(1)},
		{ID: "b"},
		{ID: "c", CreatedAt: ts(3)},
		{ID: "d", CreatedAt: ts(2)},
		{ID: "e"},
	}
	SortByCreatedDesc(docs)
	want := []string{"c", "d", "a", "e", "b"}
	for i, id := range want {
		if docs[i].ID != id {
			t.Fatalf("position %d: got %s want %s", i, docs[i].ID, id)
		}
	}
}

func TestHubFetchErrorGoesToOnError(t *testing.T) {
	boom := errors.New("unavailable")
	var calls atomic.Int32
	h := NewHub(func(context.Context, Query) ([]Document, error) {
		calls.Add(1)
		return nil, boom
	})
	defer h.Close()

	errs := make(chan error, 1)
	snaps := make(chan []Document, 1)
	unsub := h.Subscribe(Query{Collection: "c", Owner: "o"},
		func(d []Document) { snaps <- d },
		func(err error) { errs <- err })
	defer unsub()

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-snaps:
		t.Fatal("no snapshot expected when the fetch fails")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestHubNotifyMatchesCollectionAndOwner(t *testing.T) {
	var fetches atomic.Int32
	h := NewHub(func(context.Context, Query) ([]Document, error) {
		fetches.Add(1)
		return nil, nil
	})
	defer h.Close()

	snaps := make(chan struct{}, 8)
	unsub := h.Subscribe(Query{Collection: "c", Owner: "o"}, func([]Document) { snaps <- struct{}{} }, nil)
	defer unsub()
	<-snaps

	h.Notify("other", "o")
	h.Notify("c", "someone-else")
	h.Notify("c", "")
	select {
	case <-snaps:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notified snapshot")
	}
	select {
	case <-snaps:
		t.Fatal("unrelated notifications must not trigger deliveries")
	case <-time.After(50 * time.Millisecond):
	}
	if n := fetches.Load(); n != 2 {
		t.Fatalf("expected 2 fetches, got %d", n)
	}
}

func TestHubClosed(t *testing.T) {
	h := NewHub(func(context.Context, Query) ([]Document, error) { return nil, nil })
	h.Close()

	errs := make(chan error, 1)
	unsub := h.Subscribe(Query{Collection: "c"}, nil, func(err error) { errs <- err })
	defer unsub()
	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
