package store

import (
	"errors"
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }

func TestEventRepository_Sessions(t *testing.T) {
	s := newTestStore(t)
	repo := s.Events()

	sess, err := repo.StartSession()
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("session should get an ID")
	}

	got, err := repo.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.EndedAt != nil {
		t.Error("new session should not be ended")
	}

	if err := repo.EndSession(sess.ID); err != nil {
		t.Fatalf("failed to end session: %v", err)
	}
	got, _ = repo.GetSession(sess.ID)
	if got.EndedAt == nil {
		t.Error("session should be ended")
	}

	if err := repo.EndSession(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ending twice should return ErrNotFound, got %v", err)
	}
	if _, err := repo.GetSession("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEventRepository_CreateAndList(t *testing.T) {
	s := newTestStore(t)
	repo := s.Events()

	sess, err := repo.StartSession()
	if err != nil {
		t.Fatalf("failed to start session: %v", err)
	}

	base := time.Now().Add(-time.Minute)
	events := []*Event{
		{SessionID: sess.ID, Kind: "acquired", FromState: "uninitialized", ToState: "tracking", X: floatPtr(320), Y: floatPtr(240), CreatedAt: base},
		{SessionID: sess.ID, Kind: "lost", FromState: "tracking", ToState: "loss_countdown", X: floatPtr(620), Y: floatPtr(240), Remaining: 5, CreatedAt: base.Add(time.Second)},
		{SessionID: sess.ID, Kind: "tick", FromState: "loss_countdown", ToState: "loss_countdown", Remaining: 4, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := repo.Create(e); err != nil {
			t.Fatalf("failed to create event: %v", err)
		}
		if e.ID == "" {
			t.Error("event should get an ID")
		}
	}

	recent, err := repo.List(2)
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 events, got %d", len(recent))
	}
	if recent[0].Kind != "tick" || recent[1].Kind != "lost" {
		t.Errorf("expected newest first, got %s, %s", recent[0].Kind, recent[1].Kind)
	}
	if recent[0].X != nil {
		t.Error("tick should have no position")
	}
	if recent[1].X == nil || *recent[1].X != 620 || recent[1].Remaining != 5 {
		t.Errorf("unexpected lost event %+v", recent[1])
	}

	bySession, err := repo.ListBySession(sess.ID)
	if err != nil {
		t.Fatalf("failed to list by session: %v", err)
	}
	if len(bySession) != 3 || bySession[0].Kind != "acquired" {
		t.Errorf("expected 3 events oldest first, got %d", len(bySession))
	}

	counts, err := repo.CountByKind()
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if counts["lost"] != 1 || counts["tick"] != 1 || counts["acquired"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}
}

func TestEventRepository_RejectsUnknownKind(t *testing.T) {
	s := newTestStore(t)
	repo := s.Events()
	sess, _ := repo.StartSession()

	err := repo.Create(&Event{SessionID: sess.ID, Kind: "teleported", FromState: "a", ToState: "b"})
	if err == nil {
		t.Error("expected CHECK constraint violation")
	}
}

func TestEventRepository_RequiresSession(t *testing.T) {
	s := newTestStore(t)

	err := s.Events().Create(&Event{SessionID: "missing", Kind: "click", FromState: "tracking", ToState: "tracking"})
	if err == nil {
		t.Error("expected foreign key violation")
	}
}

func TestEventRepository_PruneBefore(t *testing.T) {
	s := newTestStore(t)
	repo := s.Events()
	sess, _ := repo.StartSession()

	old := &Event{SessionID: sess.ID, Kind: "click", FromState: "tracking", ToState: "tracking", CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &Event{SessionID: sess.ID, Kind: "click", FromState: "tracking", ToState: "tracking"}
	for _, e := range []*Event{old, fresh} {
		if err := repo.Create(e); err != nil {
			t.Fatalf("failed to create: %v", err)
		}
	}

	n, err := repo.PruneBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 pruned event, got %d", n)
	}

	remaining, _ := repo.List(0)
	if len(remaining) != 1 || remaining[0].ID != fresh.ID {
		t.Errorf("expected only the fresh event, got %d", len(remaining))
	}
}
