package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

func newTestCache(t *testing.T) (*SessionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewSessionCache(rdb, time.Hour), mr
}

func TestSnapshotRoundTripAndMiss(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	got, err := c.Snapshot(ctx, "s1")
	if err != nil || got != nil {
		t.Fatalf("miss = %v, %v; want nil, nil", got, err)
	}

	snap := model.ProgressSnapshot{
		ProgressPayload: model.ProgressPayload{
			SessionID:       "s1",
			QuestionAnswers: []model.QuestionAnswer{{QuestionID: "q1", ChosenOption: "B"}},
			RemainingTime:   "00:10:00",
		},
		TabSwitchCount: 2,
	}
	if err := c.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if ttl := mr.TTL(config.CacheKey.SessionProgressKey("s1")); ttl != time.Hour {
		t.Errorf("ttl = %v, want 1h", ttl)
	}

	got, err = c.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if got.RemainingTime != "00:10:00" || got.TabSwitchCount != 2 || got.QuestionAnswers[0].ChosenOption != "B" {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestStartTimeKeepsFirstValue(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	first := time.Unix(1_700_000_000, 0)
	if err := c.SetStartTime(ctx, "s1", first); err != nil {
		t.Fatal(err)
	}
	if err := c.SetStartTime(ctx, "s1", first.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.StartTime(ctx, "s1")
	if err != nil || !ok || !got.Equal(first) {
		t.Errorf("StartTime = %v, %v, %v; want %v", got, ok, err, first)
	}

	if _, ok, _ := c.StartTime(ctx, "missing"); ok {
		t.Error("missing start time should report false")
	}
}

func TestQuestionsHideCorrectIndex(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	correct := 2
	qs := []model.Question{{ID: "q1", Options: []string{"a", "b", "c"}, CorrectIndex: &correct}}
	if err := c.SetQuestions(ctx, "s1", qs); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Questions(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("Questions = %v, %v", ok, err)
	}
	if got[0].CorrectIndex != nil {
		t.Error("correct index must not be cached")
	}
	if len(got[0].Options) != 3 {
		t.Errorf("options = %v", got[0].Options)
	}
}

func TestEnqueueProgressAndCheat(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	if err := c.EnqueueProgress(ctx, model.ProgressJob{StudentID: 1, Status: model.ProgressStatusInProgress}); err != nil {
		t.Fatal(err)
	}
	if err := c.EnqueueCheat(ctx, model.CheatEvent{SessionID: "s1", EventType: model.CheatEventTabLeft}); err != nil {
		t.Fatal(err)
	}

	progress, _ := mr.List(config.WorkerKey.PersistProgressQueue)
	cheats, _ := mr.List(config.WorkerKey.PersistCheatsQueue)
	if len(progress) != 1 || len(cheats) != 1 {
		t.Errorf("queues = %d progress, %d cheats", len(progress), len(cheats))
	}
}

func TestMonitorPublishReachesSubscriber(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	sub := c.SubscribeMonitor(ctx, "exam-1")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msg := model.MonitorMessage{Type: "session.started", SessionID: "s1", StudentID: 7}
	if err := c.PublishMonitor(ctx, "exam-1", msg); err != nil {
		t.Fatalf("PublishMonitor: %v", err)
	}

	select {
	case got := <-sub.Channel():
		if !strings.Contains(got.Payload, `"type":"session.started"`) || !strings.Contains(got.Payload, `"student_id":7`) {
			t.Errorf("payload = %s", got.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no monitor message received")
	}
}
