package storage

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"tripboard-api/domain"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := log.New()
	return NewCache(client, time.Minute, logger), mr
}

func sampleBoard() domain.GroupedBoard {
	board := domain.NewGroupedBoard()
	board.InProgress = append(board.InProgress,
		domain.EnrichedTask{ID: "t2", Title: "Pack bags", Status: domain.StatusInProgress, Position: -1},
		domain.EnrichedTask{ID: "t1", Title: "Book flights", Status: domain.StatusInProgress, Position: 0},
	)
	return board
}

func TestCacheStoreAndLoadBoard(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if _, ok := cache.LoadBoard(ctx, "T1"); ok {
		t.Fatal("expected miss on empty cache")
	}

	board := sampleBoard()
	cache.StoreBoard(ctx, "T1", board)

	got, ok := cache.LoadBoard(ctx, "T1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if !reflect.DeepEqual(got, board) {
		t.Fatalf("unexpected cached board: %+v", got)
	}
	if ttl := mr.TTL(boardCacheKey("T1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestPrependTaskIntoCachedSnapshot(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.StoreBoard(ctx, "T1", sampleBoard())
	mr.FastForward(30 * time.Second)

	newest := domain.EnrichedTask{ID: "t3", Title: "Rent car", Status: domain.StatusInProgress, Position: -2}
	cache.PrependTask(ctx, "T1", newest)

	got, ok := cache.LoadBoard(ctx, "T1")
	if !ok {
		t.Fatal("expected cache hit after patch")
	}
	if len(got.InProgress) != 3 || got.InProgress[0].ID != "t3" {
		t.Fatalf("expected t3 at the front, got %+v", got.InProgress)
	}
	// The patch refreshes the TTL.
	if ttl := mr.TTL(boardCacheKey("T1")); ttl <= 30*time.Second {
		t.Fatalf("expected refreshed TTL, got %v", ttl)
	}
}

func TestPrependTaskWithoutSnapshotIsNoop(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	cache.PrependTask(ctx, "T1", domain.EnrichedTask{ID: "t1", Status: domain.StatusEmpty})
	if mr.Exists(boardCacheKey("T1")) {
		t.Fatal("patching a missing snapshot must not create one")
	}
}

func TestReplaceTaskMovesBetweenBuckets(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cache.StoreBoard(ctx, "T1", sampleBoard())

	refreshed := domain.EnrichedTask{ID: "t1", Title: "Book flights", Status: domain.StatusDone, Position: 0}
	cache.ReplaceTask(ctx, "T1", refreshed)

	got, ok := cache.LoadBoard(ctx, "T1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	for _, task := range got.InProgress {
		if task.ID == "t1" {
			t.Fatal("stale copy left in old bucket")
		}
	}
	if len(got.Done) != 1 || got.Done[0].ID != "t1" {
		t.Fatalf("expected refreshed copy at the front of Done, got %+v", got.Done)
	}
}

func TestCorruptEntryIsDropped(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	if err := mr.Set(boardCacheKey("T1"), "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}
	if _, ok := cache.LoadBoard(ctx, "T1"); ok {
		t.Fatal("corrupt entry must be a miss")
	}
	if mr.Exists(boardCacheKey("T1")) {
		t.Fatal("corrupt entry must be deleted")
	}
}

func TestCacheFailuresAreSwallowed(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute, log.New())
	mr.Close()

	ctx := context.Background()
	// With the backing redis gone, every call is a miss or a no-op; none
	// may panic or surface an error to the caller.
	cache.StoreBoard(ctx, "T1", sampleBoard())
	if _, ok := cache.LoadBoard(ctx, "T1"); ok {
		t.Fatal("expected miss on dead redis")
	}
	cache.PrependTask(ctx, "T1", domain.EnrichedTask{ID: "t1"})
	cache.ReplaceTask(ctx, "T1", domain.EnrichedTask{ID: "t1"})
	cache.StoreMembers(ctx, "T1", []domain.MemberView{{Name: "Ana"}})
	if _, ok := cache.LoadMembers(ctx, "T1"); ok {
		t.Fatal("expected members miss on dead redis")
	}
}

func TestNilClientCacheIsInert(t *testing.T) {
	cache := NewCache(nil, time.Minute, log.New())
	ctx := context.Background()

	cache.StoreBoard(ctx, "T1", sampleBoard())
	if _, ok := cache.LoadBoard(ctx, "T1"); ok {
		t.Fatal("nil-client cache must always miss")
	}
}

func TestMembersCacheNamespaceSharedWithTimeline(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	members := []domain.MemberView{{Email: "ana@example.com", Name: "Ana", Role: domain.RoleEdit}}
	cache.StoreMembers(ctx, "T1", members)

	raw, err := mr.Get("trip_timeline:T1")
	if err != nil {
		t.Fatalf("expected members under the timeline namespace: %v", err)
	}
	var got []domain.MemberView
	if err := json.Unmarshal([]byte(raw), &got); err != nil {
		t.Fatalf("decode cached members: %v", err)
	}
	if !reflect.DeepEqual(got, members) {
		t.Fatalf("unexpected cached members: %+v", got)
	}
}
