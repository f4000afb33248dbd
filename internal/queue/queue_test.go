package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/fleetsync/internal/command"
	"github.com/zulandar/fleetsync/internal/db"
	"github.com/zulandar/fleetsync/internal/models"
	"github.com/zulandar/fleetsync/internal/syncerr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, clock *fakeClock) *Queue {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })
	return New(gdb, Opts{
		Now:  clock.Now,
		Rand: func() float64 { return 0 },
	})
}

func assignment(id string) command.Command {
	return command.New(command.AcceptAssignment{AssignmentID: id})
}

func TestEnqueue_ReturnsRecordID(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	id, err := q.Enqueue(ctx, command.New(command.PushTokenUpdate{Token: "abc"}))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == 0 {
		t.Fatal("record id is zero")
	}

	recs, err := q.PendingRecords(ctx)
	if err != nil {
		t.Fatalf("PendingRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("pending = %d, want 1", len(recs))
	}
	r := recs[0]
	if r.RetryCount != 0 || r.IsExecuting || r.MaxRetries != 3 {
		t.Errorf("record = %+v, want fresh state", r)
	}
	if r.Priority != int(command.PriorityMedium) {
		t.Errorf("Priority = %d, want medium", r.Priority)
	}
}

func TestEnqueue_IdempotentConcurrent(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()
	cmd := command.New(command.EndDuty{DutyID: "42", OdometerKm: 1300})

	const n = 16
	ids := make([]uint, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = q.Enqueue(ctx, cmd)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Enqueue[%d]: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Errorf("Enqueue[%d] = %d, want %d", i, ids[i], ids[0])
		}
	}
	count, _ := q.PendingCount(ctx)
	if count != 1 {
		t.Errorf("PendingCount = %d, want 1", count)
	}
}

func TestEnqueue_InvalidCommand(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	_, err := q.Enqueue(context.Background(), command.New(command.EndDuty{}))
	if !syncerr.IsValidation(err) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestDequeueDue_MarksExecuting(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		if _, err := q.Enqueue(ctx, assignment(id)); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := q.DequeueDue(ctx, 10, command.PriorityLow)
	if err != nil {
		t.Fatalf("DequeueDue: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("dequeued %d, want 3", len(recs))
	}
	for _, r := range recs {
		if !r.IsExecuting || r.ExecutingSince == nil {
			t.Errorf("record %d not marked executing", r.ID)
		}
	}

	again, err := q.DequeueDue(ctx, 10, command.PriorityLow)
	if err != nil {
		t.Fatalf("DequeueDue: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second dequeue returned %d executing records", len(again))
	}
}

func TestDequeueDue_AtMostOneConcurrentExecution(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	const records = 8
	for i := 0; i < records; i++ {
		if _, err := q.Enqueue(ctx, assignment(string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}

	var (
		mu   sync.Mutex
		seen = map[uint]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				recs, err := q.DequeueDue(ctx, 2, command.PriorityLow)
				if err != nil {
					t.Errorf("DequeueDue: %v", err)
					return
				}
				if len(recs) == 0 {
					return
				}
				mu.Lock()
				for _, r := range recs {
					seen[r.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != records {
		t.Errorf("dequeued %d distinct records, want %d", len(seen), records)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %d dequeued %d times", id, n)
		}
	}
}

func TestDequeueDue_LocationChainsPerDuty(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	pts := []command.LocationPoint{{Latitude: 52, Longitude: 4}}
	a, _ := q.Enqueue(ctx, command.New(command.LocationBatch{DutyID: "tmp-7", Points: pts}))
	b, _ := q.Enqueue(ctx, command.New(command.LocationBatch{DutyID: "d-9", Points: pts}))
	q.Enqueue(ctx, command.New(command.LocationBatch{DutyID: "d-9", Points: pts}))

	recs, err := q.DequeueDue(ctx, 10, command.PriorityLow)
	if err != nil {
		t.Fatalf("DequeueDue: %v", err)
	}
	if len(recs) != 2 || recs[0].ID != a || recs[1].ID != b {
		t.Fatalf("dequeued %+v, want the head of each duty's chain", recs)
	}
}

func TestDequeueDue_ChainHeadOnly(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	start, tempID := command.NewStartDuty(command.StartDuty{VehicleID: "veh-1"})
	startID, _ := q.Enqueue(ctx, start)
	endID, _ := q.Enqueue(ctx, command.New(command.EndDuty{DutyID: tempID}))

	recs, err := q.DequeueDue(ctx, 10, command.PriorityLow)
	if err != nil {
		t.Fatalf("DequeueDue: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != startID {
		t.Fatalf("dequeued %+v, want only StartDuty %d", recs, startID)
	}

	if _, err := q.ReportOutcome(ctx, startID, Success("42", "")); err != nil {
		t.Fatalf("ReportOutcome: %v", err)
	}

	recs, err = q.DequeueDue(ctx, 10, command.PriorityLow)
	if err != nil {
		t.Fatalf("DequeueDue: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != endID {
		t.Fatalf("dequeued %+v, want EndDuty %d", recs, endID)
	}
}

func TestDequeueDue_ChainBlockedWhileHeadBacksOff(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock)
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, command.New(command.PushTokenUpdate{Token: "t1"}))
	q.Enqueue(ctx, command.New(command.PushTokenUpdate{Token: "t2"}))

	q.DequeueDue(ctx, 10, command.PriorityLow)
	if _, err := q.ReportOutcome(ctx, first, Failure("timeout", true)); err != nil {
		t.Fatal(err)
	}

	recs, _ := q.DequeueDue(ctx, 10, command.PriorityLow)
	if len(recs) != 0 {
		t.Fatalf("dequeued %d records while chain head backs off, want 0", len(recs))
	}

	clock.Advance(31 * time.Second)
	recs, _ = q.DequeueDue(ctx, 10, command.PriorityLow)
	if len(recs) != 1 || recs[0].ID != first {
		t.Fatalf("dequeued %+v, want retried head %d", recs, first)
	}
}

func TestDequeueDue_PriorityFloorAndOrder(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()

	loc := command.New(command.LocationBatch{Points: []command.LocationPoint{{Latitude: 1, Longitude: 1}}})
	q.Enqueue(ctx, loc)
	q.Enqueue(ctx, command.New(command.PushTokenUpdate{Token: "t"}))
	endID, _ := q.Enqueue(ctx, command.New(command.EndDuty{DutyID: "42"}))

	recs, err := q.DequeueDue(ctx, 10, command.PriorityCritical)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != endID {
		t.Fatalf("critical floor dequeued %+v, want only EndDuty", recs)
	}

	recs, _ = q.DequeueDue(ctx, 10, command.PriorityLow)
	if len(recs) != 2 {
		t.Fatalf("dequeued %d, want 2", len(recs))
	}
	if recs[0].Kind != string(command.KindPushTokenUpdate) || recs[1].Kind != string(command.KindLocationBatch) {
		t.Errorf("order = %s, %s; want push token before location", recs[0].Kind, recs[1].Kind)
	}
}

func TestDequeueDue_ZeroLimit(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	q.Enqueue(context.Background(), assignment("a"))
	recs, err := q.DequeueDue(context.Background(), 0, command.PriorityLow)
	if err != nil || len(recs) != 0 {
		t.Errorf("DequeueDue(0) = %v, %v; want nothing", recs, err)
	}
}

func TestRelease(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, assignment("a"))
	q.DequeueDue(ctx, 1, command.PriorityLow)

	if err := q.Release(ctx, []uint{id}); err != nil {
		t.Fatalf("Release: %v", err)
	}
	recs, _ := q.DequeueDue(ctx, 1, command.PriorityLow)
	if len(recs) != 1 || recs[0].RetryCount != 0 {
		t.Errorf("after release dequeued %+v, want record with retry count 0", recs)
	}
}

func TestRecoverStale(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock)
	ctx := context.Background()
	q.Enqueue(ctx, assignment("a"))
	q.DequeueDue(ctx, 1, command.PriorityLow)

	clock.Advance(10 * time.Minute)
	n, err := q.RecoverStale(ctx, time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("RecoverStale(1h) = %d, %v; want 0", n, err)
	}
	n, err = q.RecoverStale(ctx, 5*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("RecoverStale(5m) = %d, %v; want 1", n, err)
	}
	recs, _ := q.DequeueDue(ctx, 1, command.PriorityLow)
	if len(recs) != 1 {
		t.Errorf("recovered record not dequeued")
	}
}

func TestPendingRecords_ExposeLastError(t *testing.T) {
	q := newTestQueue(t, newFakeClock())
	ctx := context.Background()
	id, _ := q.Enqueue(ctx, assignment("a"))
	q.DequeueDue(ctx, 1, command.PriorityLow)
	q.ReportOutcome(ctx, id, Failure("503 service unavailable", true))

	recs, _ := q.PendingRecords(ctx)
	if len(recs) != 1 {
		t.Fatalf("pending = %d, want 1", len(recs))
	}
	if recs[0].LastError != "503 service unavailable" || recs[0].RetryCount != 1 {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestNextDue(t *testing.T) {
	clock := newFakeClock()
	q := newTestQueue(t, clock)
	ctx := context.Background()

	if due, err := q.NextDue(ctx); err != nil || !due.IsZero() {
		t.Fatalf("NextDue on empty queue = %v, %v", due, err)
	}

	id, _ := q.Enqueue(ctx, assignment("a"))
	q.DequeueDue(ctx, 1, command.PriorityLow)
	q.ReportOutcome(ctx, id, Failure("timeout", true))

	due, err := q.NextDue(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := clock.Now().Add(30 * time.Second); !due.Equal(want) {
		t.Errorf("NextDue = %v, want %v", due, want)
	}
}

func countFailures(t *testing.T, q *Queue) []models.CommandFailure {
	t.Helper()
	fs, err := q.Failures(context.Background(), true)
	if err != nil {
		t.Fatalf("Failures: %v", err)
	}
	return fs
}
