package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(priority Priority, class QueueClass, tenant string, age time.Duration) *QueueEntry {
	return &QueueEntry{
		ID:         "e-" + tenant + "-" + string(priority),
		Priority:   priority,
		QueueClass: class,
		TenantKey:  tenant,
		CreatedAt:  time.Now().Add(-age),
	}
}

func TestPriorityQueueOrdersByPriorityFirst(t *testing.T) {
	q := NewPriorityQueue(0)
	low := entry(PriorityLow, ClassStandard, "t1", time.Minute)
	critical := entry(PriorityCritical, ClassStandard, "t2", 0)

	q.Insert(low)
	q.Insert(critical)

	got := q.Pop(func(*QueueEntry) bool { return true })
	assert.Same(t, critical, got, "critical priority must pop before an older low-priority entry")
}

func TestPriorityQueueOrdersByClassWithinPriority(t *testing.T) {
	q := NewPriorityQueue(0)
	batch := entry(PriorityNormal, ClassBatch, "t1", time.Minute)
	interactive := entry(PriorityNormal, ClassInteractive, "t2", 0)

	q.Insert(batch)
	q.Insert(interactive)

	got := q.Pop(func(*QueueEntry) bool { return true })
	assert.Same(t, interactive, got)
}

func TestPriorityQueueOlderEffectiveAgeWinsTies(t *testing.T) {
	q := NewPriorityQueue(0)
	older := entry(PriorityNormal, ClassStandard, "t1", 10*time.Second)
	newer := entry(PriorityNormal, ClassStandard, "t2", time.Second)

	q.Insert(newer)
	q.Insert(older)

	got := q.Pop(func(*QueueEntry) bool { return true })
	assert.Same(t, older, got)
}

func TestPriorityQueueTenantFairnessBreaksTies(t *testing.T) {
	q := NewPriorityQueue(0)
	now := time.Now()
	a := &QueueEntry{ID: "a", Priority: PriorityNormal, QueueClass: ClassStandard, TenantKey: "tenantA", CreatedAt: now}
	b := &QueueEntry{ID: "b", Priority: PriorityNormal, QueueClass: ClassStandard, TenantKey: "tenantB", CreatedAt: now}

	q.Insert(a)
	q.Insert(b)
	q.h.served["tenantA"] = now.Add(-time.Hour) // tenantA served long ago, tenantB served recently
	q.h.served["tenantB"] = now

	got := q.Pop(func(*QueueEntry) bool { return true })
	assert.Same(t, a, got, "least-recently-served tenant should win the tie")
}

func TestPriorityQueuePopSkipsEntriesThatDontFitAndBoostsThem(t *testing.T) {
	q := NewPriorityQueue(0)
	tooBig := entry(PriorityCritical, ClassStandard, "t1", 0)
	tooBig.AdditionalRequests = 100
	fits := entry(PriorityLow, ClassStandard, "t2", 0)
	fits.AdditionalRequests = 1

	q.Insert(tooBig)
	q.Insert(fits)

	got := q.Pop(func(e *QueueEntry) bool { return e.AdditionalRequests <= 1 })
	require.NotNil(t, got)
	assert.Same(t, fits, got)
	assert.Equal(t, 1, tooBig.SkipCount, "skipped entry should have its skip count bumped")
	assert.Equal(t, 1, q.Len(), "skipped entry must be reinserted, not dropped")
}

func TestPriorityQueuePopReturnsNilWhenNothingFits(t *testing.T) {
	q := NewPriorityQueue(0)
	q.Insert(entry(PriorityHigh, ClassStandard, "t1", 0))

	got := q.Pop(func(*QueueEntry) bool { return false })
	assert.Nil(t, got)
	assert.Equal(t, 1, q.Len(), "entries that never fit stay queued")
}

func TestPriorityQueueEvictsWorstEntryOverCapacity(t *testing.T) {
	q := NewPriorityQueue(1)
	keep := entry(PriorityCritical, ClassStandard, "t1", 0)
	worse := entry(PriorityBackground, ClassBatch, "t2", 0)

	evicted := q.Insert(keep)
	assert.Nil(t, evicted)

	evicted = q.Insert(worse)
	require.NotNil(t, evicted)
	assert.Same(t, worse, evicted)
	assert.Equal(t, 1, q.Evictions())
	assert.Equal(t, 1, q.Len())
}

func TestPriorityQueueRemove(t *testing.T) {
	q := NewPriorityQueue(0)
	a := entry(PriorityNormal, ClassStandard, "t1", 0)
	b := entry(PriorityNormal, ClassStandard, "t2", time.Second)
	q.Insert(a)
	q.Insert(b)

	require.True(t, q.Remove(a))
	assert.Equal(t, 1, q.Len())
	assert.False(t, q.Remove(a), "removing an already-removed entry reports false")

	got := q.Pop(func(*QueueEntry) bool { return true })
	assert.Same(t, b, got)
}
