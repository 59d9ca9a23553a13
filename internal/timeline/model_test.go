package timeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
	"github.com/tinytelemetry/tideline/internal/task"
)

type recorder struct {
	mu   sync.Mutex
	seen []Notification
}

func (r *recorder) record(n Notification) {
	r.mu.Lock()
	r.seen = append(r.seen, n)
	r.mu.Unlock()
}

func (r *recorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.seen))
	for _, n := range r.seen {
		out = append(out, n.Kind())
	}
	return out
}

func (r *recorder) count(kind string) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.seen = nil
	r.mu.Unlock()
}

func newTestModel(t *testing.T, store *fakeStore) (*Model, *recorder) {
	t.Helper()
	m, err := New(context.Background(), store, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	rec := &recorder{}
	m.Subscribe(rec.record)
	return m, rec
}

func waitTask(t *testing.T, tk *task.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tk.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("task %q did not finish", tk.Title())
	}
	return err
}

func TestInitialStateSpansAllEvents(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	ctx := context.Background()

	span, err := m.SpanningInterval(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if span != (model.Interval{Start: 100, End: 501}) {
		t.Errorf("spanning interval = %+v, want [100, 501)", span)
	}

	s := m.ZoomState()
	if s.TimeRange() != span || s.TypeLevel() != model.LevelCategory || s.LevelOfDetail() != model.LODLow {
		t.Errorf("initial state = %s", s)
	}
	if m.CanAdvance() || m.CanRetreat() {
		t.Error("fresh history should not navigate")
	}
}

func TestTaggingInvalidatesOnlyAffectedEvent(t *testing.T) {
	store := newFakeStore()
	m, rec := newTestModel(t, store)
	ctx := context.Background()

	before := map[int64]model.Event{}
	for _, id := range []int64{1, 2, 3} {
		ev, err := m.EventByID(ctx, id)
		if err != nil {
			t.Fatalf("EventByID(%d): %v", id, err)
		}
		before[id] = ev
	}
	again, _ := m.EventByID(ctx, 1)
	if again != before[1] {
		t.Error("repeated lookup returned a different value")
	}

	ids, err := m.HandleContentTagAdded(ctx, 200)
	if err != nil {
		t.Fatalf("HandleContentTagAdded: %v", err)
	}
	if !slices.Equal(ids, []int64{2}) {
		t.Fatalf("affected ids = %v, want [2]", ids)
	}
	if m.caches.events.Contains(2) {
		t.Error("event 2 still cached after tagging")
	}
	if !m.caches.events.Contains(1) || !m.caches.events.Contains(3) {
		t.Error("unaffected events were dropped")
	}

	ev, err := m.EventByID(ctx, 2)
	if err != nil || !ev.Tagged {
		t.Fatalf("EventByID(2) = %+v, %v; want tagged", ev, err)
	}
	if n := store.eventLoads(2); n != 2 {
		t.Errorf("loads of event 2 = %d, want 2", n)
	}
	for _, id := range []int64{1, 3} {
		_, _ = m.EventByID(ctx, id)
		if n := store.eventLoads(id); n != 1 {
			t.Errorf("loads of event %d = %d, want 1", id, n)
		}
	}

	if got := rec.count("tags-added"); got != 1 {
		t.Errorf("TagsAdded published %d times, want 1", got)
	}
	rec.mu.Lock()
	for _, n := range rec.seen {
		if ta, ok := n.(TagsAdded); ok && !slices.Equal(ta.EventIDs, []int64{2}) {
			t.Errorf("TagsAdded ids = %v", ta.EventIDs)
		}
	}
	rec.mu.Unlock()
	if got := rec.count("cache-invalidated"); got != 1 {
		t.Errorf("CacheInvalidated published %d times, want 1", got)
	}
}

func TestTagWithoutAffectedEventsPublishesNothing(t *testing.T) {
	m, rec := newTestModel(t, newFakeStore())
	ctx := context.Background()

	ids, err := m.HandleContentTagAdded(ctx, 999)
	if err != nil || len(ids) != 0 {
		t.Fatalf("ids = %v, err = %v", ids, err)
	}
	if kinds := rec.kinds(); len(kinds) != 0 {
		t.Errorf("notifications = %v, want none", kinds)
	}

	// Tagging twice changes nothing the second time.
	_, _ = m.HandleArtifactTagAdded(ctx, 7)
	rec.reset()
	_, _ = m.HandleArtifactTagAdded(ctx, 7)
	if n := rec.count("tags-added"); n != 0 {
		t.Errorf("second tag published %d TagsAdded", n)
	}
}

func TestTagDeletedPublishesTagsDeleted(t *testing.T) {
	m, rec := newTestModel(t, newFakeStore())
	ctx := context.Background()

	_, _ = m.HandleArtifactTagAdded(ctx, 7)
	rec.reset()
	ids, err := m.HandleArtifactTagDeleted(ctx, 7)
	if err != nil || !slices.Equal(ids, []int64{2}) {
		t.Fatalf("ids = %v, err = %v", ids, err)
	}
	if rec.count("tags-deleted") != 1 || rec.count("tags-added") != 0 {
		t.Errorf("notifications = %v", rec.kinds())
	}
}

func TestHashSetHitsInvalidateUnion(t *testing.T) {
	store := newFakeStore()
	m, rec := newTestModel(t, store)
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		_, _ = m.EventByID(ctx, id)
	}

	ids, err := m.HandleHashSetHits(ctx, []model.Artifact{
		{ID: 50, ContentID: 100},
		{ID: 51, ContentID: 300},
		{ID: 52, ContentID: 100},
	})
	if err != nil {
		t.Fatalf("HandleHashSetHits: %v", err)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []int64{1, 3}) {
		t.Errorf("ids = %v, want [1 3]", ids)
	}
	if m.caches.events.Contains(1) || !m.caches.events.Contains(2) || m.caches.events.Contains(3) {
		t.Error("wrong events invalidated")
	}
	if rec.count("cache-invalidated") != 1 || rec.count("tags-added") != 0 {
		t.Errorf("notifications = %v", rec.kinds())
	}

	_, err = m.HandleHashSetHits(ctx, []model.Artifact{{ID: 60, ContentID: -1}})
	if !model.IsStoreError(err) {
		t.Errorf("err = %v, want a store error", err)
	}
}

func TestHashSetHitWithoutChangesStillSyncsFilter(t *testing.T) {
	store := newFakeStore()
	m, rec := newTestModel(t, store)
	ctx := context.Background()

	if _, err := m.HandleHashSetHits(ctx, []model.Artifact{{ID: 50, ContentID: 100}}); err != nil {
		t.Fatal(err)
	}
	_, _ = m.EventByID(ctx, 1)
	rec.reset()

	store.mu.Lock()
	store.hashSets = append(store.hashSets, "Notable")
	store.mu.Unlock()

	ids, err := m.HandleHashSetHits(ctx, []model.Artifact{{ID: 53, ContentID: 100}})
	if err != nil || len(ids) != 0 {
		t.Fatalf("ids = %v, err = %v; want no changed events", ids, err)
	}
	cat, _ := m.Filter().Category(model.FilterHashSet)
	if i := slices.IndexFunc(cat.Leaves, func(l filter.Leaf) bool { return l.Key == "Notable" }); i < 0 || !cat.Leaves[i].Enabled {
		t.Errorf("hash set leaves = %+v, want Notable enabled", cat.Leaves)
	}
	if !m.caches.events.Contains(1) {
		t.Error("event cache cleared although no event changed")
	}
	if rec.count("cache-invalidated") != 0 || rec.count("zoom-changed") != 1 {
		t.Errorf("notifications = %v", rec.kinds())
	}
}

func TestDataSourceAddedSyncsFilterAndInvalidatesAll(t *testing.T) {
	store := newFakeStore()
	m, rec := newTestModel(t, store)
	ctx := context.Background()
	_, _ = m.EventByID(ctx, 1)
	_, _ = m.SpanningInterval(ctx)
	mins := store.count("min")

	store.mu.Lock()
	store.sources = append(store.sources, model.DataSource{ID: 3, Name: "usb.dd"})
	store.mu.Unlock()

	if err := m.HandleDataSourceAdded(ctx); err != nil {
		t.Fatalf("HandleDataSourceAdded: %v", err)
	}

	cat, ok := m.Filter().Category(model.FilterDataSource)
	if !ok || len(cat.Leaves) != 3 {
		t.Fatalf("datasource category = %+v", cat)
	}
	if l := cat.Leaves[2]; l.Key != "3" || !l.Enabled || l.Label != "usb.dd" {
		t.Errorf("new leaf = %+v", l)
	}
	if m.caches.events.Len() != 0 {
		t.Error("event cache not cleared")
	}
	_, _ = m.SpanningInterval(ctx)
	if store.count("min") != mins+1 {
		t.Error("min time was not reloaded")
	}
	if rec.count("cache-invalidated") != 1 || rec.count("zoom-changed") != 1 {
		t.Errorf("notifications = %v", rec.kinds())
	}
	if m.CanRetreat() {
		t.Error("filter sync should amend the current state, not push a new one")
	}
}

func TestInvalidateCachesReportsRegistryFailure(t *testing.T) {
	store := newFakeStore()
	m, rec := newTestModel(t, store)
	ctx := context.Background()
	_, _ = m.EventByID(ctx, 1)

	boom := errors.New("catalog offline")
	store.mu.Lock()
	store.failCatalog = boom
	store.mu.Unlock()

	err := m.InvalidateCaches(ctx, []int64{1})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want catalog error", err)
	}
	if m.caches.events.Contains(1) {
		t.Error("cache not invalidated after registry failure")
	}
	if rec.count("cache-invalidated") != 1 {
		t.Errorf("notifications = %v", rec.kinds())
	}
}

func TestInvalidateEmptyKeepsEvents(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestModel(t, store)
	ctx := context.Background()
	_, _ = m.EventByID(ctx, 1)
	_, _ = m.EventCounts(ctx, m.ZoomState().TimeRange())
	counts := store.count("counts")

	if err := m.InvalidateCaches(ctx, []int64{}); err != nil {
		t.Fatal(err)
	}
	if !m.caches.events.Contains(1) {
		t.Error("empty id list dropped events")
	}
	_, _ = m.EventCounts(ctx, m.ZoomState().TimeRange())
	if store.count("counts") != counts+1 {
		t.Error("counts cache should always be dropped")
	}
}

func TestStoreErrorsAreWrappedAndNotCached(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestModel(t, store)
	ctx := context.Background()

	boom := errors.New("disk gone")
	store.mu.Lock()
	store.failEvent = boom
	store.mu.Unlock()

	_, err := m.EventByID(ctx, 1)
	var se *model.StoreError
	if !errors.As(err, &se) || !errors.Is(err, boom) {
		t.Fatalf("err = %v, want StoreError wrapping boom", err)
	}

	store.mu.Lock()
	store.failEvent = nil
	store.mu.Unlock()
	if _, err := m.EventByID(ctx, 1); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

func TestHistoryNavigation(t *testing.T) {
	m, rec := newTestModel(t, newFakeStore())
	initial := m.ZoomState()
	a := model.Interval{Start: 100, End: 300}
	b := model.Interval{Start: 200, End: 300}

	if !m.PushTimeRange(a) || !m.PushTimeRange(b) {
		t.Fatal("pushes reported no change")
	}
	if m.PushTimeRange(b) {
		t.Error("pushing the current range again reported a change")
	}

	if got := m.Retreat(); got.TimeRange() != a {
		t.Errorf("Retreat = %s", got)
	}
	if !m.CanAdvance() || !m.CanRetreat() {
		t.Error("expected both directions available")
	}
	if got := m.Advance(); got.TimeRange() != b {
		t.Errorf("Advance = %s", got)
	}
	m.Advance()
	if m.ZoomState().TimeRange() != b {
		t.Error("Advance at the tail moved")
	}

	m.Retreat()
	m.Retreat()
	if !m.ZoomState().Equal(initial) {
		t.Errorf("state = %s, want initial", m.ZoomState())
	}
	if rec.count("zoom-changed") != 6 {
		t.Errorf("zoom notifications = %d, want 6", rec.count("zoom-changed"))
	}
}

func TestPushTimeAndTypeAndZoom(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	r := model.Interval{Start: 100, End: 500}

	m.PushTimeAndType(r, model.LevelEvent)
	s := m.ZoomState()
	if s.TimeRange() != r || s.TypeLevel() != model.LevelEvent {
		t.Fatalf("state = %s", s)
	}

	m.ZoomIn()
	if got := m.ZoomState().TimeRange(); got != (model.Interval{Start: 200, End: 400}) {
		t.Errorf("ZoomIn = %+v", got)
	}
	m.ZoomOut()
	if got := m.ZoomState().TimeRange(); got != (model.Interval{Start: 150, End: 450}) {
		t.Errorf("ZoomOut = %+v", got)
	}
	m.PushPeriod(100)
	if got := m.ZoomState().TimeRange(); got != (model.Interval{Start: 250, End: 350}) {
		t.Errorf("PushPeriod = %+v", got)
	}

	if ok, err := m.ShowFullRange(context.Background()); err != nil || !ok {
		t.Fatalf("ShowFullRange = %v, %v", ok, err)
	}
	if got := m.ZoomState().TimeRange(); got != (model.Interval{Start: 100, End: 501}) {
		t.Errorf("full range = %+v", got)
	}
}

func TestZoomToActivityAlignsToDays(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	ok, err := m.ZoomToActivity(context.Background())
	if err != nil || !ok {
		t.Fatalf("ZoomToActivity = %v, %v", ok, err)
	}
	if got := m.ZoomState().TimeRange(); got != (model.Interval{Start: 0, End: 86400}) {
		t.Errorf("range = %+v, want the first UTC day", got)
	}
}

func TestPushLODRefusesLargeDetail(t *testing.T) {
	store := newFakeStore()
	store.countsFixed = map[model.EventTypeID]int64{1: 6000, 2: 6000}
	m, _ := newTestModel(t, store)
	ctx := context.Background()

	changed, err := m.PushLOD(ctx, model.LODHigh, false)
	if !errors.Is(err, ErrLargeDetailRequest) || changed {
		t.Fatalf("PushLOD = %v, %v; want ErrLargeDetailRequest", changed, err)
	}
	if m.ZoomState().LevelOfDetail() != model.LODLow {
		t.Error("level of detail changed despite refusal")
	}

	changed, err = m.PushLOD(ctx, model.LODHigh, true)
	if err != nil || !changed || m.ZoomState().LevelOfDetail() != model.LODHigh {
		t.Errorf("forced PushLOD = %v, %v", changed, err)
	}
	if changed, _ := m.PushLOD(ctx, model.LODMedium, false); !changed {
		t.Error("medium detail should not need confirmation")
	}
}

func TestPushFilterAndEventIDs(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	ctx := context.Background()

	onlyLaptop := m.Filter().WithOnly(model.FilterDataSource, "1")
	if !m.PushFilter(onlyLaptop) {
		t.Fatal("PushFilter reported no change")
	}
	ids, err := m.EventIDs(ctx, model.Interval{Start: 0, End: 1000}, filter.New())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids, []int64{1, 2}) {
		t.Errorf("ids = %v, want [1 2]", ids)
	}

	// The extra filter is unioned into the data source category.
	extra := filter.New(filter.Category{Kind: model.FilterDataSource, Enabled: true, Leaves: []filter.Leaf{
		{Kind: model.FilterDataSource, Key: "2", Enabled: true},
	}})
	ids, _ = m.EventIDs(ctx, model.Interval{Start: 0, End: 1000}, extra)
	if !slices.Equal(ids, []int64{1, 2, 3}) {
		t.Errorf("ids with extra = %v, want [1 2 3]", ids)
	}

	if ids, _ := m.EventIDs(ctx, model.Interval{Start: 900, End: 1000}, filter.New()); len(ids) != 0 {
		t.Errorf("range outside the case returned %v", ids)
	}
}

func TestEventIDsWhereNarrowsCurrentFilter(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	ctx := context.Background()
	r := m.ZoomState().TimeRange()

	widened, err := m.EventIDs(ctx, r, filter.New().WithOnly(model.FilterDataSource, "2"))
	if err != nil || !slices.Equal(widened, []int64{1, 2, 3}) {
		t.Fatalf("EventIDs = %v, %v; extra leaves only widen", widened, err)
	}
	ids, err := m.EventIDsWhere(ctx, r, filter.New(), model.Clause{Kind: model.FilterDataSource, Values: []string{"2"}})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ids, []int64{3}) {
		t.Errorf("ids on data source 2 = %v, want [3]", ids)
	}
}

func TestEventCountsUseCurrentLevel(t *testing.T) {
	store := newFakeStore()
	m, _ := newTestModel(t, store)
	ctx := context.Background()
	r := m.ZoomState().TimeRange()

	counts, err := m.EventCounts(ctx, r)
	if err != nil {
		t.Fatal(err)
	}
	if counts[1] != 2 || counts[2] != 1 {
		t.Errorf("category counts = %v", counts)
	}
	counts[1] = 99 // callers own the returned map

	again, _ := m.EventCounts(ctx, r)
	if again[1] != 2 {
		t.Error("cached counts were mutated through a returned map")
	}
	if store.count("counts") != 1 {
		t.Errorf("store counted %d times, want 1", store.count("counts"))
	}

	// The level of detail is not part of the counts key.
	_, _ = m.PushLOD(ctx, model.LODMedium, false)
	_, _ = m.EventCounts(ctx, r)
	if store.count("counts") != 1 {
		t.Error("changing the level of detail caused a recount")
	}
}

func TestCountsAsyncFillsCache(t *testing.T) {
	store := newFakeStore()
	m, rec := newTestModel(t, store)
	ctx := context.Background()
	s := m.ZoomState()

	tk, err := m.CountsAsync(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := waitTask(t, tk); err != nil {
		t.Fatalf("task: %v", err)
	}
	sliced := store.count("counts")
	if sliced < 2 {
		t.Errorf("store counted %d times, want one call per slice", sliced)
	}

	counts, err := m.EventCounts(ctx, s.TimeRange())
	if err != nil {
		t.Fatal(err)
	}
	if counts[1] != 2 || counts[2] != 1 {
		t.Errorf("counts = %v", counts)
	}
	if store.count("counts") != sliced {
		t.Error("EventCounts missed the cache after CountsAsync")
	}

	deadline := time.Now().Add(2 * time.Second)
	for rec.count("counts-loaded") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count("counts-loaded") != 1 {
		t.Errorf("notifications = %v", rec.kinds())
	}
}

// blockingCountStore holds the first armed CountEventsByType call after it
// has read the store, until release is closed.
type blockingCountStore struct {
	*fakeStore
	armed   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func (s *blockingCountStore) CountEventsByType(ctx context.Context, start, end int64, p model.Predicate, level model.HierarchyLevel) (map[model.EventTypeID]int64, error) {
	counts, err := s.fakeStore.CountEventsByType(ctx, start, end, p, level)
	if s.armed.CompareAndSwap(true, false) {
		close(s.started)
		<-s.release
	}
	return counts, err
}

func TestCountsAsyncDropsCountsTakenAcrossInvalidation(t *testing.T) {
	store := &blockingCountStore{
		fakeStore: newFakeStore(),
		started:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	m, err := New(context.Background(), store, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(m.Close)
	rec := &recorder{}
	m.Subscribe(rec.record)
	ctx := context.Background()
	s := m.ZoomState()

	store.armed.Store(true)
	tk, err := m.CountsAsync(s)
	if err != nil {
		t.Fatal(err)
	}
	<-store.started

	store.mu.Lock()
	store.events[4] = model.Event{ID: 4, Type: 10, BaseType: 1, Time: 100, DataSourceID: 1, ContentID: 400, ShortDescription: "d"}
	store.mu.Unlock()
	if err := m.InvalidateCaches(ctx, []int64{}); err != nil {
		t.Fatalf("InvalidateCaches: %v", err)
	}
	close(store.release)
	if err := waitTask(t, tk); err != nil {
		t.Fatalf("task: %v", err)
	}

	if n := rec.count("counts-loaded"); n != 0 {
		t.Errorf("counts-loaded published %d times for outdated counts", n)
	}
	counts, err := m.EventCounts(ctx, s.TimeRange())
	if err != nil {
		t.Fatal(err)
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	if total != 4 {
		t.Errorf("counts = %v, total %d; want 4 after invalidation", counts, total)
	}
}

func TestSelectTimeAndType(t *testing.T) {
	m, rec := newTestModel(t, newFakeStore())

	tk, err := m.SelectTimeAndType(model.Interval{Start: 0, End: 10_000}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := waitTask(t, tk); err != nil {
		t.Fatalf("task: %v", err)
	}

	ids, r := m.Selection()
	if !slices.Equal(ids, []int64{1, 3}) {
		t.Errorf("selected = %v, want [1 3]", ids)
	}
	if r != (model.Interval{Start: 100, End: 501}) {
		t.Errorf("selected range = %+v, want the clipped range", r)
	}
	if rec.count("selection-changed") != 1 {
		t.Errorf("notifications = %v", rec.kinds())
	}
}

func TestSelectEventIDs(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	if err := m.SelectEventIDs(context.Background(), []int64{2, 3}); err != nil {
		t.Fatal(err)
	}
	ids, r := m.Selection()
	if !slices.Equal(ids, []int64{2, 3}) || r != (model.Interval{Start: 300, End: 501}) {
		t.Errorf("selection = %v %+v", ids, r)
	}
}

func TestSubscriberMayCallBack(t *testing.T) {
	m, _ := newTestModel(t, newFakeStore())
	done := make(chan struct{})
	var once sync.Once
	m.Subscribe(func(n Notification) {
		if _, ok := n.(ZoomChanged); ok {
			_ = m.ZoomState()
			_ = m.CanRetreat()
			once.Do(func() { close(done) })
		}
	})

	m.PushTypeLevel(model.LevelRoot)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber deadlocked calling back into the model")
	}
}

func TestRequestRefresh(t *testing.T) {
	m, rec := newTestModel(t, newFakeStore())
	m.RequestRefresh()
	if rec.count("refresh-requested") != 1 {
		t.Errorf("notifications = %v", rec.kinds())
	}
}
