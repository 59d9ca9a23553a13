package registry

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/tinytelemetry/tideline/internal/filter"
	"github.com/tinytelemetry/tideline/internal/model"
)

type fakeCatalog struct {
	sources  []model.DataSource
	hashSets []string
	tags     []string
	err      error
}

func (f *fakeCatalog) DataSources(context.Context) ([]model.DataSource, error) {
	return f.sources, f.err
}
func (f *fakeCatalog) HashSetNames(context.Context) ([]string, error) { return f.hashSets, nil }
func (f *fakeCatalog) TagNamesInUse(context.Context) ([]string, error) { return f.tags, nil }

var _ filter.Authority = (*Registry)(nil)

func TestRefreshPopulatesAndReportsChange(t *testing.T) {
	cat := &fakeCatalog{
		sources:  []model.DataSource{{ID: 1, Name: "laptop.e01"}},
		hashSets: []string{"NSRL"},
		tags:     []string{"Bookmark"},
	}
	r := New()
	ctx := context.Background()

	changed, err := r.Refresh(ctx, cat)
	if err != nil || !changed {
		t.Fatalf("first Refresh = %v, %v", changed, err)
	}
	changed, err = r.Refresh(ctx, cat)
	if err != nil || changed {
		t.Fatalf("second Refresh = %v, %v; want no change", changed, err)
	}

	if name, ok := r.DataSourceName(1); !ok || name != "laptop.e01" {
		t.Errorf("DataSourceName(1) = %q, %v", name, ok)
	}
	if got := r.HashSetNames(); !slices.Equal(got, []string{"NSRL"}) {
		t.Errorf("HashSetNames = %v", got)
	}
}

func TestTagsLeaveUseButStayKnown(t *testing.T) {
	cat := &fakeCatalog{tags: []string{"Bookmark", "Suspicious"}}
	r := New()
	ctx := context.Background()
	if _, err := r.Refresh(ctx, cat); err != nil {
		t.Fatal(err)
	}

	cat.tags = []string{"Bookmark"}
	changed, err := r.Refresh(ctx, cat)
	if err != nil || !changed {
		t.Fatalf("Refresh = %v, %v", changed, err)
	}
	if got := r.TagNames(); !slices.Equal(got, []string{"Bookmark"}) {
		t.Errorf("TagNames = %v", got)
	}
	if got := r.KnownTagNames(); !slices.Equal(got, []string{"Bookmark", "Suspicious"}) {
		t.Errorf("KnownTagNames = %v", got)
	}
}

func TestRefreshErrorLeavesRegistryUntouched(t *testing.T) {
	r := New()
	r.AddDataSource(model.DataSource{ID: 4, Name: "usb.dd"})

	boom := errors.New("db closed")
	_, err := r.Refresh(context.Background(), &fakeCatalog{err: boom})
	if !errors.Is(err, boom) || !model.IsStoreError(err) {
		t.Fatalf("err = %v, want a store error wrapping boom", err)
	}
	if got := r.DataSources(); len(got) != 1 || got[4] != "usb.dd" {
		t.Errorf("DataSources = %v", got)
	}
}

func TestAddDataSourceReportsNewOnly(t *testing.T) {
	r := New()
	if !r.AddDataSource(model.DataSource{ID: 1, Name: "a"}) {
		t.Error("first add should report a change")
	}
	if r.AddDataSource(model.DataSource{ID: 1, Name: "a"}) {
		t.Error("repeated add should not report a change")
	}

	snapshot := r.DataSources()
	snapshot[99] = "mutated"
	if _, ok := r.DataSourceName(99); ok {
		t.Error("DataSources returned the internal map")
	}
}
