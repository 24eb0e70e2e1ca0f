package partition

import (
	"context"
	"errors"
	"testing"
	"time"

	"factload/internal/storage"
)

type fakeWarehouse struct {
	info     storage.PartitionInfo
	existing map[string]storage.PartitionRange
	calls    int
	infoErr  error
}

func (f *fakeWarehouse) PartitionInfo(ctx context.Context, table storage.TableRef) (storage.PartitionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeWarehouse) EnsurePartitions(ctx context.Context, table storage.TableRef, ranges []storage.PartitionRange) (int, error) {
	f.calls++
	if f.existing == nil {
		f.existing = map[string]storage.PartitionRange{}
	}
	created := 0
	for _, r := range ranges {
		if _, ok := f.existing[r.Name]; ok {
			continue
		}
		f.existing[r.Name] = r
		created++
	}
	return created, nil
}

func rangeOn(col string) storage.PartitionInfo {
	return storage.PartitionInfo{Strategy: "RANGE", Columns: []string{col}}
}

func TestRangeFor_YearBoundaries(t *testing.T) {
	t.Parallel()

	r := RangeFor("fato_clientes", 2025)
	if r.Name != "fato_clientes_2025" || r.From != 20250101 || r.To != 20260101 {
		t.Fatalf("RangeFor = %#v", r)
	}

	cases := []struct {
		key  int64
		year int
	}{
		{20250101, 2025},
		{20251231, 2025},
		{20260101, 2026},
	}
	for _, tc := range cases {
		y, err := YearOf(tc.key)
		if err != nil {
			t.Fatalf("YearOf(%d): %v", tc.key, err)
		}
		if y != tc.year {
			t.Fatalf("YearOf(%d)=%d want %d", tc.key, y, tc.year)
		}
		r := RangeFor("f", y)
		if tc.key < r.From || tc.key >= r.To {
			t.Fatalf("key %d outside its range [%d,%d)", tc.key, r.From, r.To)
		}
	}
}

func TestYearOf(t *testing.T) {
	t.Parallel()

	if y, err := YearOf(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)); err != nil || y != 2024 {
		t.Fatalf("date: %d %v", y, err)
	}
	for _, bad := range []any{nil, int64(2025), int64(-20250101), "20250101", 1.5} {
		if _, err := YearOf(bad); err == nil {
			t.Fatalf("YearOf(%#v): expected error", bad)
		}
	}
}

func TestYears_DistinctSorted(t *testing.T) {
	t.Parallel()

	got, err := Years([]any{int64(20260101), int64(20250101), int64(20251231), int64(20260315)})
	if err != nil {
		t.Fatalf("Years: %v", err)
	}
	if len(got) != 2 || got[0] != 2025 || got[1] != 2026 {
		t.Fatalf("Years = %v", got)
	}
}

func TestEnsurePartitions_Idempotent(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{info: rangeOn("id_tempo")}
	m := &Manager{Warehouse: wh}
	table := storage.TableRef{Schema: "controladoria", Name: "fato_clientes"}
	keys := []any{int64(20251231), int64(20260101)}

	first, err := m.EnsurePartitions(context.Background(), table, "id_tempo", keys)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Created != 2 {
		t.Fatalf("first created %d", first.Created)
	}

	second, err := m.EnsurePartitions(context.Background(), table, "id_tempo", keys)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Created != 0 || len(wh.existing) != 2 {
		t.Fatalf("second created %d, existing %d", second.Created, len(wh.existing))
	}
	if _, ok := wh.existing["fato_clientes_2026"]; !ok {
		t.Fatalf("missing 2026 partition: %v", wh.existing)
	}
	if wh.calls != 2 {
		t.Fatalf("expected one warehouse call per run, got %d", wh.calls)
	}
}

func TestEnsurePartitions_DateKeysGetDateBounds(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{info: rangeOn("dia")}
	m := &Manager{Warehouse: wh}
	keys := []any{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2025, 7, 9, 0, 0, 0, 0, time.UTC)}

	out, err := m.EnsurePartitions(context.Background(), storage.TableRef{Name: "fato_x"}, "dia", keys)
	if err != nil || out.Created != 1 {
		t.Fatalf("out=%#v err=%v", out, err)
	}
	r := wh.existing["fato_x_2025"]
	if !r.Date {
		t.Fatalf("range %#v is not marked as a date range", r)
	}
	if from, to := r.Bounds(); from != "2025-01-01" || to != "2026-01-01" {
		t.Fatalf("bounds = %v..%v", from, to)
	}
	if lit := r.Literal(r.To); lit != "'2026-01-01'" {
		t.Fatalf("literal = %s", lit)
	}
}

func TestEnsurePartitions_MixedKeyTypesRejected(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{info: rangeOn("dia")}
	m := &Manager{Warehouse: wh}
	keys := []any{time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), int64(20250101)}
	if _, err := m.EnsurePartitions(context.Background(), storage.TableRef{Name: "fato_x"}, "dia", keys); err == nil {
		t.Fatal("expected an error for mixed date and integer keys")
	}
	if wh.calls != 0 {
		t.Fatalf("warehouse called %d times", wh.calls)
	}
}

func TestEnsurePartitions_EmptyKeysNoop(t *testing.T) {
	t.Parallel()

	wh := &fakeWarehouse{infoErr: errors.New("must not be called")}
	m := &Manager{Warehouse: wh}
	out, err := m.EnsurePartitions(context.Background(), storage.TableRef{Name: "f"}, "id_tempo", nil)
	if err != nil || out.Created != 0 || wh.calls != 0 {
		t.Fatalf("out=%#v err=%v calls=%d", out, err, wh.calls)
	}
}

func TestCheck_LayoutErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		info storage.PartitionInfo
	}{
		{"unpartitioned", storage.PartitionInfo{}},
		{"wrong column", rangeOn("data")},
		{"wrong strategy", storage.PartitionInfo{Strategy: "LIST", Columns: []string{"id_tempo"}}},
		{"composite key", storage.PartitionInfo{Strategy: "RANGE", Columns: []string{"id_tempo", "id_cidade"}}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			wh := &fakeWarehouse{info: tc.info}
			m := &Manager{Warehouse: wh}
			_, err := m.EnsurePartitions(context.Background(), storage.TableRef{Name: "f"}, "id_tempo", []any{int64(20250101)})

			var le *LayoutError
			if !errors.As(err, &le) {
				t.Fatalf("expected LayoutError, got %v", err)
			}
			if wh.calls != 0 {
				t.Fatalf("no partitions may be created on a layout error")
			}
		})
	}
}

func TestCheck_CaseInsensitive(t *testing.T) {
	t.Parallel()

	m := &Manager{Warehouse: &fakeWarehouse{info: storage.PartitionInfo{Strategy: "range", Columns: []string{"ID_TEMPO"}}}}
	if err := m.Check(context.Background(), storage.TableRef{Name: "f"}, "id_tempo"); err != nil {
		t.Fatalf("Check: %v", err)
	}
}
