package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"factload/internal/storage"
)

// openTestDB creates a file-backed database so every pooled connection sees
// the same schema.
func openTestDB(t *testing.T, ddl ...string) (*Warehouse, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dw.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	for _, q := range ddl {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("exec %q: %v", q, err)
		}
	}
	return Open(db), db
}

func TestBuildInsertSQL(t *testing.T) {
	t.Parallel()

	q, args, err := buildInsertSQL("fato_dre", []string{"id_tempo", "valor"}, [][]any{{1, 2.5}, {2, nil}})
	if err != nil {
		t.Fatalf("buildInsertSQL: %v", err)
	}
	want := `INSERT INTO "fato_dre" ("id_tempo", "valor") VALUES (?,?), (?,?)`
	if q != want {
		t.Fatalf("sql mismatch\n got: %s\nwant: %s", q, want)
	}
	if len(args) != 4 {
		t.Fatalf("args=%d, want 4", len(args))
	}

	if _, _, err := buildInsertSQL("t", []string{"a"}, [][]any{{1, 2}}); err == nil {
		t.Fatalf("expected ragged row error")
	}
}

func TestBindValue(t *testing.T) {
	t.Parallel()

	day := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if got := bindValue(day); got != "2025-03-01" {
		t.Fatalf("bindValue(midnight)=%v", got)
	}
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	if got := bindValue(ts); got != "2025-03-01T10:30:00Z" {
		t.Fatalf("bindValue(ts)=%v", got)
	}
	if got := bindValue(int64(7)); got != int64(7) {
		t.Fatalf("bindValue(int)=%v", got)
	}
}

func TestWarehouse_ColumnsAndKeyValues(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, _ := openTestDB(t,
		`CREATE TABLE dim_cidade (id_cidade INTEGER PRIMARY KEY, nome TEXT)`,
		`INSERT INTO dim_cidade VALUES (1, 'Goiania'), (2, NULL), (3, 'Anapolis')`,
	)

	cols, err := w.Columns(ctx, storage.TableRef{Schema: "controladoria", Name: "dim_cidade"})
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if !reflect.DeepEqual(cols, []string{"id_cidade", "nome"}) {
		t.Fatalf("cols=%v", cols)
	}

	cols, err = w.Columns(ctx, storage.TableRef{Name: "missing"})
	if err != nil || len(cols) != 0 {
		t.Fatalf("missing table: cols=%v err=%v", cols, err)
	}

	kv, err := w.SelectKeyValue(ctx, storage.TableRef{Name: "dim_cidade"}, "id_cidade", "nome")
	if err != nil {
		t.Fatalf("SelectKeyValue: %v", err)
	}
	if len(kv) != 2 {
		t.Fatalf("kv=%+v, want 2 non-null rows", kv)
	}
	if kv[0].Surrogate != 1 || storage.NormalizeKey(kv[0].Natural) != "Goiania" {
		t.Fatalf("kv[0]=%+v", kv[0])
	}
}

func TestWarehouse_PartitionEmulation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, db := openTestDB(t,
		`CREATE TABLE fato_clientes (id_tempo INTEGER NOT NULL, id_cidade INTEGER NOT NULL, qtd INTEGER CHECK (qtd >= 0))`,
		`CREATE TABLE plain (id INTEGER)`,
	)
	fact := storage.TableRef{Name: "fato_clientes"}

	info, err := w.PartitionInfo(ctx, fact)
	if err != nil || info.Partitioned() {
		t.Fatalf("before declare: info=%+v err=%v", info, err)
	}

	if err := DeclareRangePartitioned(ctx, db, "fato_clientes", "id_tempo"); err != nil {
		t.Fatalf("DeclareRangePartitioned: %v", err)
	}

	info, err = w.PartitionInfo(ctx, fact)
	if err != nil {
		t.Fatalf("PartitionInfo: %v", err)
	}
	want := storage.PartitionInfo{Strategy: "RANGE", Columns: []string{"id_tempo"}}
	if !reflect.DeepEqual(info, want) {
		t.Fatalf("info=%+v, want %+v", info, want)
	}
	if info, _ := w.PartitionInfo(ctx, storage.TableRef{Name: "plain"}); info.Partitioned() {
		t.Fatalf("plain table reported as partitioned")
	}

	cols := []string{"id_tempo", "id_cidade", "qtd"}
	if _, err := w.InsertBatch(ctx, fact, cols, [][]any{{20250101, 1, 1}}); err == nil ||
		!strings.Contains(err.Error(), "no partition") {
		t.Fatalf("expected no partition error, got %v", err)
	}

	ranges := []storage.PartitionRange{{Name: "fato_clientes_2025", Year: 2025, From: 20250101, To: 20260101}}
	n, err := w.EnsurePartitions(ctx, fact, ranges)
	if err != nil || n != 1 {
		t.Fatalf("EnsurePartitions: n=%d err=%v", n, err)
	}
	n, err = w.EnsurePartitions(ctx, fact, ranges)
	if err != nil || n != 0 {
		t.Fatalf("EnsurePartitions again: n=%d err=%v", n, err)
	}

	got, err := w.InsertBatch(ctx, fact, cols, [][]any{{20250101, 1, 1}, {20251231, 2, 0}})
	if err != nil || got != 2 {
		t.Fatalf("InsertBatch: n=%d err=%v", got, err)
	}

	// CHECK failure on the second row must roll back the first.
	if _, err := w.InsertBatch(ctx, fact, cols, [][]any{{20250102, 1, 1}, {20250103, 1, -1}}); err == nil {
		t.Fatalf("expected CHECK violation")
	}

	var count int
	if err := db.QueryRow(`SELECT count(*) FROM fato_clientes`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("count=%d, want 2", count)
	}
}

func TestWarehouse_PartitionEmulationOnDateKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	w, db := openTestDB(t, `CREATE TABLE fato_x (dia DATE NOT NULL, qtd INTEGER)`)
	fact := storage.TableRef{Name: "fato_x"}
	if err := DeclareRangePartitioned(ctx, db, "fato_x", "dia"); err != nil {
		t.Fatalf("DeclareRangePartitioned: %v", err)
	}

	r := storage.PartitionRange{Name: "fato_x_2025", Year: 2025, From: 20250101, To: 20260101, Date: true}
	if n, err := w.EnsurePartitions(ctx, fact, []storage.PartitionRange{r}); err != nil || n != 1 {
		t.Fatalf("EnsurePartitions: n=%d err=%v", n, err)
	}

	day := func(s string) time.Time {
		d, _ := time.Parse(time.DateOnly, s)
		return d
	}
	got, err := w.InsertBatch(ctx, fact, []string{"dia", "qtd"}, [][]any{{day("2025-01-01"), 5}, {day("2025-12-31"), 1}})
	if err != nil || got != 2 {
		t.Fatalf("InsertBatch: n=%d err=%v", got, err)
	}
	if _, err := w.InsertBatch(ctx, fact, []string{"dia", "qtd"}, [][]any{{day("2026-01-01"), 1}}); err == nil ||
		!strings.Contains(err.Error(), "no partition") {
		t.Fatalf("2026 row outside every range: err=%v", err)
	}
}

func TestBuildGuardTriggerSQL_QuotesNames(t *testing.T) {
	t.Parallel()

	q := buildGuardTriggerSQL("fato's", "id_tempo")
	if !strings.Contains(q, `"fato's_partition_guard"`) || !strings.Contains(q, `'fato''s'`) {
		t.Fatalf("unexpected trigger sql: %s", q)
	}
}
