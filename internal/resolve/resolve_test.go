package resolve

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"factload/internal/schema"
	"factload/internal/storage"
)

func cityFact() schema.FactType {
	return schema.FactType{
		Name:    "test",
		Table:   "fato_test",
		TimeKey: "id_tempo",
		Dimensions: []schema.Dimension{{
			Name:                "cidade",
			Table:               "dim_cidades",
			SurrogateCandidates: []string{"id_cidade"},
			NaturalCandidates:   []string{"cidade"},
			StagingField:        "cidade",
			LabelField:          "cidade_label",
			KeyKind:             schema.KindText,
			Target:              "id_cidade",
		}},
		Fact: []schema.Column{
			{Name: "id_cidade", Kind: schema.KindInt, Required: true},
			{Name: "measure", Kind: schema.KindInt},
			{Name: "id_tempo", Kind: schema.KindInt, Required: true},
		},
	}
}

func mustIndex(t *testing.T, dim schema.Dimension, kv ...storage.KeyValue) *Index {
	t.Helper()
	ix, err := BuildIndex(dim, kv)
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	return ix
}

func TestResolve_SingleMatchYieldsSurrogate(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	fields := ft.StagingFields()
	ix := mustIndex(t, ft.Dimensions[0], storage.KeyValue{Surrogate: 7, Natural: "BETIM"})

	rows := []schema.Row{{Line: 2, V: []any{"BETIM", "5", "20250101", nil}}}
	res, err := Resolve(ft, fields, rows, []*Index{ix}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 resolved row, got %d", len(res.Rows))
	}
	got := res.Rows[0]
	if got.V[0] != int64(7) || got.V[1] != "5" || got.V[2] != "20250101" || got.Line != 2 {
		t.Fatalf("resolved row = %#v", got)
	}
	if len(res.Report.Dimensions) != 0 || res.Report.Excluded() != 0 {
		t.Fatalf("unexpected report: %#v", res.Report)
	}
}

func TestResolve_TextKeysNormalizedOnBothSides(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	ix := mustIndex(t, ft.Dimensions[0], storage.KeyValue{Surrogate: 3, Natural: "São João del-Rei"})

	rows := []schema.Row{{V: []any{"  SAO JOAO DELREI ", "1", "20250101", nil}}}
	res, err := Resolve(ft, ft.StagingFields(), rows, []*Index{ix}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0].V[0] != int64(3) {
		t.Fatalf("expected normalized match, got %#v", res)
	}
}

func TestResolve_UnmatchedExcludedAndCountedByRawValue(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	ix := mustIndex(t, ft.Dimensions[0], storage.KeyValue{Surrogate: 7, Natural: "BETIM"})

	rows := []schema.Row{
		{V: []any{"Contagem ", "1", "20250101", "Contagem"}},
		{V: []any{"BETIM", "2", "20250101", nil}},
		{V: []any{"Contagem ", "3", "20250101", nil}},
		{V: []any{"contagem", "4", "20250101", nil}},
		{V: []any{nil, "5", "20250101", nil}},
	}
	res, err := Resolve(ft, ft.StagingFields(), rows, []*Index{ix}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Rows) != 1 || res.Report.Excluded() != 4 {
		t.Fatalf("resolved=%d excluded=%d", len(res.Rows), res.Report.Excluded())
	}

	gaps := res.Report.Dimensions
	if len(gaps) != 1 || gaps[0].Rows != 4 || gaps[0].Distinct != 3 {
		t.Fatalf("gaps = %#v", gaps)
	}
	want := []KeyCount{
		{Value: "Contagem ", Label: "Contagem", Count: 2},
		{Null: true, Count: 1},
		{Value: "contagem", Count: 1},
	}
	if !reflect.DeepEqual(gaps[0].Keys, want) {
		t.Fatalf("keys = %#v want %#v", gaps[0].Keys, want)
	}
}

func TestResolve_NullAndLiteralNullKeysGroupedApart(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	ix := mustIndex(t, ft.Dimensions[0], storage.KeyValue{Surrogate: 7, Natural: "BETIM"})

	rows := []schema.Row{
		{V: []any{"NULL", "1", "20250101", nil}},
		{V: []any{nil, "2", "20250101", nil}},
		{V: []any{nil, "3", "20250101", nil}},
	}
	res, err := Resolve(ft, ft.StagingFields(), rows, []*Index{ix}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	g := res.Report.Dimensions[0]
	if g.Distinct != 2 {
		t.Fatalf("distinct = %d, want 2: %#v", g.Distinct, g.Keys)
	}
	want := []KeyCount{{Null: true, Count: 2}, {Value: "NULL", Count: 1}}
	if !reflect.DeepEqual(g.Keys, want) {
		t.Fatalf("keys = %#v want %#v", g.Keys, want)
	}
	if g.Keys[0].Display() != NullKey || g.Keys[1].Display() != "NULL" {
		t.Fatalf("display = %q, %q", g.Keys[0].Display(), g.Keys[1].Display())
	}
}

func TestResolve_PartialResolutionExcludesRow(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	ft.Dimensions = append(ft.Dimensions, schema.Dimension{
		Name:                "tempo",
		Table:               "dim_tempo",
		SurrogateCandidates: []string{"id_tempo"},
		NaturalCandidates:   []string{"data"},
		StagingField:        "data",
		KeyKind:             schema.KindDate,
		Target:              "id_tempo",
	})
	fields := ft.StagingFields()

	city := mustIndex(t, ft.Dimensions[0], storage.KeyValue{Surrogate: 7, Natural: "BETIM"})
	tempo := mustIndex(t, ft.Dimensions[1],
		storage.KeyValue{Surrogate: 20250101, Natural: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	)

	// fields: cidade, data, measure, cidade_label
	rows := []schema.Row{
		{V: []any{"BETIM", "2025-01-01", "1", nil}},
		{V: []any{"BETIM", "2025-01-02", "1", nil}},
	}
	res, err := Resolve(ft, fields, rows, []*Index{city, tempo}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected only the fully resolved row, got %d", len(res.Rows))
	}
	if res.Rows[0].V[2] != int64(20250101) {
		t.Fatalf("time key = %#v", res.Rows[0].V[2])
	}
	if len(res.Report.Dimensions) != 1 || res.Report.Dimensions[0].Dimension != "tempo" {
		t.Fatalf("report = %#v", res.Report)
	}
}

func TestResolve_ReportCappedAndSorted(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	ix := mustIndex(t, ft.Dimensions[0])

	var rows []schema.Row
	for i := 0; i < 60; i++ {
		rows = append(rows, schema.Row{V: []any{fmt.Sprintf("C%02d", i), "1", "20250101", nil}})
	}
	for i := 0; i < 3; i++ {
		rows = append(rows, schema.Row{V: []any{"C59", "1", "20250101", nil}})
	}

	res, err := Resolve(ft, ft.StagingFields(), rows, []*Index{ix}, 0)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	g := res.Report.Dimensions[0]
	if len(g.Keys) != DefaultReportLimit || g.Distinct != 60 || !g.Truncated() {
		t.Fatalf("keys=%d distinct=%d truncated=%v", len(g.Keys), g.Distinct, g.Truncated())
	}
	if g.Keys[0].Value != "C59" || g.Keys[0].Count != 4 {
		t.Fatalf("top key = %#v", g.Keys[0])
	}
	if g.Keys[1].Value != "C00" {
		t.Fatalf("ties must sort by value, got %#v", g.Keys[1])
	}
}

func TestBuildIndex_DuplicateNaturalKeyIsFatal(t *testing.T) {
	t.Parallel()

	dim := cityFact().Dimensions[0]
	_, err := BuildIndex(dim, []storage.KeyValue{
		{Surrogate: 1, Natural: "Betim"},
		{Surrogate: 2, Natural: "BETIM "},
		{Surrogate: 3, Natural: "Contagem"},
	})

	var ce *CardinalityError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CardinalityError, got %v", err)
	}
	if ce.Key != "BETIM" || len(ce.Surrogates) != 2 || ce.Duplicates != 1 {
		t.Fatalf("error = %#v", ce)
	}
}

func TestBuildIndex_IntKeysAcrossDriverTypes(t *testing.T) {
	t.Parallel()

	dim := schema.Dimension{Name: "regional", KeyKind: schema.KindInt}
	ix, err := BuildIndex(dim, []storage.KeyValue{
		{Surrogate: 10, Natural: int32(4)},
		{Surrogate: 11, Natural: float64(5)},
		{Surrogate: 12, Natural: "not a number"},
		{Surrogate: 13, Natural: nil},
	})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if ix.Len() != 2 || ix.Skipped() != 2 {
		t.Fatalf("len=%d skipped=%d", ix.Len(), ix.Skipped())
	}
	for raw, want := range map[any]int64{"4": 10, "5.0": 11, int64(5): 11} {
		if got, ok := ix.Lookup(raw); !ok || got != want {
			t.Fatalf("Lookup(%#v)=%d,%v want %d", raw, got, ok, want)
		}
	}
	if _, ok := ix.Lookup("abc"); ok {
		t.Fatalf("unparseable staging key must not resolve")
	}
}

func TestBuildIndex_NumericColumnKeys(t *testing.T) {
	t.Parallel()

	dim := schema.Dimension{Name: "cidade", KeyKind: schema.KindInt}
	ix, err := BuildIndex(dim, []storage.KeyValue{
		{Surrogate: 10, Natural: pgtype.Numeric{Int: big.NewInt(5208707), Valid: true}},
		{Surrogate: 11, Natural: pgtype.Numeric{Int: big.NewInt(52011080), Exp: -1, Valid: true}},
	})
	if err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}
	if ix.Len() != 2 || ix.Skipped() != 0 {
		t.Fatalf("len=%d skipped=%d", ix.Len(), ix.Skipped())
	}
	for raw, want := range map[string]int64{"5208707": 10, "5201108": 11} {
		if got, ok := ix.Lookup(raw); !ok || got != want {
			t.Fatalf("Lookup(%q)=%d,%v want %d", raw, got, ok, want)
		}
	}
}

func TestResolve_MisalignedIndexes(t *testing.T) {
	t.Parallel()

	ft := cityFact()
	if _, err := Resolve(ft, ft.StagingFields(), nil, nil, 0); err == nil {
		t.Fatalf("expected error for missing indexes")
	}
}
