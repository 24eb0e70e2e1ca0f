package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"factload/internal/schema"
	"factload/internal/staging"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestDecode_JSONAndYAMLAgree(t *testing.T) {
	t.Parallel()

	jsonDoc := `{
  "job": "clientes_daily",
  "fact_type": "clientes",
  "warehouse": {"kind": "postgres", "role": "dw"},
  "staging": {"path": "data/staging/clientes.csv", "comma": ";"},
  "runtime": {"batch_size": 1000, "cleanup_dirs": []},
  "metrics": {"backend": "datadog", "tags": ["team:bi"]}
}`
	yamlDoc := `
job: clientes_daily
fact_type: clientes
warehouse:
  kind: postgres
  role: dw
staging:
  path: data/staging/clientes.csv
  comma: ";"
runtime:
  batch_size: 1000
  cleanup_dirs: []
metrics:
  backend: datadog
  tags: ["team:bi"]
`
	for _, tc := range []struct {
		ext, doc string
	}{
		{".json", jsonDoc},
		{".yaml", yamlDoc},
		{".YML", yamlDoc},
	} {
		tc := tc
		t.Run(tc.ext, func(t *testing.T) {
			t.Parallel()
			p, err := Decode([]byte(tc.doc), tc.ext)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if p.Job != "clientes_daily" || p.FactType != "clientes" {
				t.Fatalf("job/fact_type = %q/%q", p.Job, p.FactType)
			}
			if p.Warehouse.Kind != "postgres" || p.Warehouse.Role != "dw" {
				t.Fatalf("warehouse = %+v", p.Warehouse)
			}
			if p.Staging.Path != "data/staging/clientes.csv" || p.Staging.Comma != ";" {
				t.Fatalf("staging = %+v", p.Staging)
			}
			if p.Runtime.BatchSize != 1000 {
				t.Fatalf("batch_size = %d", p.Runtime.BatchSize)
			}
			if p.Runtime.CleanupDirs == nil || len(p.Runtime.CleanupDirs) != 0 {
				t.Fatalf("cleanup_dirs = %#v, want empty non-nil", p.Runtime.CleanupDirs)
			}
			if len(p.Metrics.Tags) != 1 || p.Metrics.Tags[0] != "team:bi" {
				t.Fatalf("tags = %v", p.Metrics.Tags)
			}
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name, ext, doc string
	}{
		{"unknown json key", ".json", `{"job":"x","batch":1}`},
		{"unknown yaml key", ".yaml", "job: x\nbatch: 1\n"},
		{"bad extension", ".toml", `job = "x"`},
		{"malformed json", ".json", `{"job":`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tc.doc), tc.ext)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dre.yaml")
	doc := "fact_type: dre\nwarehouse: {kind: sqlite, dsn: dw.db}\nstaging: {path: dre.csv}\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.FactType != "dre" || p.Warehouse.DSN != "dw.db" {
		t.Fatalf("got %+v", p)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	p := Pipeline{FactType: "receita_doc"}
	p.ApplyDefaults(envMap(nil))
	if p.Schema != DefaultSchema {
		t.Errorf("schema = %q", p.Schema)
	}
	if p.Runtime.BatchSize != 0 || p.Runtime.ReportLimit != DefaultReportLimit {
		t.Errorf("runtime = %+v", p.Runtime)
	}
	if p.Job != "receita_doc" || p.Metrics.JobName != "receita_doc" {
		t.Errorf("job = %q, metrics job = %q", p.Job, p.Metrics.JobName)
	}

	q := Pipeline{Schema: " ", Runtime: Runtime{BatchSize: 10}}
	q.ApplyDefaults(envMap(map[string]string{"PG_SCHEMA": "financeiro"}))
	if q.Schema != "financeiro" {
		t.Errorf("schema from env = %q", q.Schema)
	}
	if q.Runtime.BatchSize != 10 {
		t.Errorf("explicit batch size overwritten: %d", q.Runtime.BatchSize)
	}
}

func TestFactSchema(t *testing.T) {
	t.Parallel()

	ft, err := Pipeline{FactType: "clientes"}.FactSchema()
	if err != nil {
		t.Fatalf("builtin: %v", err)
	}
	if ft.Table != "fato_clientes" {
		t.Fatalf("table = %q", ft.Table)
	}

	inline := ft
	if got, err := (Pipeline{Fact: &inline}).FactSchema(); err != nil || got.Name != ft.Name {
		t.Fatalf("inline: %v %q", err, got.Name)
	}

	for name, p := range map[string]Pipeline{
		"neither":  {},
		"both":     {FactType: "clientes", Fact: &inline},
		"unknown":  {FactType: "vendas"},
		"bad fact": {Fact: &schema.FactType{Name: "vazio"}},
	} {
		if _, err := p.FactSchema(); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", name, err)
		}
	}
}

func TestValidate_CollectsProblems(t *testing.T) {
	t.Parallel()

	err := Pipeline{Runtime: Runtime{BatchSize: -1}, Metrics: Metrics{Backend: "statsd"}}.Validate()
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	for _, want := range []string{
		"one of fact_type or fact is required",
		"warehouse.kind is required",
		"warehouse needs a dsn or a role",
		"staging.path is required",
		"runtime.batch_size must be positive",
		`metrics.backend "statsd"`,
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}

	ok := Pipeline{
		FactType:  "dre",
		Warehouse: Warehouse{Kind: "sqlite", DSN: "dw.db"},
		Staging:   staging.Source{Path: "dre.csv"},
	}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid pipeline: %v", err)
	}
}

func TestWarehouseConfig_Roles(t *testing.T) {
	t.Parallel()

	env := envMap(map[string]string{
		"PG_HOST":     "dw.internal",
		"PG_DB":       "analytics",
		"PG_USER":     "etl",
		"PG_PASSWORD": "p@ss word",
		"IM_HOST":     "im.internal",
		"IM_DATABASE": "imanager",
		"IM_USER":     "reader",
		"IM_PORT":     "1434",
	})

	p := Pipeline{Schema: "controladoria", Warehouse: Warehouse{Kind: "postgresql", Role: "dw", Params: "application_name=factload"}}
	cfg, err := p.WarehouseConfig(env)
	if err != nil {
		t.Fatalf("dw: %v", err)
	}
	if cfg.Kind != "postgres" {
		t.Fatalf("kind = %q", cfg.Kind)
	}
	u, err := url.Parse(cfg.DSN)
	if err != nil {
		t.Fatalf("parse dsn %q: %v", cfg.DSN, err)
	}
	if u.Host != "dw.internal:5432" || u.Path != "/analytics" {
		t.Errorf("host/path = %s %s", u.Host, u.Path)
	}
	if pw, _ := u.User.Password(); pw != "p@ss word" || u.User.Username() != "etl" {
		t.Errorf("user = %v", u.User)
	}
	q := u.Query()
	if q.Get("options") != "-c search_path=controladoria" {
		t.Errorf("options = %q", q.Get("options"))
	}
	if q.Get("application_name") != "factload" {
		t.Errorf("application_name = %q", q.Get("application_name"))
	}

	m := Pipeline{Warehouse: Warehouse{Kind: "mssql", Role: "imanager"}}
	cfg, err = m.WarehouseConfig(env)
	if err != nil {
		t.Fatalf("imanager: %v", err)
	}
	u, _ = url.Parse(cfg.DSN)
	if u.Scheme != "sqlserver" || u.Host != "im.internal:1434" || u.Query().Get("database") != "imanager" {
		t.Errorf("mssql dsn = %s", cfg.DSN)
	}
}

func TestWarehouseConfig_DSN(t *testing.T) {
	t.Parallel()

	env := envMap(map[string]string{"DW_PASS": "s3cret", "DATA": "/var/lib/factload"})

	cases := []struct {
		name string
		w    Warehouse
		want string
	}{
		{"expanded", Warehouse{Kind: "postgres", DSN: "postgres://etl:${DW_PASS}@db/dw"}, "postgres://etl:s3cret@db/dw"},
		{"explicit wins over role", Warehouse{Kind: "postgres", Role: "dw", DSN: "postgres://x@y/z"}, "postgres://x@y/z"},
		{"sqlite path", Warehouse{Kind: "sqlite", DSN: "$DATA/dw.db"}, "file:/var/lib/factload/dw.db"},
		{"sqlite params", Warehouse{Kind: "sqlite", DSN: "dw.db", Params: "_pragma=foreign_keys(1)"}, "file:dw.db?_pragma=foreign_keys(1)"},
		{"sqlite dsn kept", Warehouse{Kind: "sqlite", DSN: "file:dw.db?mode=ro"}, "file:dw.db?mode=ro"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Pipeline{Warehouse: tc.w}.WarehouseConfig(env)
			if err != nil {
				t.Fatalf("WarehouseConfig: %v", err)
			}
			if cfg.DSN != tc.want {
				t.Fatalf("dsn = %q, want %q", cfg.DSN, tc.want)
			}
		})
	}
}

func TestWarehouseConfig_Errors(t *testing.T) {
	t.Parallel()

	env := envMap(map[string]string{"LOCAL_HOST": "localhost"})
	cases := map[string]Warehouse{
		"no kind":         {Role: "dw"},
		"unknown role":    {Kind: "postgres", Role: "crm"},
		"incomplete role": {Kind: "postgres", Role: "local"},
		"sqlite role":     {Kind: "sqlite", Role: "local"},
	}
	for name, w := range cases {
		if _, err := (Pipeline{Warehouse: w}).WarehouseConfig(env); !errors.Is(err, ErrInvalid) {
			t.Errorf("%s: err = %v, want ErrInvalid", name, err)
		}
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("FACTLOAD_TEST_HOST=dw.example\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FACTLOAD_TEST_HOST", "")
	os.Unsetenv("FACTLOAD_TEST_HOST")

	if err := LoadEnv(path, true); err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if got := os.Getenv("FACTLOAD_TEST_HOST"); got != "dw.example" {
		t.Fatalf("FACTLOAD_TEST_HOST = %q", got)
	}

	missing := filepath.Join(dir, "nope.env")
	if err := LoadEnv(missing, false); err != nil {
		t.Fatalf("optional missing file: %v", err)
	}
	if err := LoadEnv(missing, true); err == nil {
		t.Fatal("required missing file: expected error")
	}
}

func TestSamplePipelines(t *testing.T) {
	t.Parallel()

	paths, err := filepath.Glob(filepath.Join("..", "..", "configs", "pipelines", "*"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Skip("no sample pipelines")
	}
	for _, path := range paths {
		p, err := Load(path)
		if err != nil {
			t.Errorf("%s: %v", path, err)
			continue
		}
		p.ApplyDefaults(envMap(nil))
		if err := p.Validate(); err != nil {
			t.Errorf("%s: %v", path, err)
		}
	}
}
