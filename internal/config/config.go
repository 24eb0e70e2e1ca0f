// Package config loads a fact-load pipeline description and resolves it into
// the explicit values the engine and warehouse constructors take.
//
// A pipeline file is JSON or YAML (chosen by extension). Environment is only
// read here, through an injected lookup, so nothing downstream touches os.Getenv.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"factload/internal/schema"
	"factload/internal/staging"
)

const (
	DefaultReportLimit = 50
	DefaultSchema      = "controladoria"
)

// ErrInvalid marks every problem found in a pipeline file.
var ErrInvalid = errors.New("invalid pipeline config")

// Pipeline is the on-disk description of one fact load.
type Pipeline struct {
	Job string `json:"job" yaml:"job"`

	// FactType names a built-in fact type. Exactly one of FactType and Fact
	// must be set.
	FactType string           `json:"fact_type,omitempty" yaml:"fact_type,omitempty"`
	Fact     *schema.FactType `json:"fact,omitempty" yaml:"fact,omitempty"`

	// Schema is the warehouse schema holding the fact and dimension tables.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`

	Warehouse Warehouse      `json:"warehouse" yaml:"warehouse"`
	Staging   staging.Source `json:"staging" yaml:"staging"`
	Runtime   Runtime        `json:"runtime" yaml:"runtime"`
	Metrics   Metrics        `json:"metrics" yaml:"metrics"`
}

// Warehouse selects a backend and how to reach it.
type Warehouse struct {
	// Kind is a registered storage kind: postgres, mssql or sqlite.
	Kind string `json:"kind" yaml:"kind"`

	// Role names an env-backed connection (dw, imanager, gcp, local).
	Role string `json:"role,omitempty" yaml:"role,omitempty"`

	// DSN wins over Role. ${VAR} references are expanded.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`

	// Params are extra URL-encoded connection parameters, e.g.
	// "application_name=factload&connect_timeout=5".
	Params string `json:"params,omitempty" yaml:"params,omitempty"`
}

type Runtime struct {
	// BatchSize 0 leaves the choice to the engine: 5000 rows, reduced to
	// what the backend can bind in one statement.
	BatchSize   int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	CleanupDirs []string `json:"cleanup_dirs,omitempty" yaml:"cleanup_dirs,omitempty"`
	ReportLimit int      `json:"report_limit,omitempty" yaml:"report_limit,omitempty"`
}

type Metrics struct {
	// Backend is "none" or "datadog". Empty defers to METRICS_BACKEND.
	Backend string   `json:"backend,omitempty" yaml:"backend,omitempty"`
	JobName string   `json:"job_name,omitempty" yaml:"job_name,omitempty"`
	Tags    []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Load reads and decodes the pipeline at path. Unknown keys are rejected.
func Load(path string) (Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: %w", err)
	}
	p, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return Pipeline{}, fmt.Errorf("config %s: %w", path, err)
	}
	return p, nil
}

// Decode parses data as JSON or YAML according to ext (".json", ".yaml", ".yml").
func Decode(data []byte, ext string) (Pipeline, error) {
	var p Pipeline
	switch strings.ToLower(ext) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("%w: decode json: %v", ErrInvalid, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil {
			return Pipeline{}, fmt.Errorf("%w: decode yaml: %v", ErrInvalid, err)
		}
	default:
		return Pipeline{}, fmt.Errorf("%w: unsupported config extension %q", ErrInvalid, ext)
	}
	return p, nil
}

// ApplyDefaults fills unset fields. getenv supplies PG_SCHEMA for Schema.
// Runtime.BatchSize stays 0 when unset.
func (p *Pipeline) ApplyDefaults(getenv func(string) string) {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	if strings.TrimSpace(p.Schema) == "" {
		p.Schema = strings.TrimSpace(getenv("PG_SCHEMA"))
	}
	if p.Schema == "" {
		p.Schema = DefaultSchema
	}
	if p.Runtime.ReportLimit == 0 {
		p.Runtime.ReportLimit = DefaultReportLimit
	}
	if p.Job == "" {
		p.Job = p.FactType
		if p.Job == "" && p.Fact != nil {
			p.Job = p.Fact.Name
		}
	}
	if p.Metrics.JobName == "" {
		p.Metrics.JobName = p.Job
	}
}

// FactSchema returns the fact type the pipeline loads: the built-in named by
// FactType, or the inline Fact declaration.
func (p Pipeline) FactSchema() (schema.FactType, error) {
	switch {
	case p.FactType != "" && p.Fact != nil:
		return schema.FactType{}, fmt.Errorf("%w: fact_type and fact are mutually exclusive", ErrInvalid)
	case p.FactType != "":
		ft, err := schema.Builtin(p.FactType)
		if err != nil {
			return schema.FactType{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		return ft, nil
	case p.Fact != nil:
		if err := p.Fact.Validate(); err != nil {
			return schema.FactType{}, fmt.Errorf("%w: fact: %v", ErrInvalid, err)
		}
		return *p.Fact, nil
	default:
		return schema.FactType{}, fmt.Errorf("%w: one of fact_type or fact is required", ErrInvalid)
	}
}

// Validate reports structural problems that do not need a warehouse.
// All problems are joined into one error wrapping ErrInvalid.
func (p Pipeline) Validate() error {
	var problems []string
	if _, err := p.FactSchema(); err != nil {
		problems = append(problems, strings.TrimPrefix(err.Error(), ErrInvalid.Error()+": "))
	}
	if strings.TrimSpace(p.Warehouse.Kind) == "" {
		problems = append(problems, "warehouse.kind is required")
	}
	if p.Warehouse.DSN == "" && p.Warehouse.Role == "" {
		problems = append(problems, "warehouse needs a dsn or a role")
	}
	if strings.TrimSpace(p.Staging.Path) == "" {
		problems = append(problems, "staging.path is required")
	}
	if p.Runtime.BatchSize < 0 {
		problems = append(problems, fmt.Sprintf("runtime.batch_size must be positive, got %d", p.Runtime.BatchSize))
	}
	if p.Runtime.ReportLimit < 0 {
		problems = append(problems, fmt.Sprintf("runtime.report_limit must be positive, got %d", p.Runtime.ReportLimit))
	}
	switch strings.ToLower(p.Metrics.Backend) {
	case "", "none", "datadog":
	default:
		problems = append(problems, fmt.Sprintf("metrics.backend %q is not one of none, datadog", p.Metrics.Backend))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
}
