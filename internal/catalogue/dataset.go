package catalogue

import (
	"context"
	"embed"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dvloznov/grocery-carbon/internal/domain"
	"github.com/dvloznov/grocery-carbon/internal/gcs"
)

//go:embed datasets/*.yaml
var builtins embed.FS

// Built-in dataset names.
const (
	Items      = "items"
	Categories = "categories"
)

// BuiltinPrefix selects a dataset shipped with the binary, e.g. "builtin:items".
const BuiltinPrefix = "builtin:"

// Dataset is the static name -> emission factor list a catalogue is built from.
// Entry order is significant: it decides similarity ties.
type Dataset struct {
	Name    string         `yaml:"name"`
	Unit    domain.Unit    `yaml:"unit"`
	Entries []DatasetEntry `yaml:"entries"`
}

// DatasetEntry is one category of a dataset.
type DatasetEntry struct {
	Name   string  `yaml:"name"`
	Factor float64 `yaml:"factor"`
}

// Names returns entry names in dataset order.
func (d *Dataset) Names() []string {
	out := make([]string, len(d.Entries))
	for i, e := range d.Entries {
		out[i] = e.Name
	}
	return out
}

// Validate checks the dataset can back a catalogue.
func (d *Dataset) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("dataset: missing name: %w", domain.ErrConfiguration)
	}
	switch d.Unit {
	case domain.UnitKilogram, domain.UnitCurrency:
	default:
		return fmt.Errorf("dataset %s: unknown unit %q: %w", d.Name, d.Unit, domain.ErrConfiguration)
	}
	if len(d.Entries) == 0 {
		return fmt.Errorf("dataset %s: no entries: %w", d.Name, domain.ErrConfiguration)
	}

	seen := make(map[string]bool, len(d.Entries))
	for _, e := range d.Entries {
		key := normalizeName(e.Name)
		if key == "" {
			return fmt.Errorf("dataset %s: entry with empty name: %w", d.Name, domain.ErrConfiguration)
		}
		if seen[key] {
			return fmt.Errorf("dataset %s: duplicate entry %q: %w", d.Name, e.Name, domain.ErrConfiguration)
		}
		seen[key] = true
		if math.IsNaN(e.Factor) || math.IsInf(e.Factor, 0) || e.Factor < 0 {
			return fmt.Errorf("dataset %s: entry %q has factor %v: %w", d.Name, e.Name, e.Factor, domain.ErrConfiguration)
		}
	}
	return nil
}

// ParseDataset decodes and validates a YAML dataset.
func ParseDataset(data []byte) (*Dataset, error) {
	var d Dataset
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("ParseDataset: decode yaml: %w", err)
	}
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("ParseDataset: %w", err)
	}
	return &d, nil
}

// Builtin returns a dataset shipped with the binary.
func Builtin(name string) (*Dataset, error) {
	data, err := builtins.ReadFile("datasets/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("Builtin: no dataset %q: %w", name, domain.ErrConfiguration)
	}
	return ParseDataset(data)
}

// LoadDataset resolves a dataset source: "builtin:<name>", a gs:// URI, or
// a local file path. storage may be nil when no gs:// source is used.
func LoadDataset(ctx context.Context, source string, storage gcs.StorageService) (*Dataset, error) {
	switch {
	case strings.HasPrefix(source, BuiltinPrefix):
		return Builtin(strings.TrimPrefix(source, BuiltinPrefix))
	case gcs.IsURI(source):
		if storage == nil {
			return nil, fmt.Errorf("LoadDataset: %s needs a storage service: %w", source, domain.ErrConfiguration)
		}
		data, err := storage.Fetch(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("LoadDataset: fetch %s: %w: %w", source, domain.ErrUpstreamUnavailable, err)
		}
		return ParseDataset(data)
	case source == "":
		return nil, fmt.Errorf("LoadDataset: empty source: %w", domain.ErrConfiguration)
	default:
		data, err := os.ReadFile(source)
		if err != nil {
			return nil, fmt.Errorf("LoadDataset: read %s: %w", source, err)
		}
		return ParseDataset(data)
	}
}

// Marshal encodes the dataset as YAML.
func (d *Dataset) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("Dataset.Marshal: %w", err)
	}
	return out, nil
}

// normalizeName folds case and whitespace for name lookups.
func normalizeName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
