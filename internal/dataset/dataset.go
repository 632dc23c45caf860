// Package dataset holds the closed catalog of tenant datasets. Each dataset
// carries its schema, intents and table allowlist; the system prompt and the
// SQL guard inputs are both derived from it.
package dataset

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

type ID string

const (
	TechTuk ID = "TechTuk"
	Novotel ID = "Novotel"
	PVRINOX ID = "PVRINOX"
)

// Default is used when a request names no dataset.
const Default = TechTuk

var knownIDs = []ID{TechTuk, Novotel, PVRINOX}

type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

type Table struct {
	Name    string   `yaml:"name" json:"name"`
	Aliases []string `yaml:"aliases" json:"-"`
	Columns []Column `yaml:"columns" json:"columns"`
}

type Intent struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	SQL         string `yaml:"sql" json:"-"`
	NoQuery     bool   `yaml:"no_query" json:"-"`
}

type Dataset struct {
	ID              ID       `yaml:"id" json:"id"`
	Title           string   `yaml:"title" json:"title"`
	Domain          string   `yaml:"domain" json:"-"`
	Description     string   `yaml:"description" json:"description"`
	SampleQuestions []string `yaml:"sample_questions" json:"sample_questions"`
	Tables          []Table  `yaml:"tables" json:"tables"`
	Intents         []Intent `yaml:"intents" json:"intents"`
}

// Allowlist returns the table names SQL for this dataset may reference.
func (d Dataset) Allowlist() []string {
	names := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Aliases maps every declared singular alias to its table name.
func (d Dataset) Aliases() map[string]string {
	aliases := map[string]string{}
	for _, table := range d.Tables {
		for _, alias := range table.Aliases {
			aliases[alias] = table.Name
		}
	}
	return aliases
}

// IsNoQueryIntent reports whether intent is declared as needing no query.
func (d Dataset) IsNoQueryIntent(intent string) bool {
	intent = strings.TrimSpace(intent)
	for _, candidate := range d.Intents {
		if candidate.NoQuery && strings.EqualFold(candidate.Name, intent) {
			return true
		}
	}
	return false
}

type catalogFile struct {
	Datasets []Dataset `yaml:"datasets"`
}

//go:embed catalog.yaml
var catalogYAML []byte

var (
	catalog = mustLoadCatalog(catalogYAML)
	prompts = renderPrompts(catalog)
)

// All returns every dataset in catalog order.
func All() []Dataset {
	out := make([]Dataset, 0, len(knownIDs))
	for _, id := range knownIDs {
		out = append(out, catalog[id])
	}
	return out
}

func Lookup(id ID) (Dataset, bool) {
	d, ok := catalog[id]
	return d, ok
}

// ParseID resolves a client-supplied dataset name case-insensitively. An
// empty value resolves to Default.
func ParseID(raw string) (ID, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Default, true
	}
	for _, id := range knownIDs {
		if strings.EqualFold(string(id), raw) {
			return id, true
		}
	}
	return "", false
}

func mustLoadCatalog(raw []byte) map[ID]Dataset {
	datasets, err := loadCatalog(raw)
	if err != nil {
		panic(err)
	}
	return datasets
}

func loadCatalog(raw []byte) (map[ID]Dataset, error) {
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode dataset catalog: %w", err)
	}

	known := make(map[ID]struct{}, len(knownIDs))
	for _, id := range knownIDs {
		known[id] = struct{}{}
	}

	out := make(map[ID]Dataset, len(file.Datasets))
	for _, d := range file.Datasets {
		if _, ok := known[d.ID]; !ok {
			return nil, fmt.Errorf("dataset catalog: unknown dataset id %q", d.ID)
		}
		if _, dup := out[d.ID]; dup {
			return nil, fmt.Errorf("dataset catalog: duplicate dataset id %q", d.ID)
		}
		if len(d.Tables) == 0 {
			return nil, fmt.Errorf("dataset catalog: dataset %q declares no tables", d.ID)
		}
		if len(d.Intents) == 0 {
			return nil, fmt.Errorf("dataset catalog: dataset %q declares no intents", d.ID)
		}
		out[d.ID] = d
	}
	for _, id := range knownIDs {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("dataset catalog: missing dataset %q", id)
		}
	}
	return out, nil
}
