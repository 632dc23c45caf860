package dataset

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCatalogDeclaresEveryDataset(t *testing.T) {
	all := All()
	if len(all) != 3 {
		t.Fatalf("len(All()) = %d, want 3", len(all))
	}
	for _, id := range []ID{TechTuk, Novotel, PVRINOX} {
		d, ok := Lookup(id)
		if !ok {
			t.Fatalf("Lookup(%q) missing", id)
		}
		if d.ID != id {
			t.Fatalf("Lookup(%q).ID = %q", id, d.ID)
		}
	}
}

func TestTechTukAllowlistAndAliases(t *testing.T) {
	d, _ := Lookup(TechTuk)
	if diff := cmp.Diff([]string{"Products", "Suppliers", "Orders"}, d.Allowlist()); diff != "" {
		t.Fatalf("Allowlist() mismatch (-want +got):\n%s", diff)
	}
	want := map[string]string{"Product": "Products", "Supplier": "Suppliers", "Order": "Orders"}
	if diff := cmp.Diff(want, d.Aliases()); diff != "" {
		t.Fatalf("Aliases() mismatch (-want +got):\n%s", diff)
	}
}

func TestPromptListsEveryAllowlistedTable(t *testing.T) {
	for _, d := range All() {
		prompt := Prompt(d.ID)
		if prompt == UnknownPrompt {
			t.Fatalf("Prompt(%q) = UnknownPrompt", d.ID)
		}
		for _, table := range d.Allowlist() {
			if !strings.Contains(prompt, "- "+table+"(") {
				t.Fatalf("Prompt(%q) does not describe table %s", d.ID, table)
			}
		}
		for _, intent := range d.Intents {
			if !strings.Contains(prompt, intent.Name) {
				t.Fatalf("Prompt(%q) does not list intent %s", d.ID, intent.Name)
			}
		}
		for _, emotion := range Emotions {
			if !strings.Contains(prompt, emotion) {
				t.Fatalf("Prompt(%q) does not list emotion %s", d.ID, emotion)
			}
		}
		if !strings.Contains(prompt, `"intent"`) || !strings.Contains(prompt, `"reply"`) {
			t.Fatalf("Prompt(%q) missing output contract", d.ID)
		}
	}
}

func TestPromptUnknownDataset(t *testing.T) {
	if got := Prompt("Acme"); got != UnknownPrompt {
		t.Fatalf("Prompt(Acme) = %q, want UnknownPrompt", got)
	}
}

func TestPromptIsStable(t *testing.T) {
	if Prompt(Novotel) != Prompt(Novotel) {
		t.Fatalf("Prompt(Novotel) not deterministic")
	}
}

func TestParseID(t *testing.T) {
	cases := []struct {
		raw  string
		want ID
		ok   bool
	}{
		{raw: "", want: TechTuk, ok: true},
		{raw: "techtuk", want: TechTuk, ok: true},
		{raw: " Novotel ", want: Novotel, ok: true},
		{raw: "pvrinox", want: PVRINOX, ok: true},
		{raw: "Acme", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseID(tc.raw)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseID(%q) = (%q,%v), want (%q,%v)", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestIsNoQueryIntent(t *testing.T) {
	d, _ := Lookup(PVRINOX)
	if !d.IsNoQueryIntent("unknown") {
		t.Fatalf("IsNoQueryIntent(unknown) = false")
	}
	if d.IsNoQueryIntent("TOP_MOVIES") {
		t.Fatalf("IsNoQueryIntent(TOP_MOVIES) = true")
	}
}

func TestLoadCatalogRejectsInvalidDocuments(t *testing.T) {
	cases := map[string]string{
		"unknown id": `datasets:
  - id: Acme
    tables: [{name: Widgets}]
    intents: [{name: UNKNOWN}]
`,
		"missing dataset": `datasets:
  - id: TechTuk
    tables: [{name: Products}]
    intents: [{name: UNKNOWN}]
`,
		"no tables": `datasets:
  - id: TechTuk
    intents: [{name: UNKNOWN}]
`,
		"malformed": "datasets: [",
	}
	for name, raw := range cases {
		if _, err := loadCatalog([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestMustLoadCatalogPanicsOnInvalidDocument(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	mustLoadCatalog([]byte("datasets: []"))
}
