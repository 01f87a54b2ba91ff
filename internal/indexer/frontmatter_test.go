package indexer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInjectID(t *testing.T) {
	content := "---\ntitle: Powell Lewis\n---\nbody text\n"
	out, injected := InjectID(content, "powell-lewis")
	if !injected {
		t.Fatal("expected injection")
	}
	if !strings.HasPrefix(out, "---\nid: powell-lewis\ntitle: Powell Lewis\n---\n") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestInjectID_AlreadyPresent(t *testing.T) {
	content := "---\nid: trump-donald\ntitle: Donald Trump\n---\nbody\n"
	out, injected := InjectID(content, "trump-donald")
	if injected {
		t.Fatal("expected no injection")
	}
	if out != content {
		t.Fatalf("content should be unchanged, got %q", out)
	}
}

func TestInjectID_NoFrontmatter(t *testing.T) {
	content := "just a body, no frontmatter\n"
	out, injected := InjectID(content, "stem")
	if injected || out != content {
		t.Fatal("expected no-op on files without a frontmatter block")
	}
}

func TestInjectIDs_Walk(t *testing.T) {
	dir := t.TempDir()
	os.MkdirAll(filepath.Join(dir, "actors"), 0o755)
	os.WriteFile(filepath.Join(dir, "actors", "powell-lewis.md"), []byte("---\ntitle: x\n---\nbody\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "trump-donald.md"), []byte("---\nid: trump-donald\n---\nbody\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "_index.md"), []byte("---\ntitle: skip me\n---\nbody\n"), 0o644)

	res, err := InjectIDs(dir)
	if err != nil {
		t.Fatalf("InjectIDs: %v", err)
	}
	if res.Injected != 1 {
		t.Fatalf("expected 1 injection, got %d", res.Injected)
	}
	if res.Unchanged != 1 {
		t.Fatalf("expected 1 unchanged (id already present), got %d", res.Unchanged)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "actors", "powell-lewis.md"))
	if !strings.Contains(string(data), "id: powell-lewis") {
		t.Fatalf("expected injected id, got %q", string(data))
	}

	skipped, _ := os.ReadFile(filepath.Join(dir, "_index.md"))
	if strings.Contains(string(skipped), "id:") {
		t.Fatal("_index.md should have been skipped")
	}
}

func TestStripWikilinkPrefixes(t *testing.T) {
	body := "See [[actors/powell-lewis]] and [[organizations/ALEC]]."
	out, n := StripWikilinkPrefixes(body)
	if n != 2 {
		t.Fatalf("expected 2 substitutions, got %d", n)
	}
	want := "See [[powell-lewis]] and [[ALEC]]."
	if out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestStripWikilinkPrefixes_WithAlias(t *testing.T) {
	body := "[[actors/powell-lewis|Lewis]]"
	out, n := StripWikilinkPrefixes(body)
	if n != 1 || out != "[[powell-lewis|Lewis]]" {
		t.Fatalf("got %q (n=%d)", out, n)
	}
}

func TestNormalizeResearchFrontmatter_EssayType(t *testing.T) {
	content := "---\nessay_type: mechanism\n---\nbody\n"
	out, changed := NormalizeResearchFrontmatter(content)
	if !changed {
		t.Fatal("expected change")
	}
	if !strings.Contains(out, "type: mechanism") || strings.Contains(out, "essay_type") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNormalizeResearchFrontmatter_EventDateNoExistingDate(t *testing.T) {
	content := "---\nevent_date: 2021-01-06\n---\nbody\n"
	out, changed := NormalizeResearchFrontmatter(content)
	if !changed {
		t.Fatal("expected change")
	}
	if !strings.Contains(out, "date: 2021-01-06") || strings.Contains(out, "event_date") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNormalizeResearchFrontmatter_EventDateWithExistingDate(t *testing.T) {
	content := "---\nevent_date: 2021-01-06\ndate: 2025-01-01\n---\nbody\n"
	out, _ := NormalizeResearchFrontmatter(content)
	if !strings.Contains(out, "event_date: 2021-01-06") || !strings.Contains(out, "date: 2025-01-01") {
		t.Fatalf("both keys should survive unchanged: %q", out)
	}
}

func TestNormalizeResearchFrontmatter_OrganizationType(t *testing.T) {
	content := "---\ntype: organization\n---\nbody\n"
	out, changed := NormalizeResearchFrontmatter(content)
	if !changed || !strings.Contains(out, "type: cascade_org") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestNormalizeResearchFrontmatter_StatusMap(t *testing.T) {
	cases := map[string]string{
		"active":        "in-progress",
		"in_progress":   "in-progress",
		"\"in_progress\"": "in-progress",
		"stub":          "stub",
	}
	for in, want := range cases {
		content := "---\nresearch_status: " + in + "\n---\nbody\n"
		out, _ := NormalizeResearchFrontmatter(content)
		if !strings.Contains(out, "research_status: "+want) {
			t.Errorf("input %q: got %q, want research_status: %q", in, out, want)
		}
	}
}

func TestNormalizeTimelineFrontmatter_AddsType(t *testing.T) {
	content := "---\ndate: \"2024-01-01\"\n---\nbody\n"
	out, changed := NormalizeTimelineFrontmatter(content)
	if !changed {
		t.Fatal("expected change")
	}
	if !strings.Contains(out, "type: timeline_event") {
		t.Fatalf("expected type injected: %q", out)
	}
	if strings.Contains(out, `date: "2024-01-01"`) {
		t.Fatalf("expected quotes stripped: %q", out)
	}
	if !strings.Contains(out, "date: 2024-01-01") {
		t.Fatalf("expected bare date: %q", out)
	}
}

func TestNormalizeTimelineFrontmatter_TypeAlreadyPresent(t *testing.T) {
	content := "---\ntype: timeline_event\ndate: 2024-01-01\n---\nbody\n"
	out, changed := NormalizeTimelineFrontmatter(content)
	if changed {
		t.Fatalf("expected no-op, got %q", out)
	}
}

func TestRepairVault(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "event.md"), []byte("---\nevent_date: 2021-01-06\n---\nSee [[actors/powell-lewis]].\n"), 0o644)

	stats, errs := RepairVault(dir, RepairResearch)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if stats.WikilinksRewired != 1 {
		t.Fatalf("expected 1 wikilink rewired, got %d", stats.WikilinksRewired)
	}
	if stats.FilesNormalized != 1 {
		t.Fatalf("expected 1 file normalized, got %d", stats.FilesNormalized)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "event.md"))
	if !strings.Contains(string(data), "date: 2021-01-06") {
		t.Fatalf("expected event_date renamed: %q", string(data))
	}
	if !strings.Contains(string(data), "[[powell-lewis]]") {
		t.Fatalf("expected wikilink rewritten: %q", string(data))
	}
}
