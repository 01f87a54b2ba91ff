// Package indexer parses knowledge-base source files and repairs their
// frontmatter, then hands built entries to the store for upsertion.
package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// frontmatterRe anchors the leading "---\n...\n---\n" block every repair
// routine operates on. Files without a valid block at the start are left
// untouched.
var frontmatterRe = regexp.MustCompile(`(?s)\A---\n(.*?\n)---\n`)

// kvLineRe matches a flat "key: value" frontmatter line.
var kvLineRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*):[ \t]*(.*)$`)

// hasFrontmatterKey reports whether a raw frontmatter block (without the
// --- delimiters) declares the given key at the start of a line.
func hasFrontmatterKey(block, key string) bool {
	re := regexp.MustCompile(`(?m)^` + regexp.QuoteMeta(key) + `[ \t]*:`)
	return re.MatchString(block)
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// InjectID inserts "id: <stem>" as the first frontmatter line if the block
// exists and lacks an id key. Returns the (possibly unchanged) content and
// whether an injection happened.
func InjectID(content, stem string) (string, bool) {
	loc := frontmatterRe.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, false
	}
	block := content[loc[2]:loc[3]]
	if hasFrontmatterKey(block, "id") {
		return content, false
	}
	newBlock := "id: " + stem + "\n" + block
	return content[:loc[2]] + newBlock + content[loc[3]:], true
}

// InjectIDResult reports the outcome of an ID-injection pass over a vault.
type InjectIDResult struct {
	Injected   int
	Unchanged  int
	Collisions []string
}

// InjectIDs walks root in sorted path order and runs InjectID against every
// "*.md" file not starting with "_". Stem collisions (two files sharing a
// basename-without-extension) are logged in the result, never treated as
// fatal.
func InjectIDs(root string) (InjectIDResult, error) {
	var res InjectIDResult
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".md") && !strings.HasPrefix(d.Name(), "_") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	sort.Strings(files)

	seen := make(map[string]string, len(files))
	for _, p := range files {
		stem := strings.TrimSuffix(filepath.Base(p), ".md")
		if existing, ok := seen[stem]; ok {
			res.Collisions = append(res.Collisions, fmt.Sprintf("%s collides with %s (stem %q)", p, existing, stem))
		} else {
			seen[stem] = p
		}

		data, rerr := os.ReadFile(p)
		if rerr != nil {
			return res, fmt.Errorf("read %s: %w", p, rerr)
		}
		newContent, injected := InjectID(string(data), stem)
		if !injected {
			res.Unchanged++
			continue
		}
		if werr := os.WriteFile(p, []byte(newContent), 0o644); werr != nil {
			return res, fmt.Errorf("write %s: %w", p, werr)
		}
		res.Injected++
	}
	return res, nil
}

// wikilinkPrefixes are the domain-specific path prefixes stripped from
// wikilink targets.
var wikilinkPrefixes = []string{
	"actors", "organizations", "events", "themes", "scenes", "victims",
	"statistics", "mechanisms", "sources", "capture-lanes", "research-notes",
}

// StripWikilinkPrefixes rewrites "[[<prefix>/X]]" and "[[<prefix>/X|alias]]"
// to "[[X]]"/"[[X|alias]]" for the fixed prefix set, returning the rewritten
// body and the total substitution count.
func StripWikilinkPrefixes(body string) (string, int) {
	count := 0
	for _, prefix := range wikilinkPrefixes {
		re := regexp.MustCompile(`\[\[` + regexp.QuoteMeta(prefix) + `/([^\]|]+)(\|[^\]]*)?\]\]`)
		body = re.ReplaceAllStringFunc(body, func(m string) string {
			sub := re.FindStringSubmatch(m)
			count++
			alias := ""
			if len(sub) > 2 {
				alias = sub[2]
			}
			return "[[" + sub[1] + alias + "]]"
		})
	}
	return body, count
}

// researchStatusMap normalizes research_status values to the closed set.
var researchStatusMap = map[string]string{
	"stub":          "stub",
	"in-progress":   "in-progress",
	"in_progress":   "in-progress",
	"active":        "in-progress",
	"complete":      "complete",
	"comprehensive": "comprehensive",
}

// NormalizeResearchFrontmatter applies the research-vault key/value
// normalizations within the frontmatter block only: essay_type -> type;
// event_date -> date (only if no date key already exists); type:
// organization -> type: cascade_org; research_status normalized against
// the closed map with surrounding quotes stripped.
func NormalizeResearchFrontmatter(content string) (string, bool) {
	loc := frontmatterRe.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, false
	}
	block := content[loc[2]:loc[3]]
	hasDate := hasFrontmatterKey(block, "date")

	lines := strings.Split(block, "\n")
	changed := false
	for i, line := range lines {
		m := kvLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key, val := m[1], m[2]
		switch key {
		case "essay_type":
			lines[i] = "type: " + val
			changed = true
		case "event_date":
			if !hasDate {
				lines[i] = "date: " + val
				changed = true
			}
		case "type":
			if trimQuotes(val) == "organization" {
				lines[i] = "type: cascade_org"
				changed = true
			}
		case "research_status":
			raw := trimQuotes(val)
			if norm, ok := researchStatusMap[raw]; ok {
				if norm != val {
					lines[i] = "research_status: " + norm
					changed = true
				}
			}
		}
	}
	if !changed {
		return content, false
	}
	newBlock := strings.Join(lines, "\n")
	return content[:loc[2]] + newBlock + content[loc[3]:], true
}

// isoDateRe matches a value that starts with an ISO-8601 date (applied after
// surrounding quotes are stripped).
var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)

// NormalizeTimelineFrontmatter adds "type: timeline_event" if no type key is
// present, and strips quotes surrounding ISO-date "date:" values.
func NormalizeTimelineFrontmatter(content string) (string, bool) {
	loc := frontmatterRe.FindStringSubmatchIndex(content)
	if loc == nil {
		return content, false
	}
	block := content[loc[2]:loc[3]]
	changed := false
	if !hasFrontmatterKey(block, "type") {
		block = "type: timeline_event\n" + block
		changed = true
	}

	lines := strings.Split(block, "\n")
	for i, line := range lines {
		m := kvLineRe.FindStringSubmatch(line)
		if m == nil || m[1] != "date" {
			continue
		}
		stripped := trimQuotes(m[2])
		if isoDateRe.MatchString(stripped) && stripped != m[2] {
			lines[i] = "date: " + stripped
			changed = true
		}
	}
	if !changed {
		return content, false
	}
	newBlock := strings.Join(lines, "\n")
	return content[:loc[2]] + newBlock + content[loc[3]:], true
}

// RepairStats aggregates counts across a full repair pass over a vault, for
// CLI reporting by `same repair`.
type RepairStats struct {
	IDsInjected       int
	IDCollisions      []string
	WikilinksRewired  int
	FilesNormalized   int
}

// RepairKind selects which frontmatter normalization a repair pass applies,
// since the research- and timeline-vault rules are mutually specific to
// their KB type.
type RepairKind int

const (
	RepairResearch RepairKind = iota
	RepairTimeline
)

// RepairVault runs ID injection and wikilink-prefix stripping against every
// markdown file under root, plus the requested frontmatter normalization
// kind. Returns aggregate counts; individual file failures are collected,
// not fatal to the whole pass.
func RepairVault(root string, kind RepairKind) (RepairStats, []error) {
	var stats RepairStats
	var errs []error

	idRes, err := InjectIDs(root)
	if err != nil {
		errs = append(errs, err)
	}
	stats.IDsInjected = idRes.Injected
	stats.IDCollisions = idRes.Collisions

	walkErr := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			errs = append(errs, fmt.Errorf("read %s: %w", path, rerr))
			return nil
		}
		content := string(data)
		fileChanged := false

		newBody, n := StripWikilinkPrefixes(content)
		if n > 0 {
			stats.WikilinksRewired += n
			content = newBody
			fileChanged = true
		}

		var normalized string
		var didNormalize bool
		switch kind {
		case RepairTimeline:
			normalized, didNormalize = NormalizeTimelineFrontmatter(content)
		default:
			normalized, didNormalize = NormalizeResearchFrontmatter(content)
		}
		if didNormalize {
			content = normalized
			fileChanged = true
		}

		if fileChanged {
			if werr := os.WriteFile(path, []byte(content), 0o644); werr != nil {
				errs = append(errs, fmt.Errorf("write %s: %w", path, werr))
				return nil
			}
			stats.FilesNormalized++
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	return stats, errs
}
