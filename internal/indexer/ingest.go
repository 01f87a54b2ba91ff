package indexer

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adrg/frontmatter"

	"github.com/pyrite-go/kbsearch/internal/config"
	"github.com/pyrite-go/kbsearch/internal/store"
)

// EntryMeta holds the recognized frontmatter keys for an entry: id, title,
// type, date, tags, importance, status, actors, sources, summary,
// research_status. Arbitrary user keys are preserved by the source file
// itself; this engine only reads the keys it indexes.
type EntryMeta struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Type           string   `yaml:"type"`
	Date           string   `yaml:"date"`
	Tags           []string `yaml:"tags"`
	Importance     int      `yaml:"importance"`
	Status         string   `yaml:"status"`
	Actors         []string `yaml:"actors"`
	Sources        []string `yaml:"sources"`
	Summary        string   `yaml:"summary"`
	ResearchStatus string   `yaml:"research_status"`
}

// ParsedFile is a source file's frontmatter plus body, ready to become a
// store.Entry.
type ParsedFile struct {
	Meta EntryMeta
	Body string
}

// ParseFile parses a markdown file's YAML frontmatter and body.
func ParseFile(content string) ParsedFile {
	var meta EntryMeta
	body, err := frontmatter.Parse(strings.NewReader(content), &meta)
	if err != nil {
		return ParsedFile{Body: content}
	}
	return ParsedFile{Meta: meta, Body: string(body)}
}

// wikilinkRe matches "[[target]]" and "[[target|alias]]" inline references.
var wikilinkRe = regexp.MustCompile(`\[\[([^\]|]+)(?:\|([^\]]*))?\]\]`)

// ExtractLinks returns every wikilink found in body.
func ExtractLinks(body string) []store.Link {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	links := make([]store.Link, 0, len(matches))
	for _, m := range matches {
		links = append(links, store.Link{Target: strings.TrimSpace(m[1]), Alias: strings.TrimSpace(m[2])})
	}
	return links
}

// Attributor resolves the (createdBy, modifiedBy) user logins for a source
// file, e.g. via git blame. A nil Attributor leaves both fields empty.
type Attributor interface {
	Blame(path string) (createdBy, modifiedBy string)
}

// BuildEntry turns a parsed file into a store.Entry, addressed by (id,
// kbName). id falls back to the file's basename stem when the frontmatter
// omits it (frontmatter repair is expected to have already injected one,
// but ingestion tolerates bare files too).
func BuildEntry(kbName, filePath string, parsed ParsedFile, attr Attributor) store.Entry {
	id := strings.TrimSpace(parsed.Meta.ID)
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(filePath), ".md")
	}
	title := parsed.Meta.Title
	if title == "" {
		title = id
	}

	status := parsed.Meta.Status
	if status == "" {
		status = parsed.Meta.ResearchStatus
	}

	var createdBy, modifiedBy string
	if attr != nil {
		createdBy, modifiedBy = attr.Blame(filePath)
	}

	tags := append([]string{}, parsed.Meta.Tags...)
	sources := append([]string{}, parsed.Meta.Sources...)
	for _, a := range parsed.Meta.Actors {
		sources = append(sources, "actor:"+a)
	}

	return store.Entry{
		ID:         id,
		KBName:     kbName,
		EntryType:  parsed.Meta.Type,
		Title:      title,
		Summary:    parsed.Meta.Summary,
		Body:       parsed.Body,
		Date:       parsed.Meta.Date,
		Importance: parsed.Meta.Importance,
		Status:     status,
		FilePath:   filePath,
		CreatedBy:  createdBy,
		ModifiedBy: modifiedBy,
		Tags:       tags,
		Links:      ExtractLinks(parsed.Body),
		Sources:    sources,
	}
}

// Stats reports the outcome of a full KB ingest pass.
type Stats struct {
	TotalFiles int
	Indexed    int
	Errors     int
}

// ProgressFunc reports ingest progress; current is files processed so far.
type ProgressFunc func(current, total int, path string)

// WalkKB lists every markdown file under root that indexing should consider,
// honoring config.SkipDirs/SkipFiles (shared with the filesystem watcher).
func WalkKB(root string) []string {
	var files []string
	filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if config.SkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".md") && !config.SkipFiles[d.Name()] {
			files = append(files, path)
		}
		return nil
	})
	return files
}

// IngestFile parses and upserts a single file into kbName, returning the
// built entry's id so the caller can enqueue embedding work for it.
func IngestFile(db *store.DB, kbName, filePath string, attr Attributor) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	parsed := ParseFile(string(data))
	entry := BuildEntry(kbName, filePath, parsed, attr)
	if err := db.UpsertEntry(entry); err != nil {
		return "", err
	}
	return entry.ID, nil
}

// IngestKB walks rootPath and upserts every markdown file found under
// kbName. Individual file failures are counted, never abort the pass.
// onEntry, if non-nil, fires once per successfully ingested entry so the
// caller can enqueue embedding work without this package depending on the
// worker package.
func IngestKB(db *store.DB, kbName, rootPath string, attr Attributor, onEntry func(id string), progress ProgressFunc) (Stats, error) {
	files := WalkKB(rootPath)
	stats := Stats{TotalFiles: len(files)}

	for i, f := range files {
		id, err := IngestFile(db, kbName, f, attr)
		if err != nil {
			stats.Errors++
		} else {
			stats.Indexed++
			if onEntry != nil {
				onEntry(id)
			}
		}
		if progress != nil {
			progress(i+1, stats.TotalFiles, f)
		}
	}
	return stats, nil
}
