package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pbaille/jot/internal/domain"
)

const frontMatterDelimiter = "---"

type thoughtMeta struct {
	ID      string   `yaml:"id"`
	Type    string   `yaml:"type"`
	Title   string   `yaml:"title"`
	Created string   `yaml:"created"`
	Tags    []string `yaml:"tags,omitempty"`
	Project string   `yaml:"project,omitempty"`
	People  []string `yaml:"people,omitempty"`
}

type personMeta struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Created string `yaml:"created"`
}

// Documents mirrors long thoughts and person notes into markdown files.
type Documents struct {
	thoughtsDir string
	peopleDir   string
}

func NewDocuments(thoughtsDir, peopleDir string) *Documents {
	return &Documents{thoughtsDir: thoughtsDir, peopleDir: peopleDir}
}

// WriteThought writes thoughts/<id>-<slug>.md and returns its path.
func (d *Documents) WriteThought(e *domain.Entry) (string, error) {
	slug := domain.Slugify(e.Title)
	if slug == "" {
		slug = "untitled"
	}
	path := filepath.Join(d.thoughtsDir, fmt.Sprintf("%s-%s.md", e.ID, slug))

	meta := thoughtMeta{
		ID:      e.ID,
		Type:    string(e.Type),
		Title:   e.Title,
		Created: e.CreatedAt.UTC().Format(time.RFC3339),
		Tags:    e.Tags,
		Project: e.Project,
		People:  e.People,
	}
	raw, err := serialize(&meta, e.Body)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, raw); err != nil {
		return "", err
	}
	return path, nil
}

// AppendPerson adds a dated section to people/<slug>.md, creating the file
// with front matter on first mention.
func (d *Documents) AppendPerson(e *domain.Entry, at time.Time) (string, error) {
	slug, name := personSlug(e)
	path := filepath.Join(d.peopleDir, slug+".md")
	day := at.UTC().Format("2006-01-02")

	note := e.Body
	if note == "" {
		note = e.RawInput
	}

	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", fmt.Errorf("open person document: %w", err)
		}
		defer f.Close()
		if _, err := fmt.Fprintf(f, "\n## %s\n\n%s\n", day, note); err != nil {
			return "", fmt.Errorf("append person document: %w", err)
		}
		return path, f.Sync()
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat person document: %w", err)
	}

	meta := personMeta{ID: slug, Name: name, Created: day}
	raw, err := serialize(&meta, fmt.Sprintf("## %s\n\n%s\n", day, note))
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, raw); err != nil {
		return "", err
	}
	return path, nil
}

// personSlug picks the document for a person entry: the first referenced
// person, else the title.
func personSlug(e *domain.Entry) (slug, name string) {
	if len(e.People) > 0 {
		if slug = domain.Slugify(e.People[0]); slug != "" {
			return slug, domain.NameFromSlug(slug)
		}
	}
	if slug = domain.Slugify(e.Title); slug != "" {
		return slug, e.Title
	}
	return "unknown", "Unknown"
}

func serialize(meta any, body string) ([]byte, error) {
	yamlBytes, err := yaml.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("serialize front matter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(yamlBytes)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	sb.WriteString(body)
	return []byte(sb.String()), nil
}

// parseFrontMatter splits a document into its decoded front matter and body.
func parseFrontMatter(raw []byte, meta any) (string, error) {
	s := string(raw)
	if !strings.HasPrefix(s, frontMatterDelimiter) {
		return "", fmt.Errorf("missing front matter delimiter")
	}
	rest := s[len(frontMatterDelimiter):]
	idx := strings.Index(rest, "\n"+frontMatterDelimiter)
	if idx == -1 {
		return "", fmt.Errorf("unclosed front matter block")
	}
	if err := yaml.Unmarshal([]byte(rest[:idx]), meta); err != nil {
		return "", fmt.Errorf("parse front matter: %w", err)
	}
	body := rest[idx+len("\n"+frontMatterDelimiter):]
	return strings.TrimPrefix(strings.TrimPrefix(body, "\n"), "\n"), nil
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename document: %w", err)
	}
	return nil
}
