// Package catalog holds the ordered question sequence and the folder rules
// served by the reference backend.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/docket/pkg/domain"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultFolder is used when the catalog does not name one.
const DefaultFolder = "/Documentos/Otros"

// ErrUnknownQuestion is returned for a question id that is not in the catalog.
var ErrUnknownQuestion = errors.New("unknown question")

// Catalog is an immutable question sequence.
type Catalog struct {
	Questions     []domain.Question `yaml:"questions"`
	Folders       map[string]string `yaml:"folders"`
	DefaultFolder string            `yaml:"default_folder"`

	index map[string]int
}

// Default returns the built-in catalog (document type, client, date).
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: invalid default catalog: %v", err))
	}
	return c
}

// Load reads a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and checks a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Questions) == 0 {
		return nil, errors.New("catalog has no questions")
	}

	c.index = make(map[string]int, len(c.Questions))
	for i, q := range c.Questions {
		if strings.TrimSpace(q.ID) == "" {
			return nil, fmt.Errorf("question %d has no id", i)
		}
		if _, dup := c.index[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		c.index[q.ID] = i
	}

	folders := make(map[string]string, len(c.Folders))
	for k, v := range c.Folders {
		folders[FoldKey(k)] = v
	}
	c.Folders = folders
	if c.DefaultFolder == "" {
		c.DefaultFolder = DefaultFolder
	}
	return &c, nil
}

// First returns the opening question.
func (c *Catalog) First() domain.Question {
	return c.Questions[0].Clone()
}

// Get returns the question with the given id.
func (c *Catalog) Get(id string) (domain.Question, error) {
	i, ok := c.index[id]
	if !ok {
		return domain.Question{}, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	return c.Questions[i].Clone(), nil
}

// Next returns the question after id, or nil when id is the last one.
func (c *Catalog) Next(id string) (*domain.Question, error) {
	i, ok := c.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	if i+1 >= len(c.Questions) {
		return nil, nil
	}
	q := c.Questions[i+1].Clone()
	return &q, nil
}

// IDs lists the question ids in order.
func (c *Catalog) IDs() []string {
	ids := make([]string, len(c.Questions))
	for i, q := range c.Questions {
		ids[i] = q.ID
	}
	return ids
}

// FolderFor maps a document type to its destination folder.
func (c *Catalog) FolderFor(docType string) string {
	if folder, ok := c.Folders[FoldKey(docType)]; ok {
		return folder
	}
	return c.DefaultFolder
}
