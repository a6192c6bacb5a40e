// Package category holds the lead category tree and reloads it when the
// backing file changes.
package category

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/leadbot/internal/heuristics"
)

// Category is one top-level lead category.
type Category struct {
	Name          string
	Keywords      []string
	Subcategories []Subcategory
}

type Subcategory struct {
	Name     string
	Keywords []string
}

// Snapshot is an immutable view of the catalog. Category order follows the
// source file, which decides which category wins a keyword hint.
type Snapshot struct {
	categories []Category
	index      map[string]int
	topStems   map[string]struct{}
	catTop     map[string]map[string]struct{}
	catAll     map[string][]string
}

// Parse decodes a catalog of the form
//
//	{"category": {"keywords": [...], "subcategories": {"sub": {"keywords": [...]}}}}
//
// JSON and YAML are both accepted.
func Parse(data []byte) (*Snapshot, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(root.Content) == 0 {
		return newSnapshot(nil), nil
	}
	top := root.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parsing catalog: top level must be a mapping")
	}

	var cats []Category
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		var entry struct {
			Keywords      []string  `yaml:"keywords"`
			Subcategories yaml.Node `yaml:"subcategories"`
		}
		if err := top.Content[i+1].Decode(&entry); err != nil {
			return nil, fmt.Errorf("parsing category %q: %w", name, err)
		}
		c := Category{Name: name, Keywords: entry.Keywords}
		subs := entry.Subcategories
		if subs.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(subs.Content); j += 2 {
				var sub struct {
					Keywords []string `yaml:"keywords"`
				}
				if err := subs.Content[j+1].Decode(&sub); err != nil {
					return nil, fmt.Errorf("parsing subcategory %q/%q: %w", name, subs.Content[j].Value, err)
				}
				c.Subcategories = append(c.Subcategories, Subcategory{Name: subs.Content[j].Value, Keywords: sub.Keywords})
			}
		}
		cats = append(cats, c)
	}
	return newSnapshot(cats), nil
}

// Load reads and parses the catalog at path.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

func newSnapshot(cats []Category) *Snapshot {
	s := &Snapshot{
		categories: cats,
		index:      make(map[string]int, len(cats)),
		catTop:     make(map[string]map[string]struct{}, len(cats)),
		catAll:     make(map[string][]string, len(cats)),
	}
	var allTop []string
	for i, c := range cats {
		s.index[c.Name] = i
		s.catTop[c.Name] = heuristics.TokenStems(c.Keywords)
		all := append([]string(nil), c.Keywords...)
		for _, sub := range c.Subcategories {
			all = append(all, sub.Keywords...)
		}
		s.catAll[c.Name] = all
		allTop = append(allTop, c.Keywords...)
	}
	s.topStems = heuristics.TokenStems(allTop)
	return s
}

// Names returns category names in file order.
func (s *Snapshot) Names() []string {
	out := make([]string, len(s.categories))
	for i, c := range s.categories {
		out[i] = c.Name
	}
	return out
}

// Len returns the number of categories.
func (s *Snapshot) Len() int { return len(s.categories) }

func (s *Snapshot) Has(category string) bool {
	_, ok := s.index[category]
	return ok
}

func (s *Snapshot) Get(category string) (Category, bool) {
	i, ok := s.index[category]
	if !ok {
		return Category{}, false
	}
	return s.categories[i], true
}

// HasSub reports whether sub is a subcategory of category.
func (s *Snapshot) HasSub(category, sub string) bool {
	c, ok := s.Get(category)
	if !ok {
		return false
	}
	for _, sc := range c.Subcategories {
		if sc.Name == sub {
			return true
		}
	}
	return false
}

// Keywords returns the category keywords together with every subcategory keyword.
func (s *Snapshot) Keywords(category string) []string {
	return s.catAll[category]
}

// SubKeywords returns the keywords of one subcategory.
func (s *Snapshot) SubKeywords(category, sub string) []string {
	c, ok := s.Get(category)
	if !ok {
		return nil
	}
	for _, sc := range c.Subcategories {
		if sc.Name == sub {
			return sc.Keywords
		}
	}
	return nil
}

// TopStems returns the stems of every top-level keyword across categories.
func (s *Snapshot) TopStems() map[string]struct{} { return s.topStems }

// CategoryTopStems returns the stems of one category's top-level keywords.
func (s *Snapshot) CategoryTopStems(category string) map[string]struct{} {
	return s.catTop[category]
}

// Hint returns the first category, in file order, with a keyword whose stem
// is among textStems.
func (s *Snapshot) Hint(textStems map[string]struct{}) string {
	for _, c := range s.categories {
		for _, kw := range s.catAll[c.Name] {
			if _, ok := textStems[heuristics.Stem(kw)]; ok {
				return c.Name
			}
		}
	}
	return ""
}

// SortedNames returns category names sorted alphabetically.
func (s *Snapshot) SortedNames() []string {
	names := s.Names()
	sort.Strings(names)
	return names
}
