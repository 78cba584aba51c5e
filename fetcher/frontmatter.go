package fetcher

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"blogdash/models"
)

// ErrNoFrontMatter is returned for post files without a --- delimited header
var ErrNoFrontMatter = errors.New("no front matter")

// FrontMatter is the header of a post file
type FrontMatter struct {
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Authors     stringList `yaml:"authors"`
	TumblrURL   string     `yaml:"tumblr_url"`
}

// stringList accepts either a single scalar or a sequence of scalars
type stringList []string

func (l *stringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" || strings.TrimSpace(value.Value) == "" {
			*l = nil
			return nil
		}
		*l = stringList{strings.TrimSpace(value.Value)}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		out := make(stringList, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("authors: unexpected YAML node kind %d", value.Kind)
	}
}

// ParseFrontMatter decodes the YAML between the first two --- lines of a
// post file. Tabs are not valid YAML indentation and are read as spaces.
func ParseFrontMatter(raw []byte) (FrontMatter, error) {
	var fm FrontMatter
	parts := strings.SplitN(string(raw), "---", 3)
	if len(parts) < 2 {
		return fm, ErrNoFrontMatter
	}

	header := strings.ReplaceAll(parts[1], "\t", " ")
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return fm, fmt.Errorf("invalid front matter: %w", err)
	}
	fm.Title = strings.TrimSpace(fm.Title)
	fm.Description = strings.TrimSpace(fm.Description)
	fm.TumblrURL = strings.TrimSpace(fm.TumblrURL)
	return fm, nil
}

// ParseRosterFile decodes the roster YAML document: a map of username to
// that member's fields
func ParseRosterFile(raw []byte) ([]models.RosterRecord, error) {
	var doc map[string]map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid roster: %w", err)
	}
	return models.ParseRoster(doc), nil
}
