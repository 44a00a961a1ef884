package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v2"

	"rental-crawler/models"
)

// Profiles is the search profile file: the searches to crawl and the saved
// user preferences to match against.
type Profiles struct {
	Searches    []models.SearchFilter         `json:"searches" yaml:"searches"`
	Preferences []models.UserSearchPreference `json:"preferences" yaml:"preferences"`
}

// Search returns the search with the given name.
func (p *Profiles) Search(name string) (models.SearchFilter, bool) {
	for _, s := range p.Searches {
		if s.Name == name {
			return s, true
		}
	}
	return models.SearchFilter{}, false
}

// LoadProfiles reads path and layers <name>.local.<ext> over it when present.
// YAML (.yaml, .yml) and JSON5 (.json, .json5) are accepted. It returns
// os.ErrNotExist when neither file exists.
func LoadProfiles(path string) (*Profiles, error) {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	prefix := strings.TrimSuffix(filepath.Base(path), ext)
	local := filepath.Join(dir, prefix+".local"+ext)

	var out Profiles
	found := false

	base, err := readProfiles(path)
	switch {
	case err == nil:
		out = *base
		found = true
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	override, err := readProfiles(local)
	switch {
	case err == nil:
		if err := mergo.Merge(&out, *override, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("profiles: merge %s: %w", local, err)
		}
		log.Printf("[config] Merged profile overrides from %s", local)
		found = true
	case !errors.Is(err, os.ErrNotExist):
		return nil, err
	}

	if !found {
		return nil, os.ErrNotExist
	}
	if err := out.validate(); err != nil {
		return nil, fmt.Errorf("profiles: %s: %w", path, err)
	}
	return &out, nil
}

func readProfiles(path string) (*Profiles, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Profiles
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	case ".json", ".json5":
		err = json5.Unmarshal(data, &p)
	default:
		return nil, fmt.Errorf("profiles: %s: unsupported extension", path)
	}
	if err != nil {
		return nil, fmt.Errorf("profiles: decode %s: %w", path, err)
	}
	return &p, nil
}

func (p *Profiles) validate() error {
	seen := map[string]bool{}
	for i, s := range p.Searches {
		if s.Name == "" || s.City == "" {
			return fmt.Errorf("search %d: name and city are required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("search %q defined twice", s.Name)
		}
		seen[s.Name] = true
	}
	for i, pref := range p.Preferences {
		if pref.ID == "" || pref.UserID == "" {
			return fmt.Errorf("preference %d: id and user_id are required", i)
		}
	}
	return nil
}
