package routes

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrNoRules is returned by LoadRules for a document without public_routes.
var ErrNoRules = errors.New("no public_routes declared")

// ruleFile is the YAML layout of an extra public routes file:
//
//	public_routes:
//	  - method: GET
//	    path: /users/:id
type ruleFile struct {
	PublicRoutes []Rule `yaml:"public_routes"`
}

// LoadRules parses public rules from YAML.
func LoadRules(r io.Reader) ([]Rule, error) {
	var doc ruleFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRules
		}
		return nil, fmt.Errorf("failed to parse public routes: %w", err)
	}
	if len(doc.PublicRoutes) == 0 {
		return nil, ErrNoRules
	}
	return doc.PublicRoutes, nil
}

// LoadRulesFile reads public rules from the YAML file at path.
func LoadRulesFile(path string) ([]Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open public routes file: %w", err)
	}
	defer f.Close()

	rules, err := LoadRules(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}
