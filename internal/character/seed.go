package character

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of a character seed file.
type seedFile struct {
	Characters []Character `yaml:"characters"`
}

// LoadSeedFile reads character profiles from a YAML file. Unknown keys are
// rejected and every profile is validated.
func LoadSeedFile(path string) ([]Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("character: read seed file %q: %w", path, err)
	}
	return LoadSeed(bytes.NewReader(data))
}

// LoadSeed decodes character profiles from r.
func LoadSeed(r io.Reader) ([]Character, error) {
	var f seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("character: decode seed: %w", err)
	}

	var errs []error
	seen := make(map[string]struct{})
	for i := range f.Characters {
		c := &f.Characters[i]
		if err := c.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("characters[%d]: %w", i, err))
		}
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("characters[%d]: seed characters need a stable id", i))
			continue
		}
		if _, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Errorf("characters[%d]: duplicate id %q", i, c.ID))
		}
		seen[c.ID] = struct{}{}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return f.Characters, nil
}

// Import upserts every character into s and returns the IDs written.
func Import(ctx context.Context, s Store, chars []Character) ([]string, error) {
	ids := make([]string, 0, len(chars))
	for i := range chars {
		if err := s.Upsert(ctx, &chars[i]); err != nil {
			return ids, fmt.Errorf("character: import %q: %w", chars[i].ID, err)
		}
		ids = append(ids, chars[i].ID)
	}
	return ids, nil
}
