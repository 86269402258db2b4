// Package content loads seed packs: authored seed templates plus the
// catalog of named effects their cascades refer to. Packs are JSON or YAML
// and are checked against an embedded JSON schema before decoding.
package content

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/situation"
)

//go:embed schema/pack.schema.json
var packSchema []byte

const schemaURL = "pack.schema.json"

// Pack is one decoded content file
type Pack struct {
	Name    string
	Source  string
	Seeds   []situation.SeedTemplate
	Effects []situation.EffectSpec
	// Rejected holds one error per seed that failed validation. The rest
	// of the pack is still usable.
	Rejected []error
}

type rawPack struct {
	Name    string                 `json:"name"`
	Seeds   []json.RawMessage      `json:"seeds"`
	Effects []situation.EffectSpec `json:"effects"`
}

// Loader validates and decodes packs
type Loader struct {
	pack   *jsonschema.Schema
	seed   *jsonschema.Schema
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, bytes.NewReader(packSchema)); err != nil {
		return nil, fmt.Errorf("failed to add pack schema: %w", err)
	}
	pack, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile pack schema: %w", err)
	}
	seed, err := c.Compile(schemaURL + "#/$defs/seed")
	if err != nil {
		return nil, fmt.Errorf("failed to compile seed schema: %w", err)
	}
	return &Loader{pack: pack, seed: seed, logger: logger}, nil
}

// IsPackFile reports whether path has an extension the loader reads
func IsPackFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// Parse validates and decodes a pack. The format follows the extension of
// name; anything other than .yaml or .yml is read as JSON. A pack whose
// structure or effect catalog is invalid fails as a whole. Invalid seeds are
// collected in Rejected.
func (l *Loader) Parse(name string, data []byte) (*Pack, error) {
	doc, err := toJSON(name, data)
	if err != nil {
		return nil, err
	}

	var tree any
	if err := json.Unmarshal(doc, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	if err := l.pack.Validate(tree); err != nil {
		return nil, fmt.Errorf("invalid pack %s: %w", name, err)
	}

	var raw rawPack
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", name, err)
	}

	pack := &Pack{Name: raw.Name, Source: name, Effects: raw.Effects}
	if pack.Name == "" {
		pack.Name = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	}
	for i, msg := range raw.Seeds {
		seed, err := l.decodeSeed(msg)
		if err != nil {
			l.logger.Warn("Skipping invalid seed",
				"pack", pack.Name,
				"index", i,
				"error", err)
			pack.Rejected = append(pack.Rejected, fmt.Errorf("%s seed %d: %w", pack.Name, i, err))
			continue
		}
		pack.Seeds = append(pack.Seeds, seed)
	}

	l.logger.Debug("Parsed content pack",
		"pack", pack.Name,
		"seeds", len(pack.Seeds),
		"effects", len(pack.Effects),
		"rejected", len(pack.Rejected))
	return pack, nil
}

func (l *Loader) decodeSeed(msg json.RawMessage) (situation.SeedTemplate, error) {
	var seed situation.SeedTemplate
	var tree any
	if err := json.Unmarshal(msg, &tree); err != nil {
		return seed, situation.Wrap(situation.CodePredicateEval, "malformed seed", err)
	}
	if err := l.seed.Validate(tree); err != nil {
		return seed, situation.Wrap(situation.CodePredicateEval, "seed does not match schema", err)
	}
	if err := json.Unmarshal(msg, &seed); err != nil {
		return seed, situation.Wrap(situation.CodePredicateEval, "failed to decode seed", err)
	}
	if err := seed.Validate(); err != nil {
		return seed, err
	}
	return seed, nil
}

// LoadFile reads and parses one pack file
func (l *Loader) LoadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pack file: %w", err)
	}
	return l.Parse(path, data)
}

// LoadDir parses every pack file under dir in lexical path order
func (l *Loader) LoadDir(dir string) ([]*Pack, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsPackFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk content directory: %w", err)
	}

	packs := make([]*Pack, 0, len(paths))
	for _, path := range paths {
		pack, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	l.logger.Info("Loaded content packs", "dir", dir, "packs", len(packs))
	return packs, nil
}

// Register adds every pack's effects and seeds to reg in order, then checks
// cross references. It returns every problem found: rejected seeds from
// parsing, registration failures and dangling references. Seeds that pass
// stay registered.
func Register(reg *engine.Registry, packs ...*Pack) []error {
	var problems []error
	for _, p := range packs {
		problems = append(problems, p.Rejected...)
		for _, spec := range p.Effects {
			if err := reg.RegisterEffect(spec); err != nil {
				problems = append(problems, fmt.Errorf("%s: %w", p.Name, err))
			}
		}
	}
	for _, p := range packs {
		for _, err := range reg.Load(p.Seeds) {
			problems = append(problems, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return append(problems, reg.Verify()...)
}

func toJSON(name string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	doc, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to convert %s to JSON: %w", name, err)
	}
	return doc, nil
}
