package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jwebster45206/situation-engine/pkg/actor"
	"github.com/jwebster45206/situation-engine/pkg/content"
	"github.com/jwebster45206/situation-engine/pkg/engine"
	"github.com/jwebster45206/situation-engine/pkg/situation"
	"github.com/jwebster45206/situation-engine/pkg/storage"
)

func main() {
	pcsDir := flag.String("pcs", "", "also load every player character in this directory")
	vars := flag.String("vars", "", "world variables for a dry run, as name=value,name=value")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-pcs dir] [-vars k=v,...] <pack file or dir>...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	v := &PackValidator{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	if err := v.run(flag.Args(), *pcsDir, *vars); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Content is valid!")
}

// PackValidator checks content packs the way the engine loads them, plus
// naming rules the loader does not enforce
type PackValidator struct {
	errors []string
	logger *slog.Logger
}

func (v *PackValidator) run(paths []string, pcsDir, rawVars string) error {
	loader, err := content.NewLoader(v.logger)
	if err != nil {
		return err
	}

	var packs []*content.Pack
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if info.IsDir() {
			fmt.Printf("Validating directory %s...\n", path)
			dirPacks, err := loader.LoadDir(path)
			if err != nil {
				return err
			}
			for _, p := range dirPacks {
				v.validateFilename(p.Source)
			}
			packs = append(packs, dirPacks...)
			continue
		}

		fmt.Printf("Validating %s...\n", path)
		if !content.IsPackFile(path) {
			return fmt.Errorf("pack file must have a .json, .yaml or .yml extension: %s", filepath.Base(path))
		}
		v.validateFilename(path)
		p, err := loader.LoadFile(path)
		if err != nil {
			return err
		}
		packs = append(packs, p)
	}

	for _, p := range packs {
		v.validatePack(p)
	}

	reg := engine.NewRegistry(v.logger)
	for _, err := range content.Register(reg, packs...) {
		v.addError(err.Error())
	}

	if pcsDir != "" {
		roster, err := actor.LoadRoster(pcsDir, nil, v.logger)
		if err != nil {
			v.addError(err.Error())
		} else {
			fmt.Printf("Loaded %d player characters\n", roster.Len())
		}
	}

	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors:\n%s", strings.Join(v.errors, "\n"))
	}

	fmt.Printf("Registered %d seeds and %d named effects from %d packs\n", reg.Len(), len(reg.Effects()), len(packs))

	if rawVars != "" {
		return v.dryRun(reg, rawVars)
	}
	return nil
}

func (v *PackValidator) validateFilename(path string) {
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if !isValidFilename(name) {
		v.addError(fmt.Sprintf("pack filename '%s' should be lowercase snake_case (e.g., lost_keys.yaml)", base))
	}
}

func (v *PackValidator) validatePack(p *content.Pack) {
	for _, spec := range p.Effects {
		v.validateIDFormat(p.Name, "effect ID", spec.ID)
	}
	for _, seed := range p.Seeds {
		where := p.Name + "/" + seed.ID
		v.validateIDFormat(p.Name, "seed ID", seed.ID)
		for _, c := range seed.When {
			v.validateIDFormat(where, "variable", c.Var)
		}
		for ref := range seed.Clues {
			v.validateIDFormat(where, "clue", ref)
		}
		for _, b := range seed.Branches {
			v.validateIDFormat(where, "branch ID", b.ID)
			if len(b.Effects) == 0 {
				v.addError(fmt.Sprintf("%s: branch '%s' has no effects", where, b.ID))
			}
		}
		if seed.TimeSensitive && seed.Expiry <= 0 {
			v.addError(fmt.Sprintf("%s: time_sensitive seeds need an expiry", where))
		}
	}
}

// dryRun spawns against the given world to show what a fresh slot would hold
func (v *PackValidator) dryRun(reg *engine.Registry, rawVars string) error {
	vars := make(map[string]any)
	for _, pair := range strings.Split(rawVars, ",") {
		k, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			return fmt.Errorf("expected name=value, got %q", pair)
		}
		switch {
		case val == "true" || val == "false":
			vars[k] = val == "true"
		default:
			if n, err := strconv.ParseFloat(val, 64); err == nil {
				vars[k] = n
			} else {
				vars[k] = val
			}
		}
	}

	slot, journal, err := storage.NewSlot(reg, engine.DefaultConfig(), vars, situation.Time(0), v.logger)
	if err != nil {
		return err
	}
	fmt.Printf("Dry run spawned %d situations:\n", len(slot.Engine.Instances))
	for _, e := range journal {
		fmt.Printf("  [%s] %s %s\n", e.Time, e.Kind, e.SeedID)
	}
	return nil
}

func (v *PackValidator) validateIDFormat(where, fieldName, id string) {
	if id == "" {
		return
	}

	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s: %s '%s' should be lowercase snake_case", where, fieldName, id))
	}
}

func (v *PackValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}

func isValidFilename(name string) bool {
	// Allow 'x.' prefix for experimental packs
	name = strings.TrimPrefix(name, "x.")
	return validIDRegex.MatchString(name)
}
