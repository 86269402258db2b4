package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newValidator() *PackValidator {
	return &PackValidator{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestRun_ShippedContent(t *testing.T) {
	err := newValidator().run([]string{"../../data/packs"}, "../../data/pcs", "days_in_location=3,season=spring")
	assert.NoError(t, err)
}

func TestRun_ReportsNamingProblems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Bad-Pack.yaml")
	body := `name: bad
seeds:
  - id: bad_seed
    when:
      - {var: days, op: ge, value: 1}
    discovery_methods: [told]
    branches:
      - id: DoIt
        approach: diplomacy
        effects:
          - {scope: local, selector: gold, kind: var_delta, magnitude: 1}
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	err := newValidator().run([]string{path}, "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Bad-Pack.yaml")
	assert.Contains(t, err.Error(), "DoIt")
}

func TestRun_RejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	assert.Error(t, newValidator().run([]string{path}, "", ""))
}

func TestIsValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"lost_keys", true},
		{"a", true},
		{"gaol_break2", true},
		{"Lost_keys", false},
		{"lost-keys", false},
		{"trailing_", false},
		{"2fast", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, isValidID(tt.id))
		})
	}
	assert.True(t, isValidFilename("x.experimental_pack"))
}
