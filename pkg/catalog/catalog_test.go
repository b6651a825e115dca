package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/pushgate/pkg/errors"
)

const testCatalog = `
streams:
  - name: market_data
    description: level 1 quotes
    filter_keys: [symbol, venue]
  - name: order_updates
    permission: trade
    filter_keys: [account]
  - name: system
`

func TestParseAndAuthorize(t *testing.T) {
	c, err := Parse([]byte(testCatalog), true)
	require.NoError(t, err)

	tests := []struct {
		name   string
		topic  string
		perms  []string
		filter map[string]string
		code   string
	}{
		{name: "open stream", topic: "market_data"},
		{name: "allowed filter", topic: "market_data", filter: map[string]string{"symbol": "AAPL"}},
		{name: "unsupported filter", topic: "market_data", filter: map[string]string{"price": "1"}, code: errors.CodeValidation},
		{name: "missing permission", topic: "order_updates", perms: []string{"read"}, code: errors.CodeForbidden},
		{name: "with permission", topic: "order_updates", perms: []string{"read", "trade"}, filter: map[string]string{"account": "A1"}},
		{name: "any filter when unrestricted", topic: "system", filter: map[string]string{"anything": "x"}},
		{name: "unknown stream", topic: "secrets", code: errors.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Authorize(tt.topic, tt.perms, tt.filter)
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestNonStrictAllowsUnknown(t *testing.T) {
	c, err := Parse([]byte(testCatalog), false)
	require.NoError(t, err)
	assert.NoError(t, c.Authorize("anything", nil, map[string]string{"k": "v"}))
}

func TestInvalidCatalogs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "duplicate", doc: "streams:\n  - name: a\n  - name: a\n"},
		{name: "missing name", doc: "streams:\n  - permission: read\n"},
		{name: "unknown field", doc: "streams:\n  - name: a\n    perms: read\n"},
		{name: "broken yaml", doc: "streams: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), true)
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o644))

	c, err := Load(Config{Path: path, Strict: true})
	require.NoError(t, err)

	names := make([]string, 0)
	for _, s := range c.Streams() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"market_data", "order_updates", "system"}, names)

	s, ok := c.Lookup("order_updates")
	require.True(t, ok)
	assert.Equal(t, "trade", s.Permission)

	_, err = Load(Config{Path: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}
