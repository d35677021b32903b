package seed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inspectio/finding-overrides/pkg/findings"
	"github.com/inspectio/finding-overrides/pkg/priority"
)

const testCatalogYAML = `
default_lang: en
findings:
  - finding_id: ROOF-001
    title: Damaged roof covering
    category: roof
    tags: [exterior, water-entry]
    legacy_priority: URGENT
    dimensions:
      safety_class: MODERATE
      severity: 3
      likelihood: 4
      budget_low: 800
      budget_high: 2500
      priority: URGENT
    messages:
      en:
        title: Damaged roof covering
        observed_conditions:
          - Slipped tiles on the rear slope
        recommended_action: Have a roofer replace the slipped tiles.
      FR:
        title: Couverture endommagée
  - finding_id: ELEC-004
    title: No RCD protection
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(testCatalogYAML), "")
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, []string{"ELEC-004", "ROOF-001"}, c.IDs())
	assert.Equal(t, "en", c.DefaultLang())

	def, ok := c.Get("ROOF-001")
	require.True(t, ok)
	assert.Equal(t, "roof", def.Category)
	require.NotNil(t, def.Dimensions.Priority)
	assert.Equal(t, priority.Urgent, *def.Dimensions.Priority)
	require.NotNil(t, def.LegacyPriority)
	assert.Equal(t, priority.Urgent, *def.LegacyPriority)
	assert.Nil(t, def.Dimensions.UrgencyClass)

	_, ok = c.Get("MISSING")
	assert.False(t, ok)
}

func TestSeedMessagesFallsBackToDefaultLang(t *testing.T) {
	c, err := Parse([]byte(testCatalogYAML), "")
	require.NoError(t, err)
	def, _ := c.Get("ROOF-001")

	fr, ok := SeedMessages(c, def, "fr")
	require.True(t, ok)
	assert.Equal(t, "Couverture endommagée", fr.Title)

	de, ok := SeedMessages(c, def, "de")
	require.True(t, ok)
	assert.Equal(t, "Damaged roof covering", de.Title)
	assert.Equal(t, findings.StringList{"Slipped tiles on the rear slope"}, de.ObservedConditions)

	elec, _ := c.Get("ELEC-004")
	_, ok = SeedMessages(c, elec, "en")
	assert.False(t, ok)
}

func TestParseRejectsBadCatalogs(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "findings:\n  - finding_id: A\n    colour: red\n"},
		{"missing id", "findings:\n  - title: nameless\n"},
		{"duplicate id", "findings:\n  - finding_id: A\n  - finding_id: A\n"},
		{"bad severity", "findings:\n  - finding_id: A\n    dimensions:\n      severity: 9\n"},
		{"bad legacy priority", "findings:\n  - finding_id: A\n    legacy_priority: LATER\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "en")
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testCatalogYAML), 0o600))

	c, err := Load(path, "en")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), "en")
	assert.Error(t, err)
}

func TestLoadExampleSeed(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "..", "config", "seed.yaml"), "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"EL-07", "HR-01", "RF-12"}, c.IDs())

	hr, ok := c.Get("HR-01")
	require.True(t, ok)
	assert.Equal(t, priority.Urgent, *hr.LegacyPriority)
	assert.Len(t, hr.Messages["en"].ObservedConditions, 2)
	assert.NoError(t, hr.Dimensions.Validate())
}
