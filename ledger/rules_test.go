package ledger_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supremekai52/neocrypt/ledger"
)

func ruleFields(quota int64) ledger.RuleFields {
	return ledger.RuleFields{
		GeohashPrefixes: []string{"tsj"},
		Seasons:         []ledger.SeasonWindow{{Start: "10-01", End: "12-31"}},
		QuotaPerSeason:  decimal.NewFromInt(quota),
	}
}

func TestRuleStore_UpsertAssignsFreshVersions(t *testing.T) {
	// GIVEN: A rule set upserted twice with the same identity key
	// THEN: Same identity, new version token each time, no history kept

	store := ledger.NewRuleStore()

	first, err := store.Upsert("ASHW", "jodhpur_rajasthan", ruleFields(1000))
	require.NoError(t, err)
	second, err := store.Upsert("ASHW", "jodhpur_rajasthan", ruleFields(500))
	require.NoError(t, err)

	assert.NotEqual(t, first.Version, second.Version)
	assert.Greater(t, second.Version, first.Version, "version tokens are monotonic")

	got, ok := store.Get("ASHW", "jodhpur_rajasthan")
	require.True(t, ok)
	assert.Equal(t, second.Version, got.Version, "last write wins")
	assert.True(t, got.QuotaPerSeason.Equal(decimal.NewFromInt(500)))
}

func TestRuleStore_GetFallsBackToSpeciesWide(t *testing.T) {
	store := ledger.NewRuleStore()

	_, err := store.Upsert("ASHW", "", ruleFields(100))
	require.NoError(t, err)
	_, err = store.Upsert("ASHW", "jodhpur_rajasthan", ruleFields(1000))
	require.NoError(t, err)

	regional, ok := store.Get("ASHW", "jodhpur_rajasthan")
	require.True(t, ok)
	assert.Equal(t, "jodhpur_rajasthan", regional.RegionID)

	fallback, ok := store.Get("ASHW", "nagaur_rajasthan")
	require.True(t, ok)
	assert.Equal(t, "", fallback.RegionID, "unknown region falls back to the species-wide rule")

	_, ok = store.Get("TULSI", "jodhpur_rajasthan")
	assert.False(t, ok)
}

func TestRuleStore_UpsertValidation(t *testing.T) {
	store := ledger.NewRuleStore()

	cases := []struct {
		name   string
		mutate func(*ledger.RuleFields)
	}{
		{"no prefixes", func(f *ledger.RuleFields) { f.GeohashPrefixes = nil }},
		{"no seasons", func(f *ledger.RuleFields) { f.Seasons = nil }},
		{"bad month-day", func(f *ledger.RuleFields) { f.Seasons = []ledger.SeasonWindow{{Start: "13-01", End: "12-31"}} }},
		{"zero quota", func(f *ledger.RuleFields) { f.QuotaPerSeason = decimal.Zero }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := ruleFields(1000)
			tc.mutate(&fields)
			_, err := store.Upsert("ASHW", "jodhpur_rajasthan", fields)
			assert.Equal(t, ledger.KindInvalidInput, ledger.KindOf(err))
		})
	}
}

func TestRuleStore_BySpecies(t *testing.T) {
	store := ledger.NewRuleStore()

	_, err := store.Upsert("ASHW", "jodhpur_rajasthan", ruleFields(1000))
	require.NoError(t, err)
	_, err = store.Upsert("ASHW", "nagaur_rajasthan", ruleFields(500))
	require.NoError(t, err)
	_, err = store.Upsert("TULSI", "jodhpur_rajasthan", ruleFields(200))
	require.NoError(t, err)

	rules := store.BySpecies("ASHW")
	require.Len(t, rules, 2)
	assert.Equal(t, "jodhpur_rajasthan", rules[0].RegionID)
	assert.Equal(t, "nagaur_rajasthan", rules[1].RegionID)
}

func TestSeasonWindow_Contains(t *testing.T) {
	simple := ledger.SeasonWindow{Start: "04-01", End: "06-30"}
	assert.True(t, simple.Contains("05-15"))
	assert.True(t, simple.Contains("04-01"), "window bounds are inclusive")
	assert.True(t, simple.Contains("06-30"))
	assert.False(t, simple.Contains("07-01"))

	wrapped := ledger.SeasonWindow{Start: "10-01", End: "03-31"}
	assert.True(t, wrapped.Contains("11-15"))
	assert.True(t, wrapped.Contains("02-01"))
	assert.False(t, wrapped.Contains("06-15"))
}
