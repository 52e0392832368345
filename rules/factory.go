/*
Package rules provides JSON to Go rule-set conversion.

PURPOSE:
  Converts JSON rule definitions into ledger.RuleSet entries and loads
  them into a ledger.RuleStore. This enables rule configuration without
  code changes - a regulator can maintain per-species, per-region rules
  in JSON, version-controlled or stored in the read database.

JSON SCHEMA:
  {
    "speciesCode": "ASHW",
    "regionId": "jodhpur_rajasthan",
    "geohashPrefixes": ["tsj"],
    "seasons": [
      {"start": "10-01", "end": "12-31"},
      {"start": "01-01", "end": "03-31"}
    ],
    "quotaPerSeason": 1000
  }

  The version tag is always assigned by the RuleStore on upsert; a
  version present in the JSON is ignored.

USAGE:
  store := ledger.NewRuleStore()
  if err := rules.Load(store, jsonBytes); err != nil { ... }

  // Or start from the built-in demo seed:
  store, err := rules.SeedStore()

SEE ALSO:
  - ledger/rules.go: RuleStore contract and validation
  - cmd/server/main.go: loads a rule file at startup
*/
package rules

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/supremekai52/neocrypt/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SeasonJSON is one MM-DD window.
type SeasonJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// RuleSetJSON is the JSON representation of one rule set.
type RuleSetJSON struct {
	SpeciesCode     string       `json:"speciesCode"`
	RegionID        string       `json:"regionId"`
	GeohashPrefixes []string     `json:"geohashPrefixes"`
	Seasons         []SeasonJSON `json:"seasons"`
	QuotaPerSeason  float64      `json:"quotaPerSeason"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load parses a JSON array of rule sets and upserts each into the store.
// Fails on the first invalid definition, leaving earlier entries applied
// (upserts are independent; there is no batch atomicity to preserve).
func Load(store *ledger.RuleStore, data []byte) error {
	var defs []RuleSetJSON
	if err := json.Unmarshal(data, &defs); err != nil {
		return fmt.Errorf("parse rule definitions: %w", err)
	}
	for i, def := range defs {
		if err := Apply(store, def); err != nil {
			return fmt.Errorf("rule %d (%s/%s): %w", i, def.SpeciesCode, def.RegionID, err)
		}
	}
	return nil
}

// Apply upserts a single parsed definition.
func Apply(store *ledger.RuleStore, def RuleSetJSON) error {
	seasons := make([]ledger.SeasonWindow, len(def.Seasons))
	for i, s := range def.Seasons {
		seasons[i] = ledger.SeasonWindow{Start: s.Start, End: s.End}
	}
	_, err := store.Upsert(def.SpeciesCode, def.RegionID, ledger.RuleFields{
		GeohashPrefixes: def.GeohashPrefixes,
		Seasons:         seasons,
		QuotaPerSeason:  decimal.NewFromFloat(def.QuotaPerSeason),
	})
	return err
}

// =============================================================================
// SEED RULES
// =============================================================================

// Seed returns the built-in demo rule set: Ashwagandha root collection in
// the Jodhpur region, winter harvest, 1000kg seasonal quota.
func Seed() []RuleSetJSON {
	return []RuleSetJSON{
		{
			SpeciesCode:     "ASHW",
			RegionID:        "jodhpur_rajasthan",
			GeohashPrefixes: []string{"tsj"},
			Seasons: []SeasonJSON{
				{Start: "10-01", End: "12-31"},
				{Start: "01-01", End: "03-31"},
			},
			QuotaPerSeason: 1000,
		},
	}
}

// SeedStore creates a RuleStore pre-loaded with the demo seed.
func SeedStore() (*ledger.RuleStore, error) {
	store := ledger.NewRuleStore()
	for _, def := range Seed() {
		if err := Apply(store, def); err != nil {
			return nil, err
		}
	}
	return store, nil
}
