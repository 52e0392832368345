/*
rules.go - Rule store: per-species, per-region harvesting constraints

PURPOSE:
  Holds the RuleSets the collection validator checks against: geofence
  prefixes, season windows, and the seasonal quota. Keyed by
  (speciesCode, regionID); a RuleSet registered with an empty region acts
  as the species-wide fallback, which keeps region-specific variants and
  legacy species-only rules on one lookup path.

CONTRACT:
  - Get:     consistent snapshot read, region-specific then fallback
  - Upsert:  create or replace in place, fresh monotonic version token
  - no Delete

CONCURRENCY:
  RWMutex. Readers take a snapshot copy so a concurrent Upsert can never
  tear a RuleSet mid-validation. Writers serialize.

SEE ALSO:
  - engine.go: collection admission consumes Get
  - rules (package): JSON rule definitions loaded via Upsert
*/
package ledger

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var monthDayRe = regexp.MustCompile(`^(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])$`)

// Contains reports whether the given UTC month-day ("MM-DD") falls inside
// the window. Start <= End is a simple inclusive range; Start > End wraps
// across the year boundary. MM-DD strings are zero-padded, so lexicographic
// comparison matches calendar order.
func (w SeasonWindow) Contains(monthDay string) bool {
	if w.Start <= w.End {
		return monthDay >= w.Start && monthDay <= w.End
	}
	return monthDay >= w.Start || monthDay <= w.End
}

// Validate checks the MM-DD format of both bounds.
func (w SeasonWindow) Validate() error {
	if !monthDayRe.MatchString(w.Start) {
		return rejectField(KindInvalidInput, fmt.Sprintf("season start %q is not MM-DD", w.Start), "seasons.start")
	}
	if !monthDayRe.MatchString(w.End) {
		return rejectField(KindInvalidInput, fmt.Sprintf("season end %q is not MM-DD", w.End), "seasons.end")
	}
	return nil
}

// InSeason reports whether the timestamp (in UTC) falls inside any window.
func (r *RuleSet) InSeason(at time.Time) bool {
	monthDay := at.UTC().Format("01-02")
	for _, w := range r.Seasons {
		if w.Contains(monthDay) {
			return true
		}
	}
	return false
}

// MatchesGeofence reports whether the geohash starts with any configured
// prefix. Case-sensitive, as geohashes are canonically lowercase.
func (r *RuleSet) MatchesGeofence(geohash string) bool {
	for _, prefix := range r.GeohashPrefixes {
		if len(geohash) >= len(prefix) && geohash[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// =============================================================================
// RULE STORE
// =============================================================================

type ruleKey struct {
	SpeciesCode string
	RegionID    string
}

// RuleStore is the injectable table of active RuleSets. At most one active
// RuleSet per (species, region); upserts replace in place with a fresh
// version token and retain no history.
type RuleStore struct {
	mu         sync.RWMutex
	rules      map[ruleKey]RuleSet
	versionSeq int64
}

// NewRuleStore creates an empty store.
func NewRuleStore() *RuleStore {
	return &RuleStore{
		rules: make(map[ruleKey]RuleSet),
		// Seeded from the wall clock so tokens stay monotonic across
		// process restarts, matching the persisted schema's v<millis> tags.
		versionSeq: time.Now().UnixMilli(),
	}
}

// RuleFields is the caller-supplied portion of an upsert. Version is
// assigned by the store.
type RuleFields struct {
	GeohashPrefixes []string
	Seasons         []SeasonWindow
	QuotaPerSeason  decimal.Decimal
}

// Upsert creates or replaces the RuleSet for (speciesCode, regionID) and
// returns the stored copy with its fresh version token.
func (s *RuleStore) Upsert(speciesCode, regionID string, fields RuleFields) (RuleSet, error) {
	if speciesCode == "" {
		return RuleSet{}, rejectField(KindInvalidInput, "species code is required", "speciesCode")
	}
	if len(fields.GeohashPrefixes) == 0 {
		return RuleSet{}, rejectField(KindInvalidInput, "at least one geohash prefix is required", "geohashPrefixes")
	}
	if len(fields.Seasons) == 0 {
		return RuleSet{}, rejectField(KindInvalidInput, "at least one season window is required", "seasons")
	}
	for _, w := range fields.Seasons {
		if err := w.Validate(); err != nil {
			return RuleSet{}, err
		}
	}
	if !fields.QuotaPerSeason.IsPositive() {
		return RuleSet{}, rejectField(KindInvalidInput, "quota per season must be positive", "quotaPerSeason")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.versionSeq++
	rule := RuleSet{
		SpeciesCode:     speciesCode,
		RegionID:        regionID,
		GeohashPrefixes: append([]string(nil), fields.GeohashPrefixes...),
		Seasons:         append([]SeasonWindow(nil), fields.Seasons...),
		QuotaPerSeason:  fields.QuotaPerSeason,
		Version:         fmt.Sprintf("v%d", s.versionSeq),
	}
	s.rules[ruleKey{SpeciesCode: speciesCode, RegionID: regionID}] = rule
	return rule, nil
}

// Get returns the RuleSet for (speciesCode, regionID), falling back to the
// species-wide RuleSet (empty region) when no region-specific variant is
// registered.
func (s *RuleStore) Get(speciesCode, regionID string) (RuleSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rule, ok := s.rules[ruleKey{SpeciesCode: speciesCode, RegionID: regionID}]; ok {
		return rule, true
	}
	if regionID != "" {
		if rule, ok := s.rules[ruleKey{SpeciesCode: speciesCode}]; ok {
			return rule, true
		}
	}
	return RuleSet{}, false
}

// BySpecies returns all RuleSets registered for a species, ordered by
// region id for stable output.
func (s *RuleStore) BySpecies(speciesCode string) []RuleSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []RuleSet
	for k, rule := range s.rules {
		if k.SpeciesCode == speciesCode {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RegionID < result[j].RegionID })
	return result
}
