package adaptive

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

// Action is the closed set of filter transformations a strategy can apply.
type Action string

const (
	// ActionBroadenPrice widens the price interval by widen_pct.
	ActionBroadenPrice Action = "broaden_price"
	// ActionDropStrictestFilter removes the most restrictive predicate.
	ActionDropStrictestFilter Action = "drop_strictest_filter"
	// ActionForceDiversity reorders results so no vendor dominates.
	// It transforms results, not the filter.
	ActionForceDiversity Action = "force_diversity"
	// ActionSubstituteAttribute swaps an attribute value for a synonym.
	ActionSubstituteAttribute Action = "substitute_attribute"
	// ActionRemoveAllFilters clears everything except store scope.
	// Last resort.
	ActionRemoveAllFilters Action = "remove_all_filters"
)

// Strategy is one declarative rescue rule.
type Strategy struct {
	Name     string  `yaml:"name"`
	Action   Action  `yaml:"action"`
	// Priority orders application; lower runs first.
	Priority int     `yaml:"priority"`
	// Triggers restricts the strategy to specific issues. Empty means
	// any issue triggers it.
	Triggers []Issue `yaml:"triggers,omitempty"`
	// Params carries action-specific tuning, e.g. widen_pct.
	Params map[string]string `yaml:"params,omitempty"`
}

// Builtins is the default strategy set, applied when no strategy file is
// configured.
func Builtins() []Strategy {
	return []Strategy{
		{
			Name:     "broaden-price-25",
			Action:   ActionBroadenPrice,
			Priority: 10,
			Triggers: []Issue{IssueNoResults, IssueFewResults},
			Params:   map[string]string{"widen_pct": "25"},
		},
		{
			Name:     "swap-attribute-synonym",
			Action:   ActionSubstituteAttribute,
			Priority: 20,
			Triggers: []Issue{IssueNoResults, IssueFewResults},
		},
		{
			Name:     "drop-strictest",
			Action:   ActionDropStrictestFilter,
			Priority: 30,
			Triggers: []Issue{IssueNoResults, IssueFewResults, IssueLowCoverage},
		},
		{
			Name:     "spread-vendors",
			Action:   ActionForceDiversity,
			Priority: 40,
			Triggers: []Issue{IssueLowDiversity},
		},
		{
			Name:     "emergency-clear",
			Action:   ActionRemoveAllFilters,
			Priority: 100,
			Triggers: []Issue{IssueNoResults},
		},
	}
}

// LoadStrategies reads a YAML strategy file and returns the set sorted
// by priority.
func LoadStrategies(path string) ([]Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeConfigNotFound,
			fmt.Sprintf("read strategy file %s", path), err)
	}

	var doc struct {
		Strategies []Strategy `yaml:"strategies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, serrors.New(serrors.ErrCodeConfigInvalid, "parse strategy file", err)
	}
	if err := validateStrategies(doc.Strategies); err != nil {
		return nil, err
	}
	sortStrategies(doc.Strategies)
	return doc.Strategies, nil
}

func validateStrategies(strategies []Strategy) error {
	seen := map[string]bool{}
	for _, s := range strategies {
		if s.Name == "" {
			return serrors.New(serrors.ErrCodeConfigInvalid, "strategy missing name", nil)
		}
		if seen[s.Name] {
			return serrors.New(serrors.ErrCodeConfigInvalid,
				fmt.Sprintf("duplicate strategy name %q", s.Name), nil)
		}
		seen[s.Name] = true
		switch s.Action {
		case ActionBroadenPrice, ActionDropStrictestFilter, ActionForceDiversity,
			ActionSubstituteAttribute, ActionRemoveAllFilters:
		default:
			return serrors.New(serrors.ErrCodeConfigInvalid,
				fmt.Sprintf("strategy %q has unknown action %q", s.Name, s.Action), nil)
		}
	}
	return nil
}

func sortStrategies(strategies []Strategy) {
	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Priority < strategies[j].Priority
	})
}

// attributeSynonyms maps attribute values to fallback values tried by
// substitute_attribute.
var attributeSynonyms = map[string][]string{
	"grey":     {"gray", "silver"},
	"gray":     {"grey", "silver"},
	"dark":     {"black", "navy"},
	"crimson":  {"red", "burgundy"},
	"wooden":   {"wood"},
	"wood":     {"wooden"},
	"leather":  {"suede"},
	"suede":    {"leather"},
	"xl":       {"large"},
	"xs":       {"small"},
}

// TransformFilter applies a filter-mutating strategy. The second return
// is false when the strategy does not change the filter, in which case
// re-searching would be wasted work.
func TransformFilter(s Strategy, f catalog.Filter) (catalog.Filter, bool) {
	switch s.Action {
	case ActionBroadenPrice:
		return broadenPrice(f, widenPct(s))
	case ActionDropStrictestFilter:
		return dropStrictest(f)
	case ActionSubstituteAttribute:
		return substituteAttribute(f)
	case ActionRemoveAllFilters:
		if onlyStoreScope(f) {
			return f, false
		}
		return catalog.Filter{StoreID: f.StoreID}, true
	default:
		return f, false
	}
}

func onlyStoreScope(f catalog.Filter) bool {
	return f.MinPrice == nil && f.MaxPrice == nil && f.Status == "" &&
		f.StockStatus == "" && len(f.Attributes) == 0
}

func widenPct(s Strategy) float64 {
	pct := 25.0
	if v, ok := s.Params["widen_pct"]; ok {
		var parsed float64
		if _, err := fmt.Sscanf(v, "%f", &parsed); err == nil && parsed > 0 {
			pct = parsed
		}
	}
	return pct
}

func broadenPrice(f catalog.Filter, pct float64) (catalog.Filter, bool) {
	if f.MinPrice == nil && f.MaxPrice == nil {
		return f, false
	}
	out := f.Clone()
	factor := pct / 100
	if out.MinPrice != nil {
		v := *out.MinPrice * (1 - factor)
		if v < 0 {
			v = 0
		}
		out.MinPrice = &v
	}
	if out.MaxPrice != nil {
		v := *out.MaxPrice * (1 + factor)
		out.MaxPrice = &v
	}
	return out, true
}

// dropStrictest removes one predicate, most restrictive first: attribute
// constraints bind tightest, then stock, then the price interval, then
// status.
func dropStrictest(f catalog.Filter) (catalog.Filter, bool) {
	out := f.Clone()
	switch {
	case len(out.Attributes) > 0:
		// Drop the lexicographically first attribute for determinism.
		keys := make([]string, 0, len(out.Attributes))
		for k := range out.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		delete(out.Attributes, keys[0])
		if len(out.Attributes) == 0 {
			out.Attributes = nil
		}
		return out, true
	case out.StockStatus != "":
		out.StockStatus = ""
		return out, true
	case out.MinPrice != nil || out.MaxPrice != nil:
		out.MinPrice = nil
		out.MaxPrice = nil
		return out, true
	case out.Status != "":
		out.Status = ""
		return out, true
	}
	return f, false
}

func substituteAttribute(f catalog.Filter) (catalog.Filter, bool) {
	if len(f.Attributes) == 0 {
		return f, false
	}
	keys := make([]string, 0, len(f.Attributes))
	for k := range f.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		current := strings.ToLower(f.Attributes[k])
		if subs, ok := attributeSynonyms[current]; ok && len(subs) > 0 {
			out := f.Clone()
			out.Attributes[k] = subs[0]
			return out, true
		}
	}
	return f, false
}

// ForceDiversity reorders hits so consecutive results come from distinct
// vendors where possible. Relative order within a vendor is preserved.
func ForceDiversity(hits []catalog.Hit) []catalog.Hit {
	if len(hits) < 3 {
		return hits
	}
	byVendor := map[string][]catalog.Hit{}
	var vendorOrder []string
	for _, h := range hits {
		vendor := ""
		if h.Product != nil {
			vendor = h.Product.Vendor
		}
		if _, seen := byVendor[vendor]; !seen {
			vendorOrder = append(vendorOrder, vendor)
		}
		byVendor[vendor] = append(byVendor[vendor], h)
	}
	if len(vendorOrder) < 2 {
		return hits
	}

	out := make([]catalog.Hit, 0, len(hits))
	for len(out) < len(hits) {
		for _, vendor := range vendorOrder {
			if queue := byVendor[vendor]; len(queue) > 0 {
				out = append(out, queue[0])
				byVendor[vendor] = queue[1:]
			}
		}
	}
	return out
}
