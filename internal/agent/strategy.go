package agent

import (
	"fmt"
	"strings"
)

type StrategyName string

const (
	StrategyComprehensive      StrategyName = "comprehensive"
	StrategyCostDatabase       StrategyName = "cost_database"
	StrategyOfficialStatistics StrategyName = "official_statistics"
	StrategyExpatCommunity     StrategyName = "expat_community"
	StrategyLocalListings      StrategyName = "local_listings"
	StrategyNewsReports        StrategyName = "news_reports"
)

// ErrUnknownStrategy is returned by LookupStrategy for names outside the catalog.
type ErrUnknownStrategy struct {
	Name string
}

func (e ErrUnknownStrategy) Error() string {
	return fmt.Sprintf("unknown strategy: %s", e.Name)
}

// Strategy is an immutable evidence-gathering method. The query pattern is
// rendered with {query} (the category's rendered template), {city} and {country}.
type Strategy struct {
	Name               StrategyName `json:"name"`
	Description        string       `json:"description"`
	ConfidenceModifier float64      `json:"confidence_modifier"`
	PreferredSources   []string     `json:"preferred_sources"`
	pattern            string
}

// BuildQuery renders the base query for a category in a city.
func (s Strategy) BuildQuery(category Category, city, country string) string {
	query := strings.NewReplacer(
		"{query}", category.render(city, country),
		"{city}", city,
		"{country}", country,
	).Replace(s.pattern)
	return strings.Join(strings.Fields(query), " ")
}

// catalog is read-only after init; order matters for the selector's last resort.
var catalog = []Strategy{
	{
		Name:               StrategyComprehensive,
		Description:        "broad multi-source query",
		ConfidenceModifier: 1.0,
		PreferredSources:   []string{"numbeo.com", "expatistan.com", "livingcost.org", "nomadlist.com"},
		pattern:            "{query} cost of living prices",
	},
	{
		Name:               StrategyCostDatabase,
		Description:        "crowd-sourced cost-of-living databases",
		ConfidenceModifier: 1.2,
		PreferredSources:   []string{"numbeo.com", "expatistan.com", "livingcost.org"},
		pattern:            "{query} (site:numbeo.com OR site:expatistan.com OR site:livingcost.org)",
	},
	{
		Name:               StrategyOfficialStatistics,
		Description:        "national statistics offices and price indices",
		ConfidenceModifier: 1.1,
		PreferredSources:   []string{"worlddata.info", "gov", "stat"},
		pattern:            "{query} official statistics consumer price index {country}",
	},
	{
		Name:               StrategyExpatCommunity,
		Description:        "expat and remote worker communities",
		ConfidenceModifier: 0.9,
		PreferredSources:   []string{"nomadlist.com", "expat.com", "internations.org", "reddit.com"},
		pattern:            "{query} expat forum monthly budget experience",
	},
	{
		Name:               StrategyLocalListings,
		Description:        "local marketplaces and listing sites",
		ConfidenceModifier: 0.8,
		PreferredSources:   []string{"idealista.com", "craigslist.org", "olx"},
		pattern:            "{query} listings current prices {city}",
	},
	{
		Name:               StrategyNewsReports,
		Description:        "recent news coverage of local prices",
		ConfidenceModifier: 0.7,
		PreferredSources:   []string{"news"},
		pattern:            "{query} news report price increase {city}",
	},
}

// priorityOrder is walked when neither history nor the first-iteration rule applies.
var priorityOrder = []StrategyName{
	StrategyCostDatabase,
	StrategyOfficialStatistics,
	StrategyExpatCommunity,
	StrategyLocalListings,
	StrategyNewsReports,
}

// Catalog returns the strategies in catalog order.
func Catalog() []Strategy {
	out := make([]Strategy, len(catalog))
	for i, strategy := range catalog {
		strategy.PreferredSources = append([]string(nil), strategy.PreferredSources...)
		out[i] = strategy
	}
	return out
}

// FallbackStrategy is the broad strategy that is always eligible.
func FallbackStrategy() Strategy {
	return catalog[0]
}

func LookupStrategy(name StrategyName) (Strategy, error) {
	for _, strategy := range catalog {
		if strategy.Name == name {
			return strategy, nil
		}
	}
	return Strategy{}, ErrUnknownStrategy{Name: string(name)}
}
