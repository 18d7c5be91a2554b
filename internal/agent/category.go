package agent

import "strings"

// Category describes one cost line the agent gathers evidence for.
// QueryTemplate may reference {city} and {country}.
type Category struct {
	Name          string `json:"name" yaml:"name"`
	DisplayName   string `json:"display_name" yaml:"display_name"`
	QueryTemplate string `json:"query_template" yaml:"query_template"`
}

const (
	CategoryRent           = "rent"
	CategoryGroceries      = "groceries"
	CategoryUtilities      = "utilities"
	CategoryTransportation = "transportation"
	CategoryInternet       = "internet"
)

var defaultCategories = []Category{
	{Name: CategoryRent, DisplayName: "Rent", QueryTemplate: "average monthly rent one bedroom apartment city centre {city} {country}"},
	{Name: CategoryGroceries, DisplayName: "Groceries", QueryTemplate: "monthly grocery cost single person {city} {country}"},
	{Name: CategoryUtilities, DisplayName: "Utilities", QueryTemplate: "monthly utilities electricity water heating apartment {city} {country}"},
	{Name: CategoryTransportation, DisplayName: "Transportation", QueryTemplate: "monthly public transport pass price {city} {country}"},
	{Name: CategoryInternet, DisplayName: "Internet", QueryTemplate: "home internet broadband price speed mbps {city} {country}"},
}

// DefaultCategories returns a copy of the built-in category set.
func DefaultCategories() []Category {
	return append([]Category(nil), defaultCategories...)
}

func (c Category) render(city, country string) string {
	return strings.NewReplacer("{city}", city, "{country}", country).Replace(c.QueryTemplate)
}

func (c Category) label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}
