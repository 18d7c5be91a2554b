package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Keyring-Network/keyring-atlas/internal/agent"
)

// CitiesFile is the YAML document listing cities to assess and, optionally,
// a replacement category set.
//
//	cities:
//	  - city: Lisbon
//	    country: Portugal
//	categories:
//	  - name: coworking
//	    display_name: Coworking
//	    query_template: coworking desk monthly price {city}
type CitiesFile struct {
	Cities     []agent.CityRef  `yaml:"cities"`
	Categories []agent.Category `yaml:"categories"`
}

func LoadCitiesFile(path string) (CitiesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CitiesFile{}, fmt.Errorf("reading cities file: %w", err)
	}
	var file CitiesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return CitiesFile{}, fmt.Errorf("parsing cities file %s: %w", path, err)
	}
	for i, city := range file.Cities {
		city.City = strings.TrimSpace(city.City)
		city.Country = strings.TrimSpace(city.Country)
		if city.City == "" || city.Country == "" {
			return CitiesFile{}, fmt.Errorf("cities file %s: entry %d needs city and country", path, i+1)
		}
		file.Cities[i] = city
	}
	for i, category := range file.Categories {
		if category.Name == "" || category.QueryTemplate == "" {
			return CitiesFile{}, fmt.Errorf("cities file %s: category %d needs name and query_template", path, i+1)
		}
	}
	return file, nil
}

func LoadCities(path string) ([]agent.CityRef, error) {
	file, err := LoadCitiesFile(path)
	if err != nil {
		return nil, err
	}
	return file.Cities, nil
}
