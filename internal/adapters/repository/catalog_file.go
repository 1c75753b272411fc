package repository

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/okian/voyage/internal/domain/model"
)

// CatalogData is the seed document for the in-memory catalog.
type CatalogData struct {
	Destinations []model.Destination `json:"destinations"`
	Itineraries  []model.Itinerary   `json:"itineraries"`
	Categories   []model.Category    `json:"categories"`
}

// LoadCatalogFile reads a JSON catalog document.
func LoadCatalogFile(path string) (CatalogData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CatalogData{}, fmt.Errorf("%w: %w", ErrLoadCatalog, err)
	}
	var c CatalogData
	if err := json.Unmarshal(raw, &c); err != nil {
		return CatalogData{}, fmt.Errorf("%w: %s: %w", ErrLoadCatalog, path, err)
	}
	for i, d := range c.Destinations {
		if d.ID == "" {
			return CatalogData{}, fmt.Errorf("%w: destination %d has no id", ErrLoadCatalog, i)
		}
	}
	for i, it := range c.Itineraries {
		if it.ID == "" || it.DestinationID == "" {
			return CatalogData{}, fmt.Errorf("%w: itinerary %d needs id and destination_id", ErrLoadCatalog, i)
		}
	}
	return c, nil
}
