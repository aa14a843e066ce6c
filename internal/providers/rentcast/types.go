package rentcast

import "github.com/arvscout/arvscout/internal/provider"

// valueResponse is the body of /avm/value.
type valueResponse struct {
	Price          provider.Number `json:"price"`
	PriceRangeLow  provider.Number `json:"priceRangeLow"`
	PriceRangeHigh provider.Number `json:"priceRangeHigh"`
	Latitude       float64         `json:"latitude"`
	Longitude      float64         `json:"longitude"`
	Comparables    []comparable    `json:"comparables"`
}

type comparable struct {
	ID               string          `json:"id"`
	FormattedAddress string          `json:"formattedAddress"`
	PropertyType     string          `json:"propertyType"`
	Price            provider.Number `json:"price"`
	SquareFootage    provider.Number `json:"squareFootage"`
	Bedrooms         provider.Number `json:"bedrooms"`
	Bathrooms        provider.Number `json:"bathrooms"`
	YearBuilt        int             `json:"yearBuilt"`
	ListedDate       string          `json:"listedDate"`
	RemovedDate      string          `json:"removedDate"`
	LastSeenDate     string          `json:"lastSeenDate"`
	DaysOnMarket     int             `json:"daysOnMarket"`
	Distance         provider.Number `json:"distance"`
	Correlation      provider.Number `json:"correlation"`
}
