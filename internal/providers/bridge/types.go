package bridge

import "github.com/arvscout/arvscout/internal/provider"

// transactionsResponse is the envelope of /pub/transactions.
type transactionsResponse struct {
	Success bool          `json:"success"`
	Status  int           `json:"status"`
	Bundle  []transaction `json:"bundle"`
	Total   int           `json:"total"`
}

type transaction struct {
	ID            string          `json:"id"`
	RecordingDate string          `json:"recordingDate"`
	SalesPrice    provider.Number `json:"salesPrice"`
	LivingArea    provider.Number `json:"livingArea"`
	Bedrooms      provider.Number `json:"bedrooms"`
	Bathrooms     provider.Number `json:"bathrooms"`
	Distance      provider.Number `json:"distance"`
	Condition     string          `json:"condition"`
	URL           string          `json:"url"`
	Address       txAddress       `json:"address"`
}

type txAddress struct {
	Full       string `json:"full"`
	Number     string `json:"house"`
	StreetName string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Zip        string `json:"zip"`
}

// Street prefers the full street line and falls back to house + street.
func (a txAddress) Street() string {
	if a.Full != "" {
		return a.Full
	}
	if a.Number == "" {
		return a.StreetName
	}
	return a.Number + " " + a.StreetName
}

// zestimateResponse is the envelope of /zestimates_v2/zestimates.
type zestimateResponse struct {
	Success bool `json:"success"`
	Bundle  []struct {
		Zestimate provider.Number `json:"zestimate"`
		Address   string          `json:"address"`
		Date      string          `json:"date"`
	} `json:"bundle"`
}
