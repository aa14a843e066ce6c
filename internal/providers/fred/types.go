package fred

// --- FRED Observations ---

type fredObservationsResponse struct {
	RealtimeStart    string            `json:"realtime_start"`
	RealtimeEnd      string            `json:"realtime_end"`
	ObservationStart string            `json:"observation_start"`
	ObservationEnd   string            `json:"observation_end"`
	Units            string            `json:"units"`
	FileType         string            `json:"file_type"`
	OrderBy          string            `json:"order_by"`
	SortOrder        string            `json:"sort_order"`
	Count            int               `json:"count"`
	Limit            int               `json:"limit"`
	Observations     []fredObservation `json:"observations"`
}

type fredObservation struct {
	RealtimeStart string `json:"realtime_start"`
	RealtimeEnd   string `json:"realtime_end"`
	Date          string `json:"date"`
	Value         string `json:"value"`
}

// --- Mortgage rate series ---

// DefaultSeries is the 30-year fixed rate mortgage average.
const DefaultSeries = "MORTGAGE30US"

// mortgageSeries lists the FRED mortgage rate series this provider serves.
var mortgageSeries = map[string]string{
	"MORTGAGE30US":   "30-Year Fixed Rate Mortgage Average",
	"MORTGAGE15US":   "15-Year Fixed Rate Mortgage Average",
	"MORTGAGE5US":    "5/1-Year Adjustable Rate Mortgage Average",
	"OBMMIJUMBO30YF": "30-Year Fixed Rate Jumbo Mortgage Index",
}

// SupportedSeries reports whether id is a known mortgage rate series.
func SupportedSeries(id string) bool {
	_, ok := mortgageSeries[id]
	return ok
}
