package provider

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arvscout/arvscout/internal/infra"
)

// Options is the configuration shared by HTTP adapters.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
	Burst   int
	Logger  *zap.Logger
}

// HTTPClient builds the adapter's rate-limited client.
func (o Options) HTTPClient(name, defaultBaseURL string, headers map[string]string) *infra.HTTPClient {
	base := o.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return infra.NewHTTPClient(name, infra.HTTPOptions{
		BaseURL: base,
		Timeout: o.Timeout,
		RPS:     o.RPS,
		Burst:   o.Burst,
		Headers: headers,
		Logger:  o.Logger,
	})
}

// Number decodes a JSON number that upstream APIs sometimes send as a
// string, with currency symbols and thousands separators, or as null.
// Anything unparseable decodes to zero rather than failing the response.
type Number float64

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = 0
			return nil
		}
		*n = Number(ParseAmount(s))
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Number(f)
	return nil
}

// Float returns n as float64.
func (n Number) Float() float64 { return float64(n) }

// ParseAmount reads money and count text such as "$412,500", "1.2M",
// "$415K" or "-3.4%". Percentages are returned as written (-3.4), not as
// ratios. Unparseable input returns 0.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	mult := 1.0
	s = strings.NewReplacer("$", "", ",", "", "%", "", "+", "", " ", "").Replace(s)
	switch {
	case strings.HasSuffix(s, "K"), strings.HasSuffix(s, "k"):
		mult, s = 1e3, s[:len(s)-1]
	case strings.HasSuffix(s, "M"), strings.HasSuffix(s, "m"):
		mult, s = 1e6, s[:len(s)-1]
	case strings.HasSuffix(s, "B"), strings.HasSuffix(s, "b"):
		mult, s = 1e9, s[:len(s)-1]
	}
	// U+2212 minus sign shows up in scraped pages.
	s = strings.ReplaceAll(s, "−", "-")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f * mult
}
