package utils

import (
	"strings"
)

// Full state names that users commonly type instead of the USPS code.
var stateAliases = map[string]string{
	"alabama":              "al",
	"alaska":               "ak",
	"arizona":              "az",
	"arkansas":             "ar",
	"california":           "ca",
	"colorado":             "co",
	"connecticut":          "ct",
	"delaware":             "de",
	"district of columbia": "dc",
	"florida":              "fl",
	"georgia":              "ga",
	"hawaii":               "hi",
	"idaho":                "id",
	"illinois":             "il",
	"indiana":              "in",
	"iowa":                 "ia",
	"kansas":               "ks",
	"kentucky":             "ky",
	"louisiana":            "la",
	"maine":                "me",
	"maryland":             "md",
	"massachusetts":        "ma",
	"michigan":             "mi",
	"minnesota":            "mn",
	"mississippi":          "ms",
	"missouri":             "mo",
	"montana":              "mt",
	"nebraska":             "ne",
	"nevada":               "nv",
	"new hampshire":        "nh",
	"new jersey":           "nj",
	"new mexico":           "nm",
	"new york":             "ny",
	"north carolina":       "nc",
	"north dakota":         "nd",
	"ohio":                 "oh",
	"oklahoma":             "ok",
	"oregon":               "or",
	"pennsylvania":         "pa",
	"rhode island":         "ri",
	"south carolina":       "sc",
	"south dakota":         "sd",
	"tennessee":            "tn",
	"texas":                "tx",
	"utah":                 "ut",
	"vermont":              "vt",
	"virginia":             "va",
	"washington":           "wa",
	"west virginia":        "wv",
	"wisconsin":            "wi",
	"wyoming":              "wy",
}

// NormalizePart lower-cases a free-text address component, trims it and
// collapses runs of whitespace to a single space.
func NormalizePart(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// NormalizeState normalizes a state to its lower-case USPS code when the
// full name is recognised; anything else is normalized like other parts.
func NormalizeState(state string) string {
	s := NormalizePart(state)
	if code, ok := stateAliases[s]; ok {
		return code
	}
	return s
}

// NormalizeZip keeps the 5-digit prefix of a ZIP or ZIP+4 code.
func NormalizeZip(zip string) string {
	z := strings.TrimSpace(zip)
	if i := strings.IndexByte(z, '-'); i >= 0 {
		z = z[:i]
	}
	return z
}

var keyEscaper = strings.NewReplacer(
	"%", "%25",
	"-", "%2D",
	"_", "%5F",
	" ", "-",
)

// KeyPart makes a normalized component safe to embed in a store key.
// Spaces become '-'; literal '%', '-' and '_' (the key separator) are
// percent-escaped, so distinct components never share a key part.
func KeyPart(s string) string {
	return keyEscaper.Replace(s)
}
