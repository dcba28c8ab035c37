// Package models provides normalization tables for user-supplied values.
package models

import "strings"

// simTypeAliases maps the spellings users and upstream classifiers produce
// to canonical SIM types.
var simTypeAliases = map[string]SimType{
	"esim":     SimTypeESIM,
	"e-sim":    SimTypeESIM,
	"e sim":    SimTypeESIM,
	"embedded": SimTypeESIM,
	"digital":  SimTypeESIM,
	"physical": SimTypePhysical,
	"psim":     SimTypePhysical,
	"p-sim":    SimTypePhysical,
	"plastic":  SimTypePhysical,
	"card":     SimTypePhysical,
	"sim card": SimTypePhysical,
}

// NormalizeSimType maps a free-form SIM type string to its canonical value.
// Returns false when the input matches no known spelling.
func NormalizeSimType(s string) (SimType, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	switch SimType(strings.ToUpper(key)) {
	case SimTypeESIM, SimTypePhysical:
		return SimType(strings.ToUpper(key)), true
	}
	st, ok := simTypeAliases[key]
	return st, ok
}

// stateCodes maps full US state names (lowercase) to two-letter USPS codes.
var stateCodes = map[string]string{
	"alabama":              "AL",
	"alaska":               "AK",
	"arizona":              "AZ",
	"arkansas":             "AR",
	"california":           "CA",
	"colorado":             "CO",
	"connecticut":          "CT",
	"delaware":             "DE",
	"district of columbia": "DC",
	"florida":              "FL",
	"georgia":              "GA",
	"hawaii":               "HI",
	"idaho":                "ID",
	"illinois":             "IL",
	"indiana":              "IN",
	"iowa":                 "IA",
	"kansas":               "KS",
	"kentucky":             "KY",
	"louisiana":            "LA",
	"maine":                "ME",
	"maryland":             "MD",
	"massachusetts":        "MA",
	"michigan":             "MI",
	"minnesota":            "MN",
	"mississippi":          "MS",
	"missouri":             "MO",
	"montana":              "MT",
	"nebraska":             "NE",
	"nevada":               "NV",
	"new hampshire":        "NH",
	"new jersey":           "NJ",
	"new mexico":           "NM",
	"new york":             "NY",
	"north carolina":       "NC",
	"north dakota":         "ND",
	"ohio":                 "OH",
	"oklahoma":             "OK",
	"oregon":               "OR",
	"pennsylvania":         "PA",
	"rhode island":         "RI",
	"south carolina":       "SC",
	"south dakota":         "SD",
	"tennessee":            "TN",
	"texas":                "TX",
	"utah":                 "UT",
	"vermont":              "VT",
	"virginia":             "VA",
	"washington":           "WA",
	"west virginia":        "WV",
	"wisconsin":            "WI",
	"wyoming":              "WY",
}

// NormalizeStateCode converts a full US state name to its two-letter code.
// Already-valid codes pass through uppercased; unknown values are returned
// trimmed but otherwise unchanged.
func NormalizeStateCode(s string) string {
	trimmed := strings.TrimSpace(s)
	if code, ok := stateCodes[strings.ToLower(trimmed)]; ok {
		return code
	}
	if len(trimmed) == 2 {
		return strings.ToUpper(trimmed)
	}
	return trimmed
}
