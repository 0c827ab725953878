package mockserver

import (
	"strings"
	"time"
)

// Security is a fixture the mock server answers requests from.
type Security struct {
	// Identifier is matched case-insensitively against the value of each
	// request line.
	Identifier string

	// ReturnCode is written in the reply row. Non-zero codes produce an
	// error row without values.
	ReturnCode int

	// Values maps field mnemonics to raw reply text. Requested fields
	// without a value are answered with "N.A.".
	Values map[string]string

	// History holds per date values for gethistory requests. When empty,
	// history requests get Values for every weekday in the range.
	History []Observation
}

// Observation is one date of a security history.
type Observation struct {
	Date   time.Time
	Values map[string]string
}

func (s Security) value(field string) string {
	if v, ok := s.Values[strings.ToUpper(field)]; ok {
		return v
	}
	return "N.A."
}

// DefaultSecurities are served when no securities are configured.
var DefaultSecurities = []Security{
	{
		Identifier: "IBM US Equity",
		Values: map[string]string{
			"ID_BB_GLOBAL":      "BBG000BLNNH6",
			"ID_BB_UNIQUE":      "EQ0010080100001000",
			"PARSEKYABLE_DES":   "IBM US Equity",
			"TICKER":            "IBM",
			"EXCH_CODE":         "US",
			"NAME":              "INTL BUSINESS MACHINES CORP",
			"MARKET_SECTOR_DES": "Equity",
			"SECURITY_TYP":      "Common Stock",
			"CRNCY":             "USD",
			"CNTRY_OF_DOMICILE": "US",
			"ID_ISIN":           "US4592001014",
			"ID_CUSIP":          "459200101",
			"ID_SEDOL1":         "2005973",
			"144A_FLAG":         "N",
			"PX_LAST":           "181.72",
			"PX_BID":            "181.70",
			"PX_ASK":            "181.75",
			"PX_VOLUME":         "3,412,871",
			"EQY_SH_OUT":        "916.31",
		},
		History: []Observation{
			{Date: date(2024, 1, 2), Values: map[string]string{"PX_LAST": "158.60", "PX_VOLUME": "4,269,100"}},
			{Date: date(2024, 1, 3), Values: map[string]string{"PX_LAST": "156.96", "PX_VOLUME": "3,513,100"}},
			{Date: date(2024, 1, 4), Values: map[string]string{"PX_LAST": "158.50", "PX_VOLUME": "3,924,300"}},
		},
	},
	{
		Identifier: "88160RAG6 Corp",
		Values: map[string]string{
			"ID_BB_GLOBAL":      "BBG00ZZ7PP08",
			"PARSEKYABLE_DES":   "88160RAG6 Corp",
			"TICKER":            "TSLA",
			"NAME":              "TESLA INC",
			"MARKET_SECTOR_DES": "Corp",
			"SECURITY_TYP":      "GLOBAL",
			"CRNCY":             "USD",
			"CNTRY_OF_DOMICILE": "US",
			"ID_CUSIP":          "88160RAG6",
			"ID_ISIN":           "US88160RAG67",
			"144A_FLAG":         "Y",
			"CPN":               "5.3",
			"MATURITY":          "08/15/2025",
			"CALLABLE":          "Y",
			"CALL_SCHEDULE":     ";2;2;2;5;08/15/2021;3;102.65;5;08/15/2022;3;101.77;",
			"PX_LAST":           "99.125",
		},
	},
	{
		Identifier: "BADTICKER US Equity",
		ReturnCode: 10,
	},
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
