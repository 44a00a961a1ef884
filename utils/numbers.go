package utils

import (
	"regexp"
	"strconv"
	"strings"
)

// NumberContext tells the German-locale parser how to read an ambiguous
// separator. "1.200" is twelve hundred euros but "1.5" is one and a half rooms.
type NumberContext int

const (
	// Money amounts: a dot followed by exactly three digits groups thousands.
	Money NumberContext = iota
	// Decimal quantities (rooms, m²): a lone comma or dot is a decimal mark.
	Decimal
)

var (
	numberToken   = regexp.MustCompile(`-?\d[\d.,]*`)
	thousandsDots = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)
	thousandsComm = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+$`)
)

// ParseGermanNumber extracts the first number in s. It returns false when s
// holds no parsable number; callers leave the field unset in that case.
func ParseGermanNumber(s string, ctx NumberContext) (float64, bool) {
	tok := numberToken.FindString(s)
	tok = strings.TrimRight(tok, ".,")
	if tok == "" || tok == "-" {
		return 0, false
	}

	hasDot := strings.Contains(tok, ".")
	hasComma := strings.Contains(tok, ",")

	switch {
	case hasDot && hasComma:
		// German "1.200,50"; English "1,200.50" when the dot comes last.
		if strings.LastIndex(tok, ",") > strings.LastIndex(tok, ".") {
			tok = strings.ReplaceAll(tok, ".", "")
			tok = strings.Replace(tok, ",", ".", 1)
		} else {
			tok = strings.ReplaceAll(tok, ",", "")
		}
	case hasDot:
		if ctx == Money && thousandsDots.MatchString(tok) {
			tok = strings.ReplaceAll(tok, ".", "")
		} else if strings.Count(tok, ".") > 1 {
			tok = strings.ReplaceAll(tok, ".", "")
		}
	case hasComma:
		if ctx == Money && thousandsComm.MatchString(tok) {
			tok = strings.ReplaceAll(tok, ",", "")
		} else if strings.Count(tok, ",") > 1 {
			tok = strings.ReplaceAll(tok, ",", "")
		} else {
			tok = strings.Replace(tok, ",", ".", 1)
		}
	}

	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
