package parser

import (
	"regexp"
	"strconv"
	"time"
)

// Report date sources, in priority order. The draw date (toma) beats the
// registration and release dates because it is the clinically meaningful
// axis for longitudinal series.
const (
	DateSourceToma       = "toma"
	DateSourceRegistro   = "registro"
	DateSourceLiberacion = "liberacion"
)

var dateSourceRank = map[string]int{
	DateSourceToma:       0,
	DateSourceRegistro:   1,
	DateSourceLiberacion: 2,
	"":                   3,
}

var reportDateREs = []struct {
	source string
	re     *regexp.Regexp
}{
	{DateSourceToma, regexp.MustCompile(`(?i)FECHA\s+DE\s+(?:TOMA|MUESTRA)\s*:?\s*([0-3]?\d/[0-1]?\d/\d{4})`)},
	{DateSourceRegistro, regexp.MustCompile(`(?i)FECHA\s+DE\s+REGISTRO\s*:?\s*([0-3]?\d/[0-1]?\d/\d{4})`)},
	{DateSourceLiberacion, regexp.MustCompile(`(?i)FECHA\s+DE\s+LIBERACION\s*:?\s*([0-3]?\d/[0-1]?\d/\d{4})`)},
}

// ExtractReportDate finds the best report date in the raw text. The bool
// result is false when no labeled date is present.
func ExtractReportDate(text string) (time.Time, string, bool) {
	var (
		best    time.Time
		bestSrc string
		found   bool
	)
	for _, entry := range reportDateREs {
		m := entry.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		t, ok := parseDMY(m[1])
		if !ok {
			continue
		}
		if !found || dateSourceRank[entry.source] < dateSourceRank[bestSrc] {
			best, bestSrc, found = t, entry.source, true
		}
	}
	return best, bestSrc, found
}

// PickReportDate merges a candidate date into the current one, keeping
// whichever has the higher-priority source.
func PickReportDate(cur time.Time, curSrc string, cand time.Time, candSrc string) (time.Time, string) {
	if cand.IsZero() {
		return cur, curSrc
	}
	if cur.IsZero() || dateSourceRank[candSrc] < dateSourceRank[curSrc] {
		return cand, candSrc
	}
	return cur, curSrc
}

var dmyRE = regexp.MustCompile(`^([0-3]?\d)/([0-1]?\d)/(\d{4})$`)

func parseDMY(s string) (time.Time, bool) {
	m := dmyRE.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
