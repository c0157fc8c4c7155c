package session

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"simcal/internal/calendar"
	"simcal/internal/model"
)

// Formatter renders an in-world date for display.
type Formatter interface {
	Format(cal *calendar.Calendar, d model.Date, pattern string) string
}

// DefaultPattern is used when FormatDate gets an empty pattern.
const DefaultPattern = "dddd, D MMMM YYYY HH:mm"

// PatternFormatter understands the tokens YYYY, MMMM, MMM, MM, M, DD, D,
// dddd, ddd, HH, mm and ss. Text inside square brackets is copied
// verbatim; everything else that is not a token is copied as is.
type PatternFormatter struct{}

// Longest first so that MMMM wins over MM.
var tokens = []string{"YYYY", "MMMM", "dddd", "MMM", "ddd", "MM", "DD", "HH", "mm", "ss", "M", "D"}

func (PatternFormatter) Format(cal *calendar.Calendar, d model.Date, pattern string) string {
	if pattern == "" {
		pattern = DefaultPattern
	}
	d, _ = cal.Clamp(d)
	month := cal.Month(d.Month)

	var b strings.Builder
	for i := 0; i < len(pattern); {
		if pattern[i] == '[' {
			if end := strings.IndexByte(pattern[i+1:], ']'); end >= 0 {
				b.WriteString(pattern[i+1 : i+1+end])
				i += end + 2
				continue
			}
		}
		tok := matchToken(pattern[i:])
		if tok == "" {
			_, size := utf8.DecodeRuneInString(pattern[i:])
			b.WriteString(pattern[i : i+size])
			i += size
			continue
		}
		b.WriteString(render(cal, d, month, tok))
		i += len(tok)
	}
	return b.String()
}

func matchToken(s string) string {
	for _, t := range tokens {
		if strings.HasPrefix(s, t) {
			return t
		}
	}
	return ""
}

func render(cal *calendar.Calendar, d model.Date, month calendar.Month, tok string) string {
	day := d.Day + 1 + month.NumberOffset
	switch tok {
	case "YYYY":
		return strconv.Itoa(d.Year)
	case "MMMM":
		return month.Name
	case "MMM":
		return abbreviate(month.Abbreviation, month.Name)
	case "MM":
		return pad2(month.Number)
	case "M":
		return strconv.Itoa(month.Number)
	case "DD":
		return pad2(day)
	case "D":
		return strconv.Itoa(day)
	case "dddd", "ddd":
		idx := cal.Weekday(d)
		if idx < 0 {
			return ""
		}
		wd := cal.WeekdayAt(idx)
		if tok == "dddd" {
			return wd.Name
		}
		return abbreviate(wd.Abbreviation, wd.Name)
	case "HH":
		return pad2(d.Hour)
	case "mm":
		return pad2(d.Minute)
	case "ss":
		return pad2(d.Second)
	}
	return tok
}

func abbreviate(abbr, name string) string {
	if abbr != "" {
		return abbr
	}
	if utf8.RuneCountInString(name) <= 3 {
		return name
	}
	return string([]rune(name)[:3])
}

func pad2(n int) string {
	if n >= 0 && n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
