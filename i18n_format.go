// i18n_format.go: locale-aware date, number and currency formatting
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/number"
)

// DateStyle selects how verbose a formatted date or time is, from the
// compact numeric form to the spelled-out one with the weekday.
type DateStyle int

const (
	DateShort DateStyle = iota
	DateMedium
	DateLong
	DateFull
)

// localeDateFormat carries the rendering data for one language: Go
// layouts for the numeric styles and name tables plus patterns for the
// spelled-out ones. Patterns use {day}, {month}, {monthabbr},
// {monthnum}, {year} and {weekday} placeholders.
type localeDateFormat struct {
	short      string
	medium     string
	long       string
	full       string
	timeShort  string
	timeMedium string
	months     [12]string
	monthsAbbr [12]string
	weekdays   [7]string
}

var dateFormats = map[string]*localeDateFormat{
	"en": {
		short:      "1/2/2006",
		medium:     "{monthabbr} {day}, {year}",
		long:       "{month} {day}, {year}",
		full:       "{weekday}, {month} {day}, {year}",
		timeShort:  "3:04 PM",
		timeMedium: "3:04:05 PM",
		months: [12]string{"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"},
		monthsAbbr: [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun",
			"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
		weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
	},
	"en-GB": {
		short:      "02/01/2006",
		medium:     "{day} {monthabbr} {year}",
		long:       "{day} {month} {year}",
		full:       "{weekday}, {day} {month} {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"January", "February", "March", "April", "May", "June",
			"July", "August", "September", "October", "November", "December"},
		monthsAbbr: [12]string{"Jan", "Feb", "Mar", "Apr", "May", "Jun",
			"Jul", "Aug", "Sep", "Oct", "Nov", "Dec"},
		weekdays: [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"},
	},
	"de": {
		short:      "02.01.06",
		medium:     "{day}. {monthabbr} {year}",
		long:       "{day}. {month} {year}",
		full:       "{weekday}, {day}. {month} {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"Januar", "Februar", "März", "April", "Mai", "Juni",
			"Juli", "August", "September", "Oktober", "November", "Dezember"},
		monthsAbbr: [12]string{"Jan.", "Feb.", "März", "Apr.", "Mai", "Juni",
			"Juli", "Aug.", "Sept.", "Okt.", "Nov.", "Dez."},
		weekdays: [7]string{"Sonntag", "Montag", "Dienstag", "Mittwoch", "Donnerstag", "Freitag", "Samstag"},
	},
	"fr": {
		short:      "02/01/2006",
		medium:     "{day} {monthabbr} {year}",
		long:       "{day} {month} {year}",
		full:       "{weekday} {day} {month} {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"janvier", "février", "mars", "avril", "mai", "juin",
			"juillet", "août", "septembre", "octobre", "novembre", "décembre"},
		monthsAbbr: [12]string{"janv.", "févr.", "mars", "avr.", "mai", "juin",
			"juil.", "août", "sept.", "oct.", "nov.", "déc."},
		weekdays: [7]string{"dimanche", "lundi", "mardi", "mercredi", "jeudi", "vendredi", "samedi"},
	},
	"it": {
		short:      "02/01/06",
		medium:     "{day} {monthabbr} {year}",
		long:       "{day} {month} {year}",
		full:       "{weekday} {day} {month} {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"gennaio", "febbraio", "marzo", "aprile", "maggio", "giugno",
			"luglio", "agosto", "settembre", "ottobre", "novembre", "dicembre"},
		monthsAbbr: [12]string{"gen", "feb", "mar", "apr", "mag", "giu",
			"lug", "ago", "set", "ott", "nov", "dic"},
		weekdays: [7]string{"domenica", "lunedì", "martedì", "mercoledì", "giovedì", "venerdì", "sabato"},
	},
	"es": {
		short:      "2/1/06",
		medium:     "{day} {monthabbr} {year}",
		long:       "{day} de {month} de {year}",
		full:       "{weekday}, {day} de {month} de {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"enero", "febrero", "marzo", "abril", "mayo", "junio",
			"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"},
		monthsAbbr: [12]string{"ene", "feb", "mar", "abr", "may", "jun",
			"jul", "ago", "sept", "oct", "nov", "dic"},
		weekdays: [7]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"},
	},
	"pt": {
		short:      "02/01/2006",
		medium:     "{day} de {monthabbr} de {year}",
		long:       "{day} de {month} de {year}",
		full:       "{weekday}, {day} de {month} de {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"janeiro", "fevereiro", "março", "abril", "maio", "junho",
			"julho", "agosto", "setembro", "outubro", "novembro", "dezembro"},
		monthsAbbr: [12]string{"jan", "fev", "mar", "abr", "mai", "jun",
			"jul", "ago", "set", "out", "nov", "dez"},
		weekdays: [7]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira",
			"quinta-feira", "sexta-feira", "sábado"},
	},
	"nl": {
		short:      "02-01-2006",
		medium:     "{day} {monthabbr} {year}",
		long:       "{day} {month} {year}",
		full:       "{weekday} {day} {month} {year}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"januari", "februari", "maart", "april", "mei", "juni",
			"juli", "augustus", "september", "oktober", "november", "december"},
		monthsAbbr: [12]string{"jan", "feb", "mrt", "apr", "mei", "jun",
			"jul", "aug", "sep", "okt", "nov", "dec"},
		weekdays: [7]string{"zondag", "maandag", "dinsdag", "woensdag", "donderdag", "vrijdag", "zaterdag"},
	},
	"ja": {
		short:      "2006/01/02",
		medium:     "{year}年{monthnum}月{day}日",
		long:       "{year}年{monthnum}月{day}日",
		full:       "{year}年{monthnum}月{day}日{weekday}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"1月", "2月", "3月", "4月", "5月", "6月",
			"7月", "8月", "9月", "10月", "11月", "12月"},
		monthsAbbr: [12]string{"1月", "2月", "3月", "4月", "5月", "6月",
			"7月", "8月", "9月", "10月", "11月", "12月"},
		weekdays: [7]string{"日曜日", "月曜日", "火曜日", "水曜日", "木曜日", "金曜日", "土曜日"},
	},
	"zh": {
		short:      "2006/1/2",
		medium:     "{year}年{monthnum}月{day}日",
		long:       "{year}年{monthnum}月{day}日",
		full:       "{year}年{monthnum}月{day}日{weekday}",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"一月", "二月", "三月", "四月", "五月", "六月",
			"七月", "八月", "九月", "十月", "十一月", "十二月"},
		monthsAbbr: [12]string{"1月", "2月", "3月", "4月", "5月", "6月",
			"7月", "8月", "9月", "10月", "11月", "12月"},
		weekdays: [7]string{"星期日", "星期一", "星期二", "星期三", "星期四", "星期五", "星期六"},
	},
	"ru": {
		short:      "02.01.2006",
		medium:     "{day} {monthabbr} {year} г.",
		long:       "{day} {month} {year} г.",
		full:       "{weekday}, {day} {month} {year} г.",
		timeShort:  "15:04",
		timeMedium: "15:04:05",
		months: [12]string{"января", "февраля", "марта", "апреля", "мая", "июня",
			"июля", "августа", "сентября", "октября", "ноября", "декабря"},
		monthsAbbr: [12]string{"янв.", "февр.", "мар.", "апр.", "мая", "июн.",
			"июл.", "авг.", "сент.", "окт.", "нояб.", "дек."},
		weekdays: [7]string{"воскресенье", "понедельник", "вторник", "среда",
			"четверг", "пятница", "суббота"},
	},
}

// dateFormatFor resolves the rendering data for a tag: exact tag first,
// then its base language, then English.
func dateFormatFor(tag language.Tag) *localeDateFormat {
	if format, ok := dateFormats[tag.String()]; ok {
		return format
	}
	base, _ := tag.Base()
	if format, ok := dateFormats[base.String()]; ok {
		return format
	}
	return dateFormats["en"]
}

// render fills a date pattern with the localized parts of t.
func (f *localeDateFormat) render(pattern string, t time.Time) string {
	replacer := strings.NewReplacer(
		"{year}", strconv.Itoa(t.Year()),
		"{month}", f.months[int(t.Month())-1],
		"{monthabbr}", f.monthsAbbr[int(t.Month())-1],
		"{monthnum}", strconv.Itoa(int(t.Month())),
		"{day}", strconv.Itoa(t.Day()),
		"{weekday}", f.weekdays[int(t.Weekday())],
	)
	return replacer.Replace(pattern)
}

// FormatDate renders the date part of tm for a locale. Unknown locales
// fall back through the matcher to the default locale's conventions.
func (t *Translator) FormatDate(locale string, style DateStyle, tm time.Time) string {
	format := dateFormatFor(t.Match(locale))
	switch style {
	case DateMedium:
		return format.render(format.medium, tm)
	case DateLong:
		return format.render(format.long, tm)
	case DateFull:
		return format.render(format.full, tm)
	default:
		return tm.Format(format.short)
	}
}

// FormatTime renders the time part of tm for a locale. Short omits
// seconds; Long and Full add the zone abbreviation.
func (t *Translator) FormatTime(locale string, style DateStyle, tm time.Time) string {
	format := dateFormatFor(t.Match(locale))
	switch style {
	case DateShort:
		return tm.Format(format.timeShort)
	case DateMedium:
		return tm.Format(format.timeMedium)
	default:
		return tm.Format(format.timeMedium + " MST")
	}
}

// FormatNumber renders a numeric value with the locale's digit grouping
// and decimal separator. Non-numeric values render as fmt would print
// them; the helper never panics.
func (t *Translator) FormatNumber(locale string, v any) string {
	value, ok := normalizeNumber(v)
	if !ok {
		return fmt.Sprint(v)
	}
	printer := t.printer(t.Match(locale))
	return printer.Sprint(number.Decimal(value))
}

// FormatDecimal renders a float with a fixed number of fraction digits.
func (t *Translator) FormatDecimal(locale string, v float64, digits int) string {
	if digits < 0 {
		digits = 0
	}
	printer := t.printer(t.Match(locale))
	return printer.Sprint(number.Decimal(v,
		number.MinFractionDigits(digits),
		number.MaxFractionDigits(digits),
	))
}

// FormatPercent renders a ratio as a percentage: 0.42 becomes "42%"
// under English conventions.
func (t *Translator) FormatPercent(locale string, v float64) string {
	printer := t.printer(t.Match(locale))
	return printer.Sprint(number.Percent(v))
}

// FormatCurrency renders an amount in an ISO 4217 currency with the
// locale's conventions. Unknown codes report ErrCodeUnknownCurrency.
func (t *Translator) FormatCurrency(locale, code string, amount float64) (string, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", NewUnknownCurrencyError(code, err)
	}
	printer := t.printer(t.Match(locale))
	return printer.Sprint(currency.Symbol(unit.Amount(amount))), nil
}

// normalizeNumber widens any numeric primitive for the number formatter.
func normalizeNumber(v any) (any, bool) {
	switch n := v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return n, true
	default:
		return nil, false
	}
}
