// Package language models subtitle languages as ISO 639-3 values with
// optional country and script qualifiers, and converts between the many
// code families subtitle providers speak.
package language

import (
	"errors"
	"fmt"
	"strings"
)

// Parse and conversion failures wrap these sentinels.
var (
	ErrUnknownLanguage  = errors.New("unknown language")
	ErrUnknownConverter = errors.New("unknown language converter")
	ErrNoConversion     = errors.New("language not convertible")
)

// Language identifies a language by its ISO 639-3 code, optionally
// qualified by an ISO 3166-1 alpha-2 country and an ISO 15924 script.
// The zero value is the undefined language.
//
// Language is comparable; two values are the same language exactly when
// all three fields are equal.
type Language struct {
	Alpha3  string // lowercase ISO 639-3, "" means undefined
	Country string // uppercase ISO 3166-1 alpha-2, may be empty
	Script  string // title-case ISO 15924, may be empty
}

type entry struct {
	alpha2  string // ISO 639-1, may be empty
	alpha3  string // ISO 639-3 / 639-2T
	alpha3b string // ISO 639-2B bibliographic variant, may be empty
	name    string
}

// The languages subtitle providers actually serve. Codes outside this
// table still parse as bare alpha-3 values so unusual provider output
// does not error out, but they get no alpha-2 form or display name.
var languages = []entry{
	{"af", "afr", "", "Afrikaans"},
	{"ar", "ara", "", "Arabic"},
	{"az", "aze", "", "Azerbaijani"},
	{"be", "bel", "", "Belarusian"},
	{"bg", "bul", "", "Bulgarian"},
	{"bn", "ben", "", "Bengali"},
	{"bs", "bos", "", "Bosnian"},
	{"ca", "cat", "", "Catalan"},
	{"cs", "ces", "cze", "Czech"},
	{"cy", "cym", "wel", "Welsh"},
	{"da", "dan", "", "Danish"},
	{"de", "deu", "ger", "German"},
	{"el", "ell", "gre", "Greek"},
	{"en", "eng", "", "English"},
	{"eo", "epo", "", "Esperanto"},
	{"es", "spa", "", "Spanish"},
	{"et", "est", "", "Estonian"},
	{"eu", "eus", "baq", "Basque"},
	{"fa", "fas", "per", "Persian"},
	{"fi", "fin", "", "Finnish"},
	{"", "fil", "", "Filipino"},
	{"fr", "fra", "fre", "French"},
	{"gl", "glg", "", "Galician"},
	{"he", "heb", "", "Hebrew"},
	{"hi", "hin", "", "Hindi"},
	{"hr", "hrv", "", "Croatian"},
	{"hu", "hun", "", "Hungarian"},
	{"hy", "hye", "arm", "Armenian"},
	{"id", "ind", "", "Indonesian"},
	{"is", "isl", "ice", "Icelandic"},
	{"it", "ita", "", "Italian"},
	{"ja", "jpn", "", "Japanese"},
	{"ka", "kat", "geo", "Georgian"},
	{"kk", "kaz", "", "Kazakh"},
	{"ko", "kor", "", "Korean"},
	{"lt", "lit", "", "Lithuanian"},
	{"lv", "lav", "", "Latvian"},
	{"mk", "mkd", "mac", "Macedonian"},
	{"ml", "mal", "", "Malayalam"},
	{"ms", "msa", "may", "Malay"},
	{"nb", "nob", "", "Norwegian Bokmal"},
	{"nl", "nld", "dut", "Dutch"},
	{"no", "nor", "", "Norwegian"},
	{"pl", "pol", "", "Polish"},
	{"pt", "por", "", "Portuguese"},
	{"ro", "ron", "rum", "Romanian"},
	{"ru", "rus", "", "Russian"},
	{"si", "sin", "", "Sinhala"},
	{"sk", "slk", "slo", "Slovak"},
	{"sl", "slv", "", "Slovenian"},
	{"sq", "sqi", "alb", "Albanian"},
	{"sr", "srp", "", "Serbian"},
	{"sv", "swe", "", "Swedish"},
	{"ta", "tam", "", "Tamil"},
	{"te", "tel", "", "Telugu"},
	{"th", "tha", "", "Thai"},
	{"tl", "tgl", "", "Tagalog"},
	{"tr", "tur", "", "Turkish"},
	{"uk", "ukr", "", "Ukrainian"},
	{"ur", "urd", "", "Urdu"},
	{"vi", "vie", "", "Vietnamese"},
	{"zh", "zho", "chi", "Chinese"},
}

var (
	byAlpha2 map[string]*entry
	byAlpha3 map[string]*entry // includes bibliographic variants
	byName   map[string]*entry
)

func init() {
	byAlpha2 = make(map[string]*entry, len(languages))
	byAlpha3 = make(map[string]*entry, len(languages)*2)
	byName = make(map[string]*entry, len(languages))
	for i := range languages {
		e := &languages[i]
		if e.alpha2 != "" {
			byAlpha2[e.alpha2] = e
		}
		byAlpha3[e.alpha3] = e
		if e.alpha3b != "" {
			byAlpha3[e.alpha3b] = e
		}
		byName[strings.ToLower(e.name)] = e
	}

	RegisterConverter("alpha2", alpha2Converter{})
	RegisterConverter("alpha3b", alpha3bConverter{})
	RegisterConverter("name", nameConverter{})
}

// Undefined is the zero Language. Subtitles whose language is not known
// carry it; its IETF tag is "und".
var Undefined = Language{}

// All returns every language in the table, without qualifiers.
// Providers use it to declare broad language support.
func All() []Language {
	out := make([]Language, len(languages))
	for i := range languages {
		out[i] = Language{Alpha3: languages[i].alpha3}
	}
	return out
}

// Make builds a Language from an alpha-3 code plus optional qualifiers
// without consulting the table. Inputs are normalized but not validated.
func Make(alpha3, country, script string) Language {
	l := Language{Alpha3: strings.ToLower(strings.TrimSpace(alpha3))}
	if l.Alpha3 == "und" {
		l.Alpha3 = ""
	}
	if country = strings.TrimSpace(country); country != "" {
		l.Country = strings.ToUpper(country)
	}
	if script = strings.TrimSpace(script); script != "" {
		l.Script = strings.ToUpper(script[:1]) + strings.ToLower(script[1:])
	}
	return l
}

// FromAlpha3 resolves a 3-letter code, accepting bibliographic variants
// (fre, ger, chi, ...) and normalizing them to the terminological form.
func FromAlpha3(code string) (Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" || code == "und" {
		return Undefined, nil
	}
	if e, ok := byAlpha3[code]; ok {
		return Language{Alpha3: e.alpha3}, nil
	}
	if len(code) == 3 && isAlphabetic(code) {
		return Language{Alpha3: code}, nil
	}
	return Undefined, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
}

// FromAlpha2 resolves a 2-letter ISO 639-1 code.
func FromAlpha2(code string) (Language, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return Undefined, nil
	}
	if e, ok := byAlpha2[code]; ok {
		return Language{Alpha3: e.alpha3}, nil
	}
	return Undefined, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
}

// FromName resolves an English language name ("French", "portuguese").
func FromName(name string) (Language, error) {
	if e, ok := byName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return Language{Alpha3: e.alpha3}, nil
	}
	return Undefined, fmt.Errorf("%w: %q", ErrUnknownLanguage, name)
}

// FromIETF parses an IETF tag of the shape language[-Script][-COUNTRY],
// with the language subtag in either alpha-2 or alpha-3 form.
// "und" and the empty string parse to the undefined language.
func FromIETF(tag string) (Language, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.EqualFold(tag, "und") {
		return Undefined, nil
	}

	parts := strings.Split(tag, "-")
	var l Language
	var err error
	switch len(parts[0]) {
	case 2:
		l, err = FromAlpha2(parts[0])
	case 3:
		l, err = FromAlpha3(parts[0])
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownLanguage, tag)
	}
	if err != nil {
		return Undefined, err
	}

	for _, sub := range parts[1:] {
		switch len(sub) {
		case 4:
			l.Script = strings.ToUpper(sub[:1]) + strings.ToLower(sub[1:])
		case 2:
			l.Country = strings.ToUpper(sub)
		default:
			return Undefined, fmt.Errorf("%w: %q", ErrUnknownLanguage, tag)
		}
	}
	return l, nil
}

// Parse accepts any of the forms the other constructors accept: an IETF
// tag, a bare alpha-2 or alpha-3 code, or an English name.
func Parse(s string) (Language, error) {
	if l, err := FromIETF(s); err == nil {
		return l, nil
	}
	if l, err := FromName(s); err == nil {
		return l, nil
	}
	return Undefined, fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// IsUndefined reports whether l is the undefined language.
func (l Language) IsUndefined() bool {
	return l.Alpha3 == ""
}

// Alpha2 returns the ISO 639-1 code, or "" when the language has none.
func (l Language) Alpha2() string {
	if e, ok := byAlpha3[l.Alpha3]; ok {
		return e.alpha2
	}
	return ""
}

// Name returns the English display name, or the bare code when the
// language is outside the table.
func (l Language) Name() string {
	if e, ok := byAlpha3[l.Alpha3]; ok {
		return e.name
	}
	if l.Alpha3 == "" {
		return "Undefined"
	}
	return strings.ToUpper(l.Alpha3)
}

// String returns the IETF tag: the shortest language subtag (alpha-2
// when one exists), then the script, then the country. The undefined
// language renders as "und". FromIETF(l.String()) == l for every l.
func (l Language) String() string {
	if l.IsUndefined() {
		return "und"
	}
	base := l.Alpha3
	if a2 := l.Alpha2(); a2 != "" {
		base = a2
	}
	var b strings.Builder
	b.WriteString(base)
	if l.Script != "" {
		b.WriteByte('-')
		b.WriteString(l.Script)
	}
	if l.Country != "" {
		b.WriteByte('-')
		b.WriteString(l.Country)
	}
	return b.String()
}

func isAlphabetic(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
