// Package custom implements providers driven by YAML definition files.
// A definition names a site, its search endpoint and the CSS selectors
// that turn result rows into subtitles, so new scraping providers ship
// as data instead of code.
package custom

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/sublight/sublight/internal/language"
	"github.com/sublight/sublight/internal/video"
)

// Definition describes one site. Parse it with ParseDefinition and
// validate before use.
type Definition struct {
	Name      string   `yaml:"name"`
	BaseURL   string   `yaml:"base_url"`
	Kinds     []string `yaml:"kinds"`     // movie, episode; empty means both
	Languages []string `yaml:"languages"` // IETF codes the site serves
	// Language fixes every result to one IETF code, for single-language
	// sites without a language column.
	Language string `yaml:"language"`

	Search   SearchBlock   `yaml:"search"`
	Download DownloadBlock `yaml:"download"`
}

// SearchBlock defines how to query the site and parse result rows.
// Path and Inputs are templates over the search context.
type SearchBlock struct {
	Path   string            `yaml:"path"`
	Method string            `yaml:"method"` // GET (default) or POST
	Inputs map[string]string `yaml:"inputs"`
	Rows   string            `yaml:"rows"`   // CSS selector for result rows
	Fields map[string]Field  `yaml:"fields"` // download, language, release, page, id
}

// Field extracts one value from a result row. Text short-circuits with
// a static value; Attribute reads an attribute instead of the node text.
type Field struct {
	Selector  string `yaml:"selector"`
	Attribute string `yaml:"attribute"`
	Text      string `yaml:"text"`
	Optional  bool   `yaml:"optional"`
}

// DownloadBlock tunes the download step. Archives are detected from
// content regardless, Referer covers sites that check it.
type DownloadBlock struct {
	Referer string `yaml:"referer"`
}

// ParseDefinition parses a YAML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parsing definition: %w", err)
	}
	return &def, nil
}

// ParseDefinitionFile parses a YAML definition from a file.
func ParseDefinitionFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}
	return ParseDefinition(data)
}

// Validate checks the definition is complete enough to compile into a
// provider.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("definition needs a name")
	}
	if d.BaseURL == "" {
		return fmt.Errorf("definition %s: base_url is required", d.Name)
	}
	if d.Search.Path == "" {
		return fmt.Errorf("definition %s: search.path is required", d.Name)
	}
	if d.Search.Rows == "" {
		return fmt.Errorf("definition %s: search.rows is required", d.Name)
	}
	if _, ok := d.Search.Fields["download"]; !ok {
		return fmt.Errorf("definition %s: search.fields.download is required", d.Name)
	}
	for _, kind := range d.Kinds {
		if k := video.Kind(kind); k != video.KindMovie && k != video.KindEpisode {
			return fmt.Errorf("definition %s: unknown kind %q", d.Name, kind)
		}
	}
	if len(d.Languages) == 0 {
		return fmt.Errorf("definition %s: languages is required", d.Name)
	}
	for _, code := range d.Languages {
		if _, err := language.FromIETF(code); err != nil {
			return fmt.Errorf("definition %s: language %q: %w", d.Name, code, err)
		}
	}
	if d.Language != "" {
		if _, err := language.FromIETF(d.Language); err != nil {
			return fmt.Errorf("definition %s: language %q: %w", d.Name, d.Language, err)
		}
	}
	_, hasLangField := d.Search.Fields["language"]
	if !hasLangField && d.Language == "" && !d.languageParameterized() {
		return fmt.Errorf("definition %s: needs a language field, a fixed language or a {{ .Language }} search parameter", d.Name)
	}
	return nil
}

// VideoKinds returns the kinds the definition serves, defaulting to
// both.
func (d *Definition) VideoKinds() []video.Kind {
	if len(d.Kinds) == 0 {
		return []video.Kind{video.KindMovie, video.KindEpisode}
	}
	kinds := make([]video.Kind, 0, len(d.Kinds))
	for _, kind := range d.Kinds {
		kinds = append(kinds, video.Kind(kind))
	}
	return kinds
}

// LanguageSet parses the definition's language list.
func (d *Definition) LanguageSet() language.Set {
	set := language.NewSet()
	for _, code := range d.Languages {
		if l, err := language.FromIETF(code); err == nil {
			set.Add(l)
		}
	}
	return set
}

// languageParameterized reports whether the search templates reference
// the queried language, meaning one query runs per language.
func (d *Definition) languageParameterized() bool {
	if strings.Contains(d.Search.Path, ".Language") {
		return true
	}
	for _, input := range d.Search.Inputs {
		if strings.Contains(input, ".Language") {
			return true
		}
	}
	return false
}

// searchContext is the data available to search templates.
type searchContext struct {
	Keywords string
	Series   string
	Title    string
	Season   int
	Episode  int
	Year     int
	Language string // IETF code of the queried language, when parameterized
}

var templateFuncs = template.FuncMap{
	"tolower": strings.ToLower,
	"toupper": strings.ToUpper,
	"replace": strings.ReplaceAll,
}

// evaluate renders one template string against the search context.
// Strings without template markers pass through untouched.
func evaluate(tmplStr string, ctx *searchContext) (string, error) {
	if !strings.Contains(tmplStr, "{{") {
		return tmplStr, nil
	}
	tmpl, err := template.New("").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return "", fmt.Errorf("template parse error: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("template execute error: %w", err)
	}
	return buf.String(), nil
}

// evaluateAll renders a template map against the search context.
func evaluateAll(templates map[string]string, ctx *searchContext) (map[string]string, error) {
	result := make(map[string]string, len(templates))
	for key, tmpl := range templates {
		val, err := evaluate(tmpl, ctx)
		if err != nil {
			return nil, fmt.Errorf("evaluating %s: %w", key, err)
		}
		result[key] = val
	}
	return result, nil
}
