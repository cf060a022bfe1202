package language

import (
	"fmt"
	"strings"
	"sync"
)

// Converter translates between Language values and the code family of
// one provider or standard. Reverse must invert Convert for every code
// the converter emits.
type Converter interface {
	Convert(l Language) (string, error)
	Reverse(code string) (Language, error)
}

var (
	convMu     sync.RWMutex
	converters = make(map[string]Converter)
)

// RegisterConverter installs a converter under name, replacing any
// previous registration. Provider packages call this from init.
func RegisterConverter(name string, c Converter) {
	convMu.Lock()
	defer convMu.Unlock()
	converters[name] = c
}

// ConverterNames returns the registered converter names, unsorted.
func ConverterNames() []string {
	convMu.RLock()
	defer convMu.RUnlock()
	names := make([]string, 0, len(converters))
	for name := range converters {
		names = append(names, name)
	}
	return names
}

func converter(name string) (Converter, error) {
	convMu.RLock()
	defer convMu.RUnlock()
	c, ok := converters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConverter, name)
	}
	return c, nil
}

// Convert renders l in the named converter's code family.
func Convert(name string, l Language) (string, error) {
	c, err := converter(name)
	if err != nil {
		return "", err
	}
	return c.Convert(l)
}

// Reverse resolves a code from the named converter's family back to a
// Language.
func Reverse(name, code string) (Language, error) {
	c, err := converter(name)
	if err != nil {
		return Undefined, err
	}
	return c.Reverse(code)
}

type alpha2Converter struct{}

func (alpha2Converter) Convert(l Language) (string, error) {
	if a2 := l.Alpha2(); a2 != "" {
		return a2, nil
	}
	return "", fmt.Errorf("%w: %s has no alpha-2 code", ErrNoConversion, l)
}

func (alpha2Converter) Reverse(code string) (Language, error) {
	return FromAlpha2(code)
}

type alpha3bConverter struct{}

func (alpha3bConverter) Convert(l Language) (string, error) {
	if e, ok := byAlpha3[l.Alpha3]; ok {
		if e.alpha3b != "" {
			return e.alpha3b, nil
		}
		return e.alpha3, nil
	}
	if l.Alpha3 != "" {
		return l.Alpha3, nil
	}
	return "", fmt.Errorf("%w: undefined language", ErrNoConversion)
}

func (alpha3bConverter) Reverse(code string) (Language, error) {
	return FromAlpha3(code)
}

type nameConverter struct{}

func (nameConverter) Convert(l Language) (string, error) {
	if e, ok := byAlpha3[l.Alpha3]; ok {
		return e.name, nil
	}
	return "", fmt.Errorf("%w: no name for %s", ErrNoConversion, l)
}

func (nameConverter) Reverse(code string) (Language, error) {
	return FromName(code)
}

// MapConverter adapts a plain code map into a Converter. Provider
// packages build their converters from these tables; the reverse index
// is derived, with explicit extra reverse entries for aliases.
type MapConverter struct {
	ToCode   map[Language]string
	FromCode map[string]Language
}

// NewMapConverter builds a MapConverter from a forward table, deriving
// the reverse index. Aliases maps extra inbound codes to languages.
func NewMapConverter(forward map[Language]string, aliases map[string]Language) *MapConverter {
	from := make(map[string]Language, len(forward)+len(aliases))
	for l, code := range forward {
		from[strings.ToLower(code)] = l
	}
	for code, l := range aliases {
		from[strings.ToLower(code)] = l
	}
	return &MapConverter{ToCode: forward, FromCode: from}
}

func (c *MapConverter) Convert(l Language) (string, error) {
	if code, ok := c.ToCode[l]; ok {
		return code, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoConversion, l)
}

func (c *MapConverter) Reverse(code string) (Language, error) {
	if l, ok := c.FromCode[strings.ToLower(strings.TrimSpace(code))]; ok {
		return l, nil
	}
	return Undefined, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
}
