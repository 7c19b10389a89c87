// Package locales provides localized user-facing message lookup for the
// closed error-code taxonomy. Catalogs are embedded at build time; English
// is the fallback for unknown locales and missing entries.
package locales

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed en.json ar.json
var catalogFS embed.FS

type catalog struct {
	Errors map[string]string `json:"ERRORS"`
}

var catalogs = map[string]catalog{}

func init() {
	for _, name := range []string{"en", "ar"} {
		data, err := catalogFS.ReadFile(name + ".json")
		if err != nil {
			panic(fmt.Sprintf("locales: embedded catalog %s: %v", name, err))
		}
		var c catalog
		if err := json.Unmarshal(data, &c); err != nil {
			panic(fmt.Sprintf("locales: parse catalog %s: %v", name, err))
		}
		catalogs[name] = c
	}
}

// Supported reports whether lang has an embedded catalog.
func Supported(lang string) bool {
	_, ok := catalogs[lang]
	return ok
}

// Normalize maps an arbitrary language tag to a supported locale,
// defaulting to English.
func Normalize(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if len(lang) > 2 {
		lang = lang[:2]
	}
	if Supported(lang) {
		return lang
	}
	return "en"
}

// Message returns the localized template for code with {param} placeholders
// interpolated from params. Unknown codes fall back to the code itself.
func Message(code string, params map[string]interface{}, locale string) string {
	c, ok := catalogs[Normalize(locale)]
	if !ok {
		c = catalogs["en"]
	}
	template, ok := c.Errors[code]
	if !ok {
		template, ok = catalogs["en"].Errors[code]
		if !ok {
			return code
		}
	}
	for key, value := range params {
		template = strings.ReplaceAll(template, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return template
}
