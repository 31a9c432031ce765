// Package locale resolves account and institution locale strings and
// translates the few fixed strings that appear in outbound messages.
package locale

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Message keys. The English text doubles as the key.
const (
	AnonymousUser = "Anonymous User"
	NoEmail       = "[no email]"
	NoPhone       = "[no phone]"
)

var (
	Default   = language.AmericanEnglish
	supported = []language.Tag{language.AmericanEnglish, language.Spanish, language.French}
	matcher   = language.NewMatcher(supported)
	messages  = newCatalog()
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(Default))
	translations := map[language.Tag][3]string{
		language.AmericanEnglish: {AnonymousUser, NoEmail, NoPhone},
		language.Spanish:         {"Usuario anónimo", "[sin correo electrónico]", "[sin teléfono]"},
		language.French:          {"Utilisateur anonyme", "[pas d'e-mail]", "[pas de téléphone]"},
	}
	for tag, t := range translations {
		_ = b.SetString(tag, AnonymousUser, t[0])
		_ = b.SetString(tag, NoEmail, t[1])
		_ = b.SetString(tag, NoPhone, t[2])
	}
	return b
}

// Parse reads a locale such as "en-US" or "es_MX". Unparseable input yields
// Default.
func Parse(locale string) language.Tag {
	locale = strings.ReplaceAll(strings.TrimSpace(locale), "_", "-")
	if locale == "" {
		return Default
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return Default
	}
	return tag
}

// Match returns the closest supported language for a locale.
func Match(locale string) language.Tag {
	_, idx, conf := matcher.Match(Parse(locale))
	if conf == language.No {
		return Default
	}
	return supported[idx]
}

// Printer returns a printer for the closest supported language.
func Printer(locale string) *message.Printer {
	return message.NewPrinter(Match(locale), message.Catalog(messages))
}

// Translate returns the text for key in the given locale.
func Translate(locale, key string) string {
	return Printer(locale).Sprintf(key)
}

// Region returns the locale's explicit region code ("US" for "en-US"). ok
// is false when the locale names no region.
func Region(locale string) (region string, ok bool) {
	r, conf := Parse(locale).Region()
	if conf != language.Exact {
		return "", false
	}
	return r.String(), true
}
