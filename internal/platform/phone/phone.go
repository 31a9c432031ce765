// Package phone formats stored phone numbers for people to read.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/Penn-Medicine-CHCI/cobalt-api-sub001/internal/platform/locale"
)

type Formatter struct {
	defaultRegion string
}

// NewFormatter parses numbers without a country code as belonging to
// defaultRegion unless the reader's locale names a region.
func NewFormatter(defaultRegion string) *Formatter {
	if defaultRegion == "" {
		defaultRegion = "US"
	}
	return &Formatter{defaultRegion: strings.ToUpper(defaultRegion)}
}

// Format renders number for a reader in loc. Numbers in the reader's own
// country are shown in national format, others in international format.
// A blank number yields the localized "[no phone]"; an unparseable one is
// returned trimmed rather than dropped.
func (f *Formatter) Format(number, loc string) string {
	number = strings.TrimSpace(number)
	if number == "" {
		return locale.Translate(loc, locale.NoPhone)
	}

	region := f.defaultRegion
	if r, ok := locale.Region(loc); ok {
		region = r
	}

	num, err := phonenumbers.Parse(number, region)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return number
	}
	if int(num.GetCountryCode()) == phonenumbers.GetCountryCodeForRegion(region) {
		return phonenumbers.Format(num, phonenumbers.NATIONAL)
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// Normalize returns the E.164 form of number, or false when it cannot be
// parsed.
func (f *Formatter) Normalize(number string) (string, bool) {
	num, err := phonenumbers.Parse(strings.TrimSpace(number), f.defaultRegion)
	if err != nil || !phonenumbers.IsPossibleNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}
