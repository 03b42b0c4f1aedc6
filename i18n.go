// i18n.go: message translation with locale negotiation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package appkit

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// I18nConfig configures a Translator.
type I18nConfig struct {
	// DefaultLocale is the BCP 47 tag served when no better match
	// exists. Defaults to "en".
	DefaultLocale string `json:"default_locale" yaml:"default_locale"`

	// Locales lists the supported BCP 47 tags. The default locale is
	// always included.
	Locales []string `json:"locales" yaml:"locales"`
}

// DefaultI18nConfig returns an English-only configuration.
func DefaultI18nConfig() I18nConfig {
	return I18nConfig{DefaultLocale: "en", Locales: []string{"en"}}
}

// Validate checks that every configured locale is a well-formed BCP 47 tag.
func (c *I18nConfig) Validate() error {
	if c.DefaultLocale != "" {
		if _, err := language.Parse(c.DefaultLocale); err != nil {
			return NewInvalidLocaleError(c.DefaultLocale, err)
		}
	}
	for _, locale := range c.Locales {
		if _, err := language.Parse(locale); err != nil {
			return NewInvalidLocaleError(locale, err)
		}
	}
	return nil
}

// Translator resolves message keys to localized strings and formats
// dates, numbers and currency amounts per locale.
//
// Lookup never fails: an unknown locale falls back through the matcher
// to the default locale, and a key with no translation anywhere renders
// as itself. The zero set of messages is therefore valid; T degrades to
// key-with-args formatting.
type Translator struct {
	defaultTag language.Tag
	tags       []language.Tag
	matcher    language.Matcher
	builder    *catalog.Builder

	// mu protects printers and known
	mu       sync.RWMutex
	printers map[language.Tag]*message.Printer
	known    map[language.Tag]map[string]bool
}

// NewTranslator creates a translator for the configured locale set.
func NewTranslator(config I18nConfig) (*Translator, error) {
	if config.DefaultLocale == "" {
		config.DefaultLocale = "en"
	}
	defaultTag, err := language.Parse(config.DefaultLocale)
	if err != nil {
		return nil, NewInvalidLocaleError(config.DefaultLocale, err)
	}

	// The default tag leads the supported set: matcher ties resolve to
	// the first listed tag.
	tags := []language.Tag{defaultTag}
	seen := map[language.Tag]bool{defaultTag: true}
	for _, locale := range config.Locales {
		tag, err := language.Parse(locale)
		if err != nil {
			return nil, NewInvalidLocaleError(locale, err)
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}

	return &Translator{
		defaultTag: defaultTag,
		tags:       tags,
		matcher:    language.NewMatcher(tags),
		builder:    catalog.NewBuilder(catalog.Fallback(defaultTag)),
		printers:   make(map[language.Tag]*message.Printer),
		known:      make(map[language.Tag]map[string]bool),
	}, nil
}

// SetMessage registers one translation. The locale must be in the
// configured set; the message may contain fmt verbs filled by T's args.
func (t *Translator) SetMessage(locale, key, msg string) error {
	tag, err := t.supportedTag(locale)
	if err != nil {
		return err
	}
	if err := t.builder.SetString(tag, key, msg); err != nil {
		return NewInvalidLocaleError(locale, err)
	}
	t.recordKey(tag, key)
	return nil
}

// LoadMessages bulk-registers translations for one locale. Failures are
// aggregated; valid entries are kept even when others fail.
func (t *Translator) LoadMessages(locale string, messages map[string]string) error {
	tag, err := t.supportedTag(locale)
	if err != nil {
		return err
	}

	var result *multierror.Error
	for key, msg := range messages {
		if err := t.builder.SetString(tag, key, msg); err != nil {
			result = multierror.Append(result, NewInvalidLocaleError(locale, err))
			continue
		}
		t.recordKey(tag, key)
	}
	return result.ErrorOrNil()
}

// T translates a message key for a locale.
//
// Resolution order: best matcher match for the locale, then the default
// locale's translation, then the key itself used as the format string.
// T never returns an error; a garbage locale simply lands on the
// default chain.
func (t *Translator) T(locale, key string, args ...any) string {
	tag := t.Match(locale)
	// The catalog only consults a tag's parent chain, so a key the
	// matched locale never defined must be redirected to the default
	// locale by hand.
	if tag != t.defaultTag && !t.hasMessage(tag, key) {
		tag = t.defaultTag
	}
	return t.printer(tag).Sprintf(key, args...)
}

// Match resolves a single locale string to the best supported tag,
// falling back to the default locale for unknown or malformed input.
func (t *Translator) Match(locale string) language.Tag {
	if locale == "" {
		return t.defaultTag
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return t.defaultTag
	}
	// Use the matcher index: the returned tag may carry synthetic
	// extensions unfit for lookups.
	_, index, conf := t.matcher.Match(tag)
	if conf == language.No {
		return t.defaultTag
	}
	return t.tags[index]
}

// MatchLocale negotiates the best supported tag from Accept-Language
// style inputs. Unparseable or unmatched input yields the default locale.
func (t *Translator) MatchLocale(accept ...string) language.Tag {
	_, index := language.MatchStrings(t.matcher, accept...)
	if index < 0 || index >= len(t.tags) {
		return t.defaultTag
	}
	return t.tags[index]
}

// Locales returns the supported tags, default first.
func (t *Translator) Locales() []language.Tag {
	tags := make([]language.Tag, len(t.tags))
	copy(tags, t.tags)
	return tags
}

// DefaultLocale returns the fallback tag.
func (t *Translator) DefaultLocale() language.Tag { return t.defaultTag }

// supportedTag parses a locale and requires it to be configured.
func (t *Translator) supportedTag(locale string) (language.Tag, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return language.Und, NewInvalidLocaleError(locale, err)
	}
	for _, supported := range t.tags {
		if supported == tag {
			return tag, nil
		}
	}
	return language.Und, NewLocaleUnsupportedError(locale)
}

// recordKey tracks which keys each locale defines, so T can tell a
// translated lookup apart from key-as-format degradation.
func (t *Translator) recordKey(tag language.Tag, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys, ok := t.known[tag]
	if !ok {
		keys = make(map[string]bool)
		t.known[tag] = keys
	}
	keys[key] = true
}

// hasMessage reports whether key is defined for tag or one of its
// parents, mirroring the catalog's own lookup chain.
func (t *Translator) hasMessage(tag language.Tag, key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for ; ; tag = tag.Parent() {
		if t.known[tag][key] {
			return true
		}
		if tag == language.Und {
			return false
		}
	}
}

// printer returns the cached message printer for a supported tag.
func (t *Translator) printer(tag language.Tag) *message.Printer {
	t.mu.RLock()
	printer, ok := t.printers[tag]
	t.mu.RUnlock()
	if ok {
		return printer
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double-check after acquiring write lock
	if printer, ok := t.printers[tag]; ok {
		return printer
	}
	printer = message.NewPrinter(tag, message.Catalog(t.builder))
	t.printers[tag] = printer
	return printer
}
