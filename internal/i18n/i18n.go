// Package i18n localizes the messages the API returns to students.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var localeFS embed.FS

type ctxKey struct{}

// Translator holds the message bundle and the fallback language.
type Translator struct {
	bundle   *i18n.Bundle
	fallback language.Tag
	matcher  language.Matcher
}

// New loads the embedded translations. lang is used when a request asks for
// nothing the bundle has.
func New(lang string) (*Translator, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("parse language %q: %w", lang, err)
	}

	bundle := i18n.NewBundle(tag)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := localeFS.ReadFile("locales/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read locale file %s: %w", e.Name(), err)
		}
		if _, err := bundle.ParseMessageFileBytes(data, e.Name()); err != nil {
			return nil, fmt.Errorf("parse locale file %s: %w", e.Name(), err)
		}
		slog.Debug("loaded locale file", "file", e.Name())
	}

	// The fallback goes first so the matcher prefers it on ties.
	tags := []language.Tag{tag}
	for _, t := range bundle.LanguageTags() {
		if t != tag {
			tags = append(tags, t)
		}
	}
	return &Translator{bundle: bundle, fallback: tag, matcher: language.NewMatcher(tags)}, nil
}

// Match returns the supported language closest to an Accept-Language value.
func (tr *Translator) Match(acceptLanguage string) language.Tag {
	wanted, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(wanted) == 0 {
		return tr.fallback
	}
	tag, _, _ := tr.matcher.Match(wanted...)
	base, _ := tag.Base()
	return language.Make(base.String())
}

// NewLocalizer creates a localizer for the given languages, most preferred
// first, falling back to the default language.
func (tr *Translator) NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(tr.bundle, append(langs, tr.fallback.String())...)
}

// WithLocalizer stores a localizer in the context.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, ctxKey{}, loc)
}

func (tr *Translator) localizerFromCtx(ctx context.Context) *i18n.Localizer {
	if loc, ok := ctx.Value(ctxKey{}).(*i18n.Localizer); ok {
		return loc
	}
	return tr.NewLocalizer()
}

// T translates a message by ID.
func (tr *Translator) T(ctx context.Context, msgID string) string {
	return tr.localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td translates a message by ID with template data.
func (tr *Translator) Td(ctx context.Context, msgID string, data map[string]any) string {
	return tr.localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp translates a pluralized message by ID.
func (tr *Translator) Tp(ctx context.Context, msgID string, count int) string {
	return tr.localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}

func (tr *Translator) localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	s, err := tr.localizerFromCtx(ctx).Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}
