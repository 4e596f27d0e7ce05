// Package alert renders persisted notifications into localized, user-facing
// payloads. Phrase templates are selected by notification type and locale,
// with en-us as the fallback; template data beyond the embedded defaults is
// loaded from TOML phrase packs.
package alert

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/herald-io/herald/model"
)

// DefaultLocale is used when a subscription has no locale or the locale has
// no phrase for the notification type.
const DefaultLocale = "en-us"

// Phrase is one localized template pair. Templates substitute {user},
// {story_type}, {reaction_type}, {branch}, {title}, {name} and media counts.
type Phrase struct {
	Title   string `toml:"title"`
	Message string `toml:"message"`
}

// phrasePack is the on-disk form of one locale's phrases.
type phrasePack struct {
	Phrases map[string]Phrase `toml:"phrases"`
}

// Composer selects and fills phrase templates.
type Composer struct {
	phrases map[string]map[string]Phrase // locale -> type -> phrase
}

// NewComposer creates a composer holding the embedded en-us phrases.
func NewComposer() *Composer {
	return &Composer{
		phrases: map[string]map[string]Phrase{
			DefaultLocale: defaultPhrases(),
		},
	}
}

// LoadLocales merges phrase packs ({locale}.toml) from a directory.
// Missing directory is not an error; a broken pack is skipped.
func (c *Composer) LoadLocales(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read phrases dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		locale := strings.TrimSuffix(entry.Name(), ".toml")

		var pack phrasePack
		if _, err := toml.DecodeFile(filepath.Join(dir, entry.Name()), &pack); err != nil {
			log.Warn().Err(err).Str("locale", locale).Msg("Skipping broken phrase pack")
			continue
		}

		merged := c.phrases[locale]
		if merged == nil {
			merged = make(map[string]Phrase, len(pack.Phrases))
		}
		for typ, p := range pack.Phrases {
			merged[typ] = p
		}
		c.phrases[locale] = merged
		log.Info().Str("locale", locale).Int("phrases", len(pack.Phrases)).Msg("Loaded phrase pack")
	}
	return nil
}

// Format renders one notification for one recipient locale.
func (c *Composer) Format(system *model.SystemSettings, schema string, actor *model.User, n *model.Notification, locale string) *model.Alert {
	phrase := c.lookup(locale, n.Type)

	vars := map[string]string{
		"user":   actorName(actor),
		"schema": schema,
	}
	if system != nil && system.Address != "" {
		vars["site"] = system.Address
	}
	for key, v := range n.Details {
		switch tv := v.(type) {
		case string:
			vars[key] = tv
		case int64:
			vars[key] = strconv.FormatInt(tv, 10)
		case int:
			vars[key] = strconv.Itoa(tv)
		case float64:
			vars[key] = strconv.FormatInt(int64(tv), 10)
		}
	}

	a := &model.Alert{
		Type:       n.Type,
		Title:      substitute(phrase.Title, vars),
		Message:    substitute(phrase.Message, vars),
		Schema:     schema,
		StoryID:    n.StoryID,
		ReactionID: n.ReactionID,
	}
	if actor != nil {
		a.ProfileImage = actor.ProfileImage
	}
	return a
}

// lookup degrades from the requested locale to en-us, then to the generic
// phrase within whichever locale hit.
func (c *Composer) lookup(locale, typ string) Phrase {
	for _, loc := range []string{locale, DefaultLocale} {
		if loc == "" {
			continue
		}
		pack, ok := c.phrases[strings.ToLower(loc)]
		if !ok {
			continue
		}
		if p, ok := pack[typ]; ok {
			return p
		}
		if p, ok := pack["default"]; ok {
			return p
		}
	}
	return Phrase{Title: "Notification", Message: "{user} did something"}
}

func actorName(actor *model.User) string {
	if actor == nil {
		return "Someone"
	}
	if actor.DisplayName != "" {
		return actor.DisplayName
	}
	return actor.Name
}

// substitute replaces {key} tokens. Unknown tokens are removed so partial
// detail sets don't leak placeholders to users.
func substitute(tmpl string, vars map[string]string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(tmpl, '{')
		if start < 0 {
			b.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[start:], '}')
		if end < 0 {
			b.WriteString(tmpl)
			break
		}
		b.WriteString(tmpl[:start])
		key := tmpl[start+1 : start+end]
		b.WriteString(vars[key])
		tmpl = tmpl[start+end+1:]
	}
	return strings.TrimSpace(strings.Join(strings.Fields(b.String()), " "))
}
