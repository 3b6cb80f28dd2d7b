// Package i18n renders player notices and surfaced errors in the configured language.
package i18n

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

const (
	// DefaultLanguage is the fallback language when no translation is available
	DefaultLanguage = "en"
	// KoreanMessages is the language of the original listening-room UI
	KoreanMessages = "ko"
)

var (
	catalogs = map[string]map[string]string{
		DefaultLanguage: englishMessages,
		KoreanMessages:  koreanMessages,
	}

	// index order matches the matcher's tags
	supported = []string{DefaultLanguage, KoreanMessages}
	matcher   = language.NewMatcher([]language.Tag{language.English, language.Korean})
)

// Localizer renders notice keys. A key missing from its catalog falls back to English, then to
// the key itself.
type Localizer struct {
	language string
	messages map[string]string
}

// NewLocalizer returns a localizer for the supported language closest to tag.
func NewLocalizer(tag string) *Localizer {
	lang, _ := Match(tag)
	return &Localizer{language: lang, messages: catalogs[lang]}
}

// Match resolves a language tag such as "ko-KR" or "en_US" to a supported language.
// ok is false when nothing supported is close and DefaultLanguage was chosen.
func Match(tag string) (lang string, ok bool) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return DefaultLanguage, false
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return DefaultLanguage, false
	}
	_, index, confidence := matcher.Match(parsed)
	if confidence == language.No {
		return DefaultLanguage, false
	}
	return supported[index], true
}

// Language is the catalog in use.
func (l *Localizer) Language() string {
	return l.language
}

// T renders key with args applied as format verbs.
func (l *Localizer) T(key string, args ...any) string {
	message, ok := l.messages[key]
	if !ok {
		message, ok = englishMessages[key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return message
	}
	return fmt.Sprintf(message, args...)
}

// GetSupportedLanguages returns the supported language codes, default first.
func GetSupportedLanguages() []string {
	return append([]string(nil), supported...)
}

func getMessages(lang string) map[string]string {
	if messages, ok := catalogs[lang]; ok {
		return messages
	}
	return englishMessages
}
