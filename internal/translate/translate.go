// Package translate defines the translation backend API and a source
// language sniffer. The Google implementation lives in the google
// subpackage.
package translate

import (
	"context"
	"errors"

	"github.com/abadojack/whatlanggo"
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// Language is one target language a backend can translate into.
type Language struct {
	Code string `json:"language"`
	Name string `json:"name,omitempty"`
}

// Translator is the full backend API. The fan-out engine only needs
// Translate; SupportedLanguages backs preference validation.
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
	SupportedLanguages(ctx context.Context) ([]Language, error)
}

// DetectLanguage sniffs the ISO 639-1 code of text, "" when the detector
// is not confident enough to commit.
func DetectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
