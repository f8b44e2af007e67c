package translate

import "testing"

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"This is a perfectly ordinary English sentence written for a language detector.", "en"},
		{"Это длинное предложение на русском языке, написанное специально для проверки.", "ru"},
	}
	for _, tc := range cases {
		if got := DetectLanguage(tc.text); got != tc.want {
			t.Errorf("DetectLanguage(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestDetectLanguageEmptyInput(t *testing.T) {
	if got := DetectLanguage(""); got != "" {
		t.Errorf("empty input should yield no tag, got %q", got)
	}
}
