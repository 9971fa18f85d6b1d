package inbox

import "unicode/utf8"

const (
	LanguageArabic  = "Arabic"
	LanguageEnglish = "English"
)

// DetectLanguage reports Arabic when more than 30% of the runes fall in the
// Arabic block (U+0600-U+06FF), English otherwise.
func DetectLanguage(text string) string {
	total := utf8.RuneCountInString(text)
	if total == 0 {
		return LanguageEnglish
	}
	arabic := 0
	for _, r := range text {
		if r >= 0x0600 && r <= 0x06FF {
			arabic++
		}
	}
	if float64(arabic) > float64(total)*0.3 {
		return LanguageArabic
	}
	return LanguageEnglish
}

// Preview truncates text to the stored last-message length.
func Preview(text string) string {
	const max = 500
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}
