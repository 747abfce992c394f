package transcriber

import "strings"

// DeepgramModel is a streaming model and the base language codes it accepts.
type DeepgramModel struct {
	ID        string
	Languages []string
}

// from https://developers.deepgram.com/docs/models-languages-overview
var (
	nova3Langs = []string{
		"ar", "be", "bs", "bg", "ca", "hr", "cs", "da", "nl", "en", "et", "fi",
		"fr", "de", "el", "hi", "hu", "id", "it", "ja", "kn", "ko", "lv", "lt",
		"mk", "ms", "mr", "no", "pl", "pt", "ro", "ru", "sr", "sk", "sl", "es",
		"sv", "tl", "ta", "tr", "uk", "vi",
	}
	nova2Langs = []string{
		"bg", "ca", "zh", "cs", "da", "nl", "en", "et", "fi", "fr", "de", "el",
		"hi", "hu", "id", "it", "ja", "ko", "lv", "lt", "ms", "no", "pl", "pt",
		"ro", "ru", "sk", "es", "sv", "th", "tr", "uk", "vi",
	}
)

var deepgramModels = []DeepgramModel{
	{ID: "nova-3", Languages: nova3Langs},
	{ID: "nova-3-general", Languages: nova3Langs},
	{ID: "nova-2", Languages: nova2Langs},
	{ID: "nova-2-general", Languages: nova2Langs},
	{ID: "nova-2-phonecall", Languages: []string{"en"}},
}

// LookupDeepgramModel reports whether id is a known streaming model.
func LookupDeepgramModel(id string) (DeepgramModel, bool) {
	for _, m := range deepgramModels {
		if m.ID == id {
			return m, true
		}
	}
	return DeepgramModel{}, false
}

// Supports reports whether the model accepts lang. Regional variants
// ("pt-BR") match their base code; an empty lang is the model default.
func (m DeepgramModel) Supports(lang string) bool {
	if lang == "" {
		return true
	}
	base, _, _ := strings.Cut(strings.ReplaceAll(lang, "_", "-"), "-")
	for _, l := range m.Languages {
		if strings.EqualFold(l, base) {
			return true
		}
	}
	return false
}

func normalizeDeepgramLanguage(code string) string {
	if code == "" {
		return ""
	}

	if strings.EqualFold(code, "en") || strings.EqualFold(code, "en-us") || strings.EqualFold(code, "en_us") {
		return "en-US"
	}

	return code
}
