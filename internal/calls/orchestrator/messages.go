package orchestrator

import "strings"

const (
	msgGreeting      = "greeting"
	msgNotUnderstood = "not_understood"
	msgTransfer      = "transfer"
	msgGoodbye       = "goodbye"
)

var messages = map[string]map[string]string{
	"ar": {
		msgGreeting:      "مرحباً بك، كيف يمكنني مساعدتك اليوم؟",
		msgNotUnderstood: "عذراً، لم أفهم ما قلته. هل يمكنك الإعادة من فضلك؟",
		msgTransfer:      "أواجه صعوبة في الوقت الحالي، سأقوم بتحويلك إلى أحد موظفينا.",
		msgGoodbye:       "شكراً لاتصالك. مع السلامة.",
	},
	"en": {
		msgGreeting:      "Hello, how can I help you today?",
		msgNotUnderstood: "Sorry, I could not understand that. Could you please repeat?",
		msgTransfer:      "I'm having trouble right now, let me transfer you to one of our agents.",
		msgGoodbye:       "Thank you for calling. Goodbye.",
	},
}

// baseLanguage reduces a tag such as "ar-EG" to "ar". Anything without a message set falls back to English.
func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if _, ok := messages[lang]; ok {
		return lang
	}
	return "en"
}

func message(lang, key string) string {
	return messages[baseLanguage(lang)][key]
}

var languageNames = map[string]string{"ar": "Arabic", "en": "English"}

func languageInstruction(lang string) string {
	name := languageNames[baseLanguage(lang)]
	if baseLanguage(lang) == "ar" && strings.Contains(strings.ToLower(lang), "eg") {
		name = "Egyptian Arabic"
	}
	return "Always reply in " + name + ". Keep answers short and natural for a phone conversation, " +
		"with no lists or markdown."
}
