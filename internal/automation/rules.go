package automation

import (
	"regexp"
	"strings"
)

// Rule binds an intent to the action it triggers. Keywords match whole words or phrases,
// case-insensitively, in any language.
type Rule struct {
	Intent   string
	Keywords []string
	Action   string
	Params   map[string]interface{}

	patterns []*regexp.Regexp
}

func DefaultRules() []Rule {
	return []Rule{
		{
			Intent:   "human_agent",
			Keywords: []string{"agent", "human", "representative", "موظف", "خدمة العملاء"},
			Action:   ActionEscalate,
		},
		{
			Intent:   "callback_request",
			Keywords: []string{"call me back", "اتصل بي"},
			Action:   ActionWebhook,
			Params:   map[string]interface{}{"event": "callback_requested"},
		},
		{
			Intent:   "complaint",
			Keywords: []string{"complaint", "شكوى"},
			Action:   ActionWebhook,
			Params:   map[string]interface{}{"event": "complaint_received"},
		},
		{
			Intent:   "send_details",
			Keywords: []string{"send me", "sms", "رسالة"},
			Action:   ActionSendSMS,
		},
	}
}

func (r *Rule) compile() {
	r.patterns = make([]*regexp.Regexp, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		words := strings.Fields(kw)
		for i, w := range words {
			words[i] = regexp.QuoteMeta(w)
		}
		// \b is ASCII-only in RE2, so word edges are spelled out to cover Arabic letters.
		expr := `(?i)(?:^|[^\p{L}\p{N}])` + strings.Join(words, `\s+`) + `(?:$|[^\p{L}\p{N}])`
		r.patterns = append(r.patterns, regexp.MustCompile(expr))
	}
}

func (r *Rule) matches(text string) bool {
	for _, p := range r.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
