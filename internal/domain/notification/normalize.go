package notification

import (
	"regexp"
	"strings"
)

// SanitizeSubject strips CR/LF, collapses whitespace runs to a single space,
// trims, and truncates to MaxSubjectLength characters.
func SanitizeSubject(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > MaxSubjectLength {
		s = string(runes[:MaxSubjectLength])
	}
	return s
}

// MergeTags appends extra to defaults, dropping blanks and duplicates while
// keeping first-seen order.
func MergeTags(defaults, extra []string) []string {
	seen := make(map[string]struct{}, len(defaults)+len(extra))
	var out []string
	for _, list := range [][]string{defaults, extra} {
		for _, t := range list {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// Normalize converts a validated Message into the outgoing Payload.
func Normalize(msg Message, s Settings) *Payload {
	p := &Payload{
		Sender:  Address{Email: s.SenderEmail, Name: s.SenderName},
		To:      normalizeRecipients(msg.To),
		CC:      normalizeRecipients(msg.CC),
		BCC:     normalizeRecipients(msg.BCC),
		Subject: SanitizeSubject(msg.Subject),
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    MergeTags(s.DefaultTags, msg.Tags),
	}

	switch {
	case strings.TrimSpace(msg.ReplyTo) != "":
		p.ReplyTo = &Address{Email: strings.TrimSpace(msg.ReplyTo)}
	case strings.TrimSpace(s.ReplyTo) != "":
		p.ReplyTo = &Address{Email: strings.TrimSpace(s.ReplyTo)}
	}
	return p
}

func normalizeRecipients(rs Recipients) []Address {
	if len(rs) == 0 {
		return nil
	}
	out := make([]Address, 0, len(rs))
	for _, r := range rs {
		out = append(out, Address{
			Email: strings.TrimSpace(r.Email),
			Name:  strings.TrimSpace(r.Name),
		})
	}
	return out
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.-]+)\s*\}\}`)

// RenderTemplate substitutes {{key}} placeholders from params. Unknown keys
// are left in place so a missing parameter is visible in the output.
func RenderTemplate(tpl string, params map[string]string) string {
	if tpl == "" || len(params) == 0 {
		return tpl
	}
	return placeholderPattern.ReplaceAllStringFunc(tpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		if v, ok := params[key]; ok {
			return v
		}
		return m
	})
}
