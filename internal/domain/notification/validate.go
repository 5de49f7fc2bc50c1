package notification

import (
	"regexp"
	"strings"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
)

// MaxSubjectLength is the provider limit on subject length, in characters.
const MaxSubjectLength = 255

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail performs a shallow local@domain.tld check.
func IsValidEmail(s string) bool {
	return emailPattern.MatchString(strings.TrimSpace(s))
}

// CheckConfiguration verifies that the sender identity and a provider
// credential are present.
func CheckConfiguration(s Settings) error {
	var missing []string
	if strings.TrimSpace(s.SenderEmail) == "" {
		missing = append(missing, "sender email")
	}
	if !s.HasCredential {
		missing = append(missing, "provider credential")
	}
	if len(missing) > 0 {
		return &domainErrors.ConfigurationError{Missing: missing}
	}
	return nil
}

// Validate returns a domainErrors.ValidationErrors naming every violated rule,
// or nil. The subject is not checked: an empty one is sent as is and an
// oversized one is truncated to MaxSubjectLength by SanitizeSubject.
func Validate(msg Message) error {
	var errs domainErrors.ValidationErrors

	if len(msg.To) == 0 {
		errs = append(errs, domainErrors.NewValidationError("to", "at least one recipient is required"))
	}
	errs = append(errs, validateRecipients("to", msg.To)...)
	errs = append(errs, validateRecipients("cc", msg.CC)...)
	errs = append(errs, validateRecipients("bcc", msg.BCC)...)

	if strings.TrimSpace(msg.HTML) == "" && strings.TrimSpace(msg.Text) == "" {
		errs = append(errs, domainErrors.NewValidationError("body", "html or text content is required"))
	}

	if msg.ReplyTo != "" && !IsValidEmail(msg.ReplyTo) {
		errs = append(errs, domainErrors.NewValidationError("replyTo", "invalid email address "+msg.ReplyTo))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateRecipients(field string, rs Recipients) []*domainErrors.ValidationError {
	var errs []*domainErrors.ValidationError
	for _, r := range rs {
		if !IsValidEmail(r.Email) {
			errs = append(errs, domainErrors.NewValidationError(field, "invalid email address "+quote(r.Email)))
		}
	}
	return errs
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	return s
}
