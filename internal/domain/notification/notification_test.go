package notification

import (
	"encoding/json"
	"strings"
	"testing"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipients_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Recipients
	}{
		{"bare string", `"nurse@clinic.de"`, Recipients{{Email: "nurse@clinic.de"}}},
		{"object", `{"email":"nurse@clinic.de","name":"Nurse"}`, Recipients{{Email: "nurse@clinic.de", Name: "Nurse"}}},
		{
			"mixed array",
			`["a@b.de", {"email":"c@d.de","name":"C"}]`,
			Recipients{{Email: "a@b.de"}, {Email: "c@d.de", Name: "C"}},
		},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var r Recipients
			require.NoError(t, json.Unmarshal([]byte(tt.input), &r))
			assert.Equal(t, tt.expected, r)
		})
	}
}

func TestRecipients_UnmarshalJSON_Invalid(t *testing.T) {
	var r Recipients
	assert.Error(t, json.Unmarshal([]byte(`42`), &r))
}

func TestMessage_DecodesAllRecipientForms(t *testing.T) {
	body := `{"to":"a@b.de","cc":[{"email":"c@d.de"}],"subject":"Hi","text":"x"}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(body), &msg))
	assert.Equal(t, []string{"a@b.de"}, msg.To.Emails())
	assert.Equal(t, []string{"c@d.de"}, msg.CC.Emails())
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"a@b.co", "first.last@sub.example.org", " padded@x.de "}
	invalid := []string{"", "plain", "a@b", "@b.de", "a b@c.de", "a@b .de"}

	for _, s := range valid {
		assert.True(t, IsValidEmail(s), s)
	}
	for _, s := range invalid {
		assert.False(t, IsValidEmail(s), s)
	}
}

func TestCheckConfiguration(t *testing.T) {
	err := CheckConfiguration(Settings{})
	require.Error(t, err)

	var cfgErr *domainErrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, []string{"sender email", "provider credential"}, cfgErr.Missing)

	assert.NoError(t, CheckConfiguration(Settings{SenderEmail: "kits@clinic.de", HasCredential: true}))
}

func TestValidate_Valid(t *testing.T) {
	msg := Message{
		To:      Recipients{{Email: "a@b.de"}},
		Subject: "Report",
		HTML:    "<p>hi</p>",
	}
	assert.NoError(t, Validate(msg))
}

func TestValidate_AggregatesEveryViolation(t *testing.T) {
	msg := Message{
		CC:      Recipients{{Email: "broken"}},
		Subject: "  \r\n ",
		ReplyTo: "nope",
	}

	err := Validate(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrValidationFailed)

	var verrs domainErrors.ValidationErrors
	require.ErrorAs(t, err, &verrs)

	fields := make([]string, 0, len(verrs))
	for _, v := range verrs {
		fields = append(fields, v.Field)
	}
	assert.ElementsMatch(t, []string{"to", "cc", "body", "replyTo"}, fields)
}

func TestValidate_EmptySubjectIsAccepted(t *testing.T) {
	msg := Message{To: Recipients{{Email: "nurse@clinic.de"}}, Subject: " \r\n", Text: "Kit B is empty"}

	assert.NoError(t, Validate(msg))
}

func TestValidate_InvalidObjectRecipient(t *testing.T) {
	msg := Message{
		To:      Recipients{{Email: "ok@clinic.de"}, {Email: "bad@", Name: "Bad"}},
		Subject: "x",
		Text:    "y",
	}

	err := Validate(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad@")
}

func TestValidate_LongSubjectIsNotRejected(t *testing.T) {
	msg := Message{
		To:      Recipients{{Email: "a@b.de"}},
		Subject: strings.Repeat("x", 400),
		Text:    "body",
	}
	assert.NoError(t, Validate(msg))
}

func TestSanitizeSubject(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain", "Monthly report", "Monthly report"},
		{"newlines", "Monthly\r\nreport\n", "Monthly report"},
		{"collapse", "  a \t  b   c ", "a b c"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeSubject(tt.input))
		})
	}
}

func TestSanitizeSubject_TruncatesToExactLimit(t *testing.T) {
	inputs := []string{
		strings.Repeat("a", 256),
		strings.Repeat("word ", 100),
		strings.Repeat("ü\n", 300),
	}

	for _, in := range inputs {
		out := SanitizeSubject(in)
		assert.Len(t, []rune(out), MaxSubjectLength)
		assert.NotContains(t, out, "\n")
		assert.NotContains(t, out, "\r")
	}
}

func TestMergeTags(t *testing.T) {
	assert.Equal(t,
		[]string{"kitwatch", "report", "monthly"},
		MergeTags([]string{"kitwatch", "", "report"}, []string{" ", "monthly", "report"}),
	)
	assert.Nil(t, MergeTags(nil, []string{""}))
}

func TestNormalize(t *testing.T) {
	settings := Settings{
		SenderEmail: "kits@clinic.de",
		SenderName:  "Kit Watch",
		ReplyTo:     "office@clinic.de",
		DefaultTags: []string{"kitwatch"},
	}
	msg := Message{
		To:      Recipients{{Email: " a@b.de ", Name: " A "}},
		BCC:     Recipients{{Email: "audit@clinic.de"}},
		Subject: "Kits\nexpiring",
		HTML:    "<p>x</p>",
		Tags:    []string{"expiry", ""},
	}

	p := Normalize(msg, settings)

	assert.Equal(t, Address{Email: "kits@clinic.de", Name: "Kit Watch"}, p.Sender)
	assert.Equal(t, []Address{{Email: "a@b.de", Name: "A"}}, p.To)
	assert.Nil(t, p.CC)
	assert.Equal(t, []Address{{Email: "audit@clinic.de"}}, p.BCC)
	assert.Equal(t, "Kits expiring", p.Subject)
	assert.Equal(t, []string{"kitwatch", "expiry"}, p.Tags)
	require.NotNil(t, p.ReplyTo)
	assert.Equal(t, "office@clinic.de", p.ReplyTo.Email)
}

func TestNormalize_ReplyToResolution(t *testing.T) {
	msg := Message{To: Recipients{{Email: "a@b.de"}}, Subject: "s", Text: "t", ReplyTo: "me@b.de"}

	p := Normalize(msg, Settings{ReplyTo: "default@b.de"})
	require.NotNil(t, p.ReplyTo)
	assert.Equal(t, "me@b.de", p.ReplyTo.Email)

	msg.ReplyTo = ""
	p = Normalize(msg, Settings{})
	assert.Nil(t, p.ReplyTo)
}

func TestRenderTemplate(t *testing.T) {
	params := map[string]string{"name": "Anna", "count": "3"}

	assert.Equal(t, "Hi Anna, 3 kits expire", RenderTemplate("Hi {{name}}, {{ count }} kits expire", params))
	assert.Equal(t, "Hi {{missing}}", RenderTemplate("Hi {{missing}}", params))
	assert.Equal(t, "no placeholders", RenderTemplate("no placeholders", nil))
}
