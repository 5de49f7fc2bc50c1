package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Address is a single mailbox. Name is optional.
type Address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Recipients accepts a bare address string, an {email, name} object, or an
// array mixing both forms when decoded from JSON.
type Recipients []Address

func (r *Recipients) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = nil
		return nil
	}

	if data[0] == '[' {
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		out := make(Recipients, 0, len(raw))
		for _, item := range raw {
			addr, err := decodeAddress(item)
			if err != nil {
				return err
			}
			out = append(out, addr)
		}
		*r = out
		return nil
	}

	addr, err := decodeAddress(data)
	if err != nil {
		return err
	}
	*r = Recipients{addr}
	return nil
}

func decodeAddress(data []byte) (Address, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Address{}, err
		}
		return Address{Email: s}, nil
	}
	var a Address
	if err := json.Unmarshal(data, &a); err != nil {
		return Address{}, fmt.Errorf("recipient must be an address string or {email, name} object: %w", err)
	}
	return a, nil
}

// Emails returns the bare addresses.
func (r Recipients) Emails() []string {
	out := make([]string, len(r))
	for i, a := range r {
		out[i] = a.Email
	}
	return out
}

// Message is a notification request as submitted by callers.
type Message struct {
	To      Recipients `json:"to"`
	CC      Recipients `json:"cc,omitempty"`
	BCC     Recipients `json:"bcc,omitempty"`
	Subject string     `json:"subject"`
	HTML    string     `json:"html,omitempty"`
	Text    string     `json:"text,omitempty"`
	Tags    []string   `json:"tags,omitempty"`
	ReplyTo string     `json:"replyTo,omitempty"`
}

// Payload is the provider-neutral, normalized form of a Message.
type Payload struct {
	Sender  Address
	To      []Address
	CC      []Address
	BCC     []Address
	Subject string
	HTML    string
	Text    string
	ReplyTo *Address
	Tags    []string
}

// Settings carries the process-wide sender identity and defaults.
// It is built once from configuration and never mutated.
type Settings struct {
	SenderEmail   string
	SenderName    string
	ReplyTo       string
	DefaultTags   []string
	Provider      string
	HasCredential bool
}
