package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
)

type ValueType string

const (
	TypeString ValueType = "string"
	TypeInt    ValueType = "int"
	TypeDate   ValueType = "date"
	TypeTime   ValueType = "time"
	TypeList   ValueType = "list"
)

// Keys read by the timed notification job.
const (
	KeyStartDate     = "start_date"
	KeyFrequencyDays = "frequency_days"
	KeySendTime      = "send_time"
	KeyRecipients    = "recipients"
	KeySubjectPrefix = "subject_prefix"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Type      ValueType `json:"type"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func New(key, value string, t ValueType) (*Setting, error) {
	s := &Setting{Key: strings.TrimSpace(key), Value: strings.TrimSpace(value), Type: t}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks that Value parses as Type.
func (s *Setting) Validate() error {
	if s.Key == "" {
		return domainErrors.NewValidationError("key", "setting key is required")
	}
	var err error
	switch s.Type {
	case TypeString, TypeList:
	case TypeInt:
		_, err = s.Int()
	case TypeDate:
		_, err = s.Date(time.UTC)
	case TypeTime:
		_, _, err = s.Clock()
	default:
		return domainErrors.NewValidationError("type", fmt.Sprintf("unknown setting type %q", s.Type))
	}
	if err != nil {
		return domainErrors.NewValidationError(s.Key, err.Error())
	}
	return nil
}

func (s *Setting) Int() (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s.Value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer", domainErrors.ErrInvalidSetting, s.Key)
	}
	return n, nil
}

// Date parses a YYYY-MM-DD value as midnight in loc.
func (s *Setting) Date(loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s.Value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domainErrors.ErrInvalidSetting, s.Key)
	}
	return d, nil
}

// Clock parses an HH:MM value.
func (s *Setting) Clock() (hour, minute int, err error) {
	t, err := time.Parse(TimeLayout, strings.TrimSpace(s.Value))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %s must be HH:MM", domainErrors.ErrInvalidSetting, s.Key)
	}
	return t.Hour(), t.Minute(), nil
}

// List splits on commas, semicolons and newlines, dropping blanks.
func (s *Setting) List() []string {
	fields := strings.FieldsFunc(s.Value, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

type Repository interface {
	Get(ctx context.Context, key string) (*Setting, error)
	GetAll(ctx context.Context) ([]*Setting, error)
	Upsert(ctx context.Context, s *Setting) error
}
