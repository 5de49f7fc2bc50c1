package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	domainErrors "github.com/kitwatch/notifier/internal/domain/errors"
	"github.com/kitwatch/notifier/internal/domain/settings"
)

// knownTypes fixes the type of the keys the scheduler reads so a caller
// cannot store frequency_days as a string.
var knownTypes = map[string]settings.ValueType{
	settings.KeyStartDate:     settings.TypeDate,
	settings.KeyFrequencyDays: settings.TypeInt,
	settings.KeySendTime:      settings.TypeTime,
	settings.KeyRecipients:    settings.TypeList,
	settings.KeySubjectPrefix: settings.TypeString,
}

// SettingUpdate is one key in a settings change. Type may be empty for
// keys with a known type.
type SettingUpdate struct {
	Key   string
	Value string
	Type  settings.ValueType
}

type SettingsService struct {
	repo   settings.Repository
	tx     TransactionManager
	logger zerolog.Logger
}

func NewSettingsService(repo settings.Repository, tx TransactionManager, logger zerolog.Logger) *SettingsService {
	return &SettingsService{
		repo:   repo,
		tx:     tx,
		logger: logger.With().Str("component", "settings_service").Logger(),
	}
}

func (s *SettingsService) List(ctx context.Context) ([]*settings.Setting, error) {
	all, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	return all, nil
}

// Update validates every change up front and then writes them in one
// transaction, so a bad value leaves all settings untouched.
func (s *SettingsService) Update(ctx context.Context, updates []SettingUpdate) ([]*settings.Setting, error) {
	if len(updates) == 0 {
		return nil, domainErrors.NewValidationError("settings", "at least one setting is required")
	}

	var verrs domainErrors.ValidationErrors
	parsed := make([]*settings.Setting, 0, len(updates))
	seen := make(map[string]bool, len(updates))
	for _, u := range updates {
		st, err := s.parse(u)
		if err != nil {
			var ve *domainErrors.ValidationError
			if !errors.As(err, &ve) {
				return nil, err
			}
			verrs = append(verrs, ve)
			continue
		}
		if seen[st.Key] {
			verrs = append(verrs, domainErrors.NewValidationError(st.Key, "setting given more than once"))
			continue
		}
		seen[st.Key] = true
		parsed = append(parsed, st)
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	err := s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		for _, st := range parsed {
			if err := s.repo.Upsert(ctx, st); err != nil {
				return fmt.Errorf("save setting %s: %w", st.Key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(parsed))
	for _, st := range parsed {
		keys = append(keys, st.Key)
	}
	s.logger.Info().Strs("keys", keys).Msg("Settings updated")
	return parsed, nil
}

func (s *SettingsService) parse(u SettingUpdate) (*settings.Setting, error) {
	t := u.Type
	if known, ok := knownTypes[u.Key]; ok {
		if t != "" && t != known {
			return nil, domainErrors.NewValidationError(u.Key, fmt.Sprintf("type must be %s", known))
		}
		t = known
	}
	if t == "" {
		t = settings.TypeString
	}

	st, err := settings.New(u.Key, u.Value, t)
	if err != nil {
		return nil, err
	}
	if st.Key == settings.KeyFrequencyDays {
		if n, _ := st.Int(); n < 1 {
			return nil, domainErrors.NewValidationError(st.Key, "frequency_days must be at least 1")
		}
	}
	return st, nil
}
