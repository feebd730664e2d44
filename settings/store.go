package settings

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gr-butler/hydro/nvs"
	logger "github.com/sirupsen/logrus"
)

var ErrVerify = errors.New("settings read back did not match")

// Store holds the active settings. It is owned by the actuation core and is
// not safe for concurrent use.
type Store struct {
	nvs    nvs.Store
	active Settings
	// OnApply runs after a candidate has been accepted.
	OnApply func(Settings)
}

// NewStore starts with the compiled in defaults; call Load to read the store.
func NewStore(n nvs.Store) *Store {
	return &Store{nvs: n, active: Defaults()}
}

// Load reads the persisted settings. A missing or invalid record is replaced by
// the defaults, which are written back.
func (s *Store) Load() Settings {
	blob, err := s.nvs.Get(nvs.SettingsBlob)
	if err == nil {
		loaded, verr := DecodeAndValidate(blob)
		if verr == nil {
			logger.Infof("Loaded settings [%+v]", loaded)
			s.active = loaded
			return s.active
		}
		err = verr
	}
	if errors.Is(err, nvs.ErrNotFound) {
		logger.Info("No saved settings, using defaults")
	} else {
		logger.Warnf("Saved settings rejected, using defaults [%v]", err)
	}
	s.active = Defaults()
	if err := s.Persist(); err != nil {
		logger.Errorf("Failed to save default settings [%v]", err)
	}
	return s.active
}

func (s *Store) Active() Settings {
	return s.active
}

func (s *Store) Validate(candidate Settings) error {
	return Validate(candidate)
}

// Apply replaces the active settings if the candidate is valid. A rejected
// candidate leaves the active settings as they were.
func (s *Store) Apply(candidate Settings) (Settings, error) {
	if err := Validate(candidate); err != nil {
		logger.Warnf("Settings update rejected [%v]", err)
		return s.active, err
	}
	s.active = candidate
	logger.Infof("Settings updated [%+v]", s.active)
	if s.OnApply != nil {
		s.OnApply(s.active)
	}
	return s.active, nil
}

// Persist writes the active settings as the new defaults and reads them back.
func (s *Store) Persist() error {
	blob := Encode(s.active)
	if err := s.nvs.Put(nvs.SettingsBlob, blob); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	back, err := s.nvs.Get(nvs.SettingsBlob)
	if err != nil {
		return fmt.Errorf("read back settings: %w", err)
	}
	if !bytes.Equal(blob, back) {
		return ErrVerify
	}
	return nil
}
