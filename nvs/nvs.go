package nvs

import (
	"errors"
	"sync"
)

// Well known blob names.
const (
	SettingsBlob    = "settings"
	CalibrationBlob = "calibration"
	JournalBlob     = "journal"
)

var ErrNotFound = errors.New("blob not found")

// Store is the non-volatile key/blob store. Writes are slow and must stay out of
// the pump timing path.
type Store interface {
	Get(name string) ([]byte, error)
	Put(name string, blob []byte) error
}

// Memory is a Store that lives for the life of the process. Used in test mode.
type Memory struct {
	lock  sync.Mutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

func (m *Memory) Get(name string) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	b, ok := m.blobs[name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) Put(name string, blob []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.blobs[name] = append([]byte(nil), blob...)
	return nil
}
