package settings

import (
	"errors"
	"io/fs"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Backend is the persistent storage the record lives in.
type Backend interface {
	ReadAll() ([]byte, error)
	WriteAll([]byte) error
}

// FileBackend stores the record in a single file, standing in for the
// EEPROM page the firmware used.
type FileBackend struct {
	Path string
}

func (b *FileBackend) ReadAll() ([]byte, error) {
	return os.ReadFile(b.Path)
}

func (b *FileBackend) WriteAll(buf []byte) error {
	return os.WriteFile(b.Path, buf, 0o600)
}

// Store owns the current record and its persistence. Reads are frequent
// (every access decision consults the credential table); writes happen only
// through the settings API.
type Store struct {
	backend Backend
	logger  *zerolog.Logger

	mu  sync.RWMutex
	rec Record
}

func NewStore(backend Backend, logger *zerolog.Logger) *Store {
	return &Store{backend: backend, logger: logger}
}

// Load reads the stored record. A missing, short or corrupt record is
// replaced with defaults which are persisted immediately, so storage is
// never left half-initialized.
func (s *Store) Load() error {
	buf, err := s.backend.ReadAll()
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	rec, uerr := Unmarshal(buf)
	if uerr != nil {
		s.logger.Warn().Msg("Settings corrupted, defaulting")
		rec = Defaults()
		if werr := s.backend.WriteAll(rec.Marshal()); werr != nil {
			return werr
		}
	}
	s.mu.Lock()
	s.rec = *rec
	s.mu.Unlock()
	return nil
}

// Save replaces the current record and persists it.
func (s *Store) Save(rec *Record) error {
	if err := s.backend.WriteAll(rec.Marshal()); err != nil {
		return err
	}
	s.mu.Lock()
	s.rec = *rec
	s.mu.Unlock()
	return nil
}

// Record returns a copy of the current record.
func (s *Store) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec
}
