// Package tokenstore persists session credentials to durable local storage.
//
// Two generations of clients wrote auth state under different key names
// (camelCase vs snake_case tokens, an authMode flag vs isLogin/isGuest
// booleans). The file store reads all of them and normalizes into the
// canonical schema; only canonical keys are written going forward.
package tokenstore

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/villagestay/go-auth-client/session"
)

// fileSchema is the on-disk document. The legacy fields are read-only: they
// are consulted when the canonical field is absent and never written.
type fileSchema struct {
	AuthMode     string           `json:"authMode,omitempty"`
	AccessToken  string           `json:"accessToken,omitempty"`
	RefreshToken string           `json:"refreshToken,omitempty"`
	Profile      *session.Profile `json:"profile,omitempty"`

	LegacyAccessToken  string `json:"access_token,omitempty"`
	LegacyRefreshToken string `json:"refresh_token,omitempty"`
	LegacyIsLogin      bool   `json:"isLogin,omitempty"`
	LegacyIsGuest      bool   `json:"isGuest,omitempty"`
}

// FileStore implements session.Store on a JSON file. Writes go through a
// temp file and atomic rename, guarded by a cross-process lock file.
type FileStore struct {
	path string
	log  zerolog.Logger
}

// FileStoreOption modifies a FileStore instance.
type FileStoreOption func(*FileStore)

// WithLogger sets the logger used for corrupt-state warnings.
func WithLogger(log zerolog.Logger) FileStoreOption {
	return func(fs *FileStore) {
		fs.log = log
	}
}

// NewFileStore creates a store persisting to path.
func NewFileStore(path string, options ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileStore] path is required")
	}
	fs := &FileStore{
		path: path,
		log:  zerolog.Nop(),
	}
	for _, opt := range options {
		opt(fs)
	}
	return fs, nil
}

var _ session.Store = (*FileStore)(nil)

// Save atomically persists the credentials. A user-mode save missing either
// token is rejected before anything touches the disk.
func (fs *FileStore) Save(creds session.Credentials) error {
	if err := creds.Validate(); err != nil {
		return errors.Wrap(err, "[FileStore.Save]")
	}

	lock, err := acquireFileLock(fs.path)
	if err != nil {
		return errors.Wrap(err, "[FileStore.Save] acquireFileLock")
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fs.log.Error().Err(releaseErr).Msg("failed to release token file lock")
		}
	}()

	doc := fileSchema{
		AuthMode:     string(creds.Mode),
		AccessToken:  creds.AccessToken,
		RefreshToken: creds.RefreshToken,
		Profile:      creds.Profile,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[FileStore.Save] marshal")
	}

	tempFile := fs.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return errors.Wrap(err, "[FileStore.Save] write temp file")
	}
	if err := os.Rename(tempFile, fs.path); err != nil {
		if removeErr := os.Remove(tempFile); removeErr != nil {
			fs.log.Error().Err(removeErr).Msg("failed to remove temp token file")
		}
		return errors.Wrap(err, "[FileStore.Save] rename temp file")
	}

	return nil
}

// Load reads and normalizes persisted credentials. A missing file is an
// empty session, not an error. A corrupt file is reported as empty so the
// caller's restore logic wipes it.
func (fs *FileStore) Load() (session.Credentials, error) {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return session.Credentials{}, nil
		}
		return session.Credentials{}, errors.Wrap(err, "[FileStore.Load] read file")
	}

	var doc fileSchema
	if err := json.Unmarshal(data, &doc); err != nil {
		fs.log.Warn().Err(err).Str("path", fs.path).Msg("corrupt token file, treating as empty")
		return session.Credentials{}, nil
	}

	return normalize(doc), nil
}

// Clear removes all persisted auth state.
func (fs *FileStore) Clear() error {
	lock, err := acquireFileLock(fs.path)
	if err != nil {
		return errors.Wrap(err, "[FileStore.Clear] acquireFileLock")
	}
	defer func() {
		if releaseErr := lock.release(); releaseErr != nil {
			fs.log.Error().Err(releaseErr).Msg("failed to release token file lock")
		}
	}()

	if err := os.Remove(fs.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "[FileStore.Clear] remove")
	}
	return nil
}

// normalize folds legacy key spellings into the canonical credentials.
// Canonical keys always win over their legacy counterparts.
func normalize(doc fileSchema) session.Credentials {
	creds := session.Credentials{
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		Profile:      doc.Profile,
	}
	if creds.AccessToken == "" {
		creds.AccessToken = doc.LegacyAccessToken
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = doc.LegacyRefreshToken
	}

	mode := session.Mode(doc.AuthMode)
	switch {
	case mode.Valid():
		creds.Mode = mode
	case doc.LegacyIsLogin:
		creds.Mode = session.ModeUser
	case doc.LegacyIsGuest:
		creds.Mode = session.ModeGuest
	default:
		creds.Mode = session.ModeUnauthenticated
	}
	return creds
}
