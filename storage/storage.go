// Package storage handles persistence of user accounts and one-time codes.
// Records are JSON objects in a Cloud Storage bucket, or files in a local
// directory for development. Object names are derived with HMAC so they are
// stable, safe and unguessable without the salt.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"

	"comment-copilot/pkg/copilot"
)

// errObjectNotExist is the sentinel "record missing" error, shaped to be
// indistinguishable between backends.
var errObjectNotExist = errors.New("storage: object doesn't exist")

// Store persists users and one-time codes.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	localPath string
	bucket    string
	salt      []byte

	// mu serializes code consumption on the local backend so two verify
	// requests cannot both see the same code as live.
	mu sync.Mutex
}

// New creates a new storage handler. Either bucket (production) or
// localPath (development) must be set.
func New(client *storage.Client, bucket, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// keyFor derives a deterministic hex digest from a value (email or token)
// using HMAC-SHA256 with the secret salt.
func (s *Store) keyFor(value string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.ToLower(strings.TrimSpace(value))))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) userKey(email string) string  { return "user-" + s.keyFor(email) + ".json" }
func (s *Store) codeKey(email string) string  { return "code-" + s.keyFor(email) + ".json" }
func (s *Store) tokenKey(token string) string { return "tok-" + s.keyFor(token) + ".json" }

// tokenIndex maps an auth token object back to the owning email.
type tokenIndex struct {
	Email string `json:"email"`
}

// SaveUser persists a user record and refreshes the token index so the
// user can be found by Bearer token. Indexes left behind by rotated tokens
// are rejected at read time by comparing against the user's current token.
func (s *Store) SaveUser(ctx context.Context, u *copilot.User) error {
	data, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.write(ctx, s.userKey(u.Email), data); err != nil {
		return fmt.Errorf("save user: %w", err)
	}

	idx, err := json.Marshal(tokenIndex{Email: u.Email})
	if err != nil {
		return fmt.Errorf("marshal token index: %w", err)
	}
	if err := s.write(ctx, s.tokenKey(u.AuthToken), idx); err != nil {
		return fmt.Errorf("save token index: %w", err)
	}

	s.logger.Info("User saved", "email", u.Email, "plan", u.SubscriptionPlan, "status", u.SubscriptionStatus)
	return nil
}

// UserByEmail loads a user record.
func (s *Store) UserByEmail(ctx context.Context, email string) (*copilot.User, error) {
	data, err := s.read(ctx, s.userKey(email))
	if err != nil {
		return nil, err
	}
	var u copilot.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &u, nil
}

// UserByToken resolves an auth token to its user. The token must match the
// user's current token; rotation invalidates old tokens immediately.
func (s *Store) UserByToken(ctx context.Context, token string) (*copilot.User, error) {
	if token == "" {
		return nil, errObjectNotExist
	}
	data, err := s.read(ctx, s.tokenKey(token))
	if err != nil {
		return nil, err
	}
	var idx tokenIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("unmarshal token index: %w", err)
	}

	u, err := s.UserByEmail(ctx, idx.Email)
	if err != nil {
		return nil, err
	}
	if u.AuthToken != token {
		return nil, errObjectNotExist
	}
	return u, nil
}

// SaveCode stores a one-time code, superseding any previous code for the
// same email.
func (s *Store) SaveCode(ctx context.Context, rec *copilot.CodeRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal code record: %w", err)
	}
	if err := s.write(ctx, s.codeKey(rec.Email), data); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	s.logger.Info("One-time code stored", "email", rec.Email, "expires_at", rec.ExpiresAt.Format(time.RFC3339))
	return nil
}

// ConsumeCode validates and deletes a one-time code as one operation, so a
// code verifies at most once even under concurrent requests. Returns
// copilot.ErrInvalidOrExpiredCode for a missing, mismatched or expired
// code.
func (s *Store) ConsumeCode(ctx context.Context, email, code string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.codeKey(email)
	data, gen, err := s.readWithGeneration(ctx, key)
	if err != nil {
		if IsNotFound(err) {
			return copilot.ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("load code: %w", err)
	}

	var rec copilot.CodeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("unmarshal code record: %w", err)
	}
	if rec.Code != code || rec.Expired(now) {
		return copilot.ErrInvalidOrExpiredCode
	}

	if err := s.deleteIfUnchanged(ctx, key, gen); err != nil {
		if IsNotFound(err) {
			// Another verify raced us to the delete; the code is spent.
			return copilot.ErrInvalidOrExpiredCode
		}
		return fmt.Errorf("consume code: %w", err)
	}

	s.logger.Info("One-time code consumed", "email", email)
	return nil
}

// IsNotFound checks if an error indicates a missing record.
func IsNotFound(err error) bool {
	return err != nil && (errors.Is(err, errObjectNotExist) ||
		errors.Is(err, storage.ErrObjectNotExist) ||
		strings.Contains(err.Error(), "storage: object doesn't exist"))
}

func (s *Store) write(ctx context.Context, key string, data []byte) error {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		return nil
	}

	// Cloud Storage with retry logic for reliability
	err := retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying save operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	data, _, err := s.readWithGeneration(ctx, key)
	return data, err
}

// readWithGeneration reads a record and returns its object generation (0 on
// the local backend, where s.mu provides the atomicity instead).
func (s *Store) readWithGeneration(ctx context.Context, key string) ([]byte, int64, error) {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		data, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, 0, errObjectNotExist
			}
			return nil, 0, fmt.Errorf("read from local storage: %w", err)
		}
		return data, 0, nil
	}

	// Cloud Storage with retry logic for reliability
	var readData []byte
	var generation int64
	err := retry.Do(
		func() error {
			r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
			if openErr != nil {
				// Don't retry on "not found" errors
				if errors.Is(openErr, storage.ErrObjectNotExist) {
					return retry.Unrecoverable(errObjectNotExist)
				}
				return fmt.Errorf("open storage reader: %w", openErr)
			}
			defer func() {
				if closeErr := r.Close(); closeErr != nil {
					s.logger.Warn("Failed to close storage reader", "error", closeErr)
				}
			}()

			generation = r.Attrs.Generation

			var readErr error
			readData, readErr = io.ReadAll(r)
			if readErr != nil {
				return fmt.Errorf("read from storage: %w", readErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying load operation after error", "attempt", n, "key", key, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, errObjectNotExist) {
			return nil, 0, errObjectNotExist
		}
		return nil, 0, fmt.Errorf("load after retries: %w", err)
	}
	return readData, generation, nil
}

// deleteIfUnchanged removes an object only if it still has the observed
// generation, turning read-then-delete into a compare-and-delete on Cloud
// Storage. The local backend deletes directly; callers hold s.mu there.
func (s *Store) deleteIfUnchanged(ctx context.Context, key string, generation int64) error {
	// Local filesystem storage
	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.Remove(filePath); err != nil {
			if os.IsNotExist(err) {
				return errObjectNotExist
			}
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	obj := s.client.Bucket(s.bucket).Object(key).If(storage.Conditions{GenerationMatch: generation})
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return errObjectNotExist
		}
		return fmt.Errorf("delete from storage: %w", err)
	}
	return nil
}
