// Package identity implements the Identity Store (C7): user records
// persisted atop the versioned document store, with Argon2id password
// hashing.
package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/argon2"

	"github.com/qofy/quoteflow/internal/apperr"
	"github.com/qofy/quoteflow/internal/docstore"
)

const usersCollection = "users"

// Argon2id parameters, matching the existing verify-side convention:
// memory=16384 KiB, time=2, parallelism=2, 32-byte output.
const (
	argonMemory      = 16384
	argonTime        = 2
	argonParallelism = 2
	argonKeyLen      = 32
	argonSaltLen     = 16
)

// User is the persisted record shape for the users collection.
type User struct {
	ID           string   `json:"id"`
	Email        string   `json:"email"` // normalised (lowercased, trimmed)
	PasswordHash string   `json:"password_hash"` // PHC string, verbatim
	Roles        []string `json:"roles"`
	CreatedAt    int64    `json:"created_at"` // epoch-ms
}

// Store is the Identity Store (C7).
type Store struct {
	docs *docstore.Store
}

func New(docs *docstore.Store) *Store {
	return &Store{docs: docs}
}

// NormaliseEmail lowercases and trims an email for uniqueness comparisons
// and storage.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ListAll returns every user record. There is no secondary index, so the
// registration handler uses this for its application-level email
// uniqueness pre-check.
func (s *Store) ListAll() ([]*User, error) {
	ids, err := s.listIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*User, 0, len(ids))
	for _, id := range ids {
		u, err := s.GetByID(id)
		if err != nil {
			if apperr.Is(err, apperr.ErrDocNotFound.Code) {
				continue
			}
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// GetByID fetches a single user record.
func (s *Store) GetByID(id string) (*User, error) {
	rec, err := s.docs.Get(usersCollection, id)
	if err != nil {
		return nil, err
	}
	var u User
	if err := json.Unmarshal(rec.Data, &u); err != nil {
		return nil, apperr.ErrStorage.WithCause(err)
	}
	return &u, nil
}

// FindByEmail performs the application-level uniqueness pre-check: a
// full scan of all records, since no secondary index exists.
func (s *Store) FindByEmail(email string) (*User, error) {
	normalised := NormaliseEmail(email)
	users, err := s.ListAll()
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Email == normalised {
			return u, nil
		}
	}
	return nil, apperr.ErrUserNotFound
}

// Insert creates a new user with a freshly hashed password and a freshly
// generated ULID, enforcing email uniqueness.
func (s *Store) Insert(email, password string, roles []string) (*User, error) {
	normalised := NormaliseEmail(email)
	if _, err := s.FindByEmail(normalised); err == nil {
		return nil, apperr.ErrUserConflict
	} else if !apperr.Is(err, apperr.ErrUserNotFound.Code) {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:           ulid.Make().String(),
		Email:        normalised,
		PasswordHash: hash,
		Roles:        roles,
		CreatedAt:    time.Now().UnixMilli(),
	}
	if err := s.write(u); err != nil {
		return nil, err
	}
	if err := s.appendID(u.ID); err != nil {
		return nil, err
	}
	return u, nil
}

// Update persists changes to an existing user record (last-writer-wins;
// no optimistic-concurrency precondition is part of the identity
// contract).
func (s *Store) Update(u *User) error {
	return s.write(u)
}

// VerifyPassword checks a plaintext password against a user's stored
// PHC hash.
func VerifyPassword(password, phc string) bool {
	return verifyArgon2Hash(password, phc)
}

// HashPassword generates a fresh salt and returns the PHC-encoded
// Argon2id hash: $argon2id$v=19$m=16384,t=2,p=2$<salt>$<hash>
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", apperr.ErrStorage.WithCause(err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonParallelism, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonTime, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2Hash verifies a secret against an Argon2id PHC hash.
func verifyArgon2Hash(secret, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		return false
	}
	if parts[1] != "argon2id" {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expectedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonParallelism, uint32(len(expectedHash)))
	return subtle.ConstantTimeCompare(computedHash, expectedHash) == 1
}

func (s *Store) write(u *User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return apperr.ErrStorage.WithCause(err)
	}
	_, err = s.docs.Put(usersCollection, u.ID, data, nil)
	return err
}

// indexKey holds the set of known user IDs, since C2 offers no listing
// primitive of its own beyond per-key reads.
const indexKey = "_index"

func (s *Store) listIDs() ([]string, error) {
	rec, err := s.docs.Get(usersCollection, indexKey)
	if err != nil {
		if apperr.Is(err, apperr.ErrDocNotFound.Code) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(rec.Data, &ids); err != nil {
		return nil, apperr.ErrStorage.WithCause(err)
	}
	return ids, nil
}

func (s *Store) appendID(id string) error {
	ids, err := s.listIDs()
	if err != nil {
		return err
	}
	ids = append(ids, id)
	data, err := json.Marshal(ids)
	if err != nil {
		return apperr.ErrStorage.WithCause(err)
	}
	_, err = s.docs.Put(usersCollection, indexKey, data, nil)
	return err
}
