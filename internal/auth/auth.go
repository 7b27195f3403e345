// Package auth issues the stable identity ids the rest of FlashChat keys on:
// anonymous guests, email accounts with bcrypt password hashes, and bearer
// tokens that resolve back to an identity.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"flashchat/internal/storage"
)

const (
	DefaultTokenTTL   = 7 * 24 * time.Hour
	MinPasswordLength = 6

	accountsCollection storage.Path = "accounts"
	tokensCollection   storage.Path = "tokens"
)

var (
	ErrAccountExists      = errors.New("an account with this email already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

// Identity is who a token belongs to.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Guest bool   `json:"guest"`
}

// Grant is a freshly issued bearer token.
type Grant struct {
	Token     string    `json:"token"`
	Identity  Identity  `json:"identity"`
	ExpiresAt time.Time `json:"expires_at"`
}

type account struct {
	IdentityID   string `json:"identityId"`
	Email        string `json:"email"`
	PasswordHash []byte `json:"passwordHash"`
	CreatedAt    int64  `json:"createdAt"`
}

type tokenRecord struct {
	IdentityID string `json:"identityId"`
	Email      string `json:"email,omitempty"`
	Guest      bool   `json:"guest"`
	CreatedAt  int64  `json:"createdAt"`
	ExpiresAt  int64  `json:"expiresAt"`
}

// Options tunes a Directory. Zero values pick wall time, DefaultTokenTTL and
// bcrypt.DefaultCost.
type Options struct {
	Clock      clock.Clock
	TokenTTL   time.Duration
	BcryptCost int
}

// Directory stores accounts and tokens in a document store.
type Directory struct {
	store storage.DocumentStore
	clock clock.Clock
	ttl   time.Duration
	cost  int
}

func NewDirectory(store storage.DocumentStore, opts Options) *Directory {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	return &Directory{store: store, clock: opts.Clock, ttl: opts.TokenTTL, cost: opts.BcryptCost}
}

// Guest signs in anonymously with a new identity.
func (d *Directory) Guest(ctx context.Context) (Grant, error) {
	return d.issue(ctx, Identity{ID: uuid.NewString(), Guest: true})
}

// Signup creates an email account and signs it in.
func (d *Directory) Signup(ctx context.Context, email, password string) (Grant, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Grant{}, err
	}
	if len(password) < MinPasswordLength {
		return Grant{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return Grant{}, err
	}
	acct := account{
		IdentityID:   uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    d.clock.Now().UnixMilli(),
	}
	_, err = d.store.Update(ctx, accountsCollection.Child(email), func(_ storage.Document, exists bool) ([]byte, error) {
		if exists {
			return nil, ErrAccountExists
		}
		return json.Marshal(acct)
	})
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			return Grant{}, err
		}
		return Grant{}, fmt.Errorf("create account: %w", err)
	}
	return d.issue(ctx, Identity{ID: acct.IdentityID, Email: email})
}

// Login checks an email and password and issues a token.
func (d *Directory) Login(ctx context.Context, email, password string) (Grant, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Grant{}, ErrInvalidCredentials
	}
	doc, err := d.store.Get(ctx, accountsCollection.Child(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Grant{}, ErrInvalidCredentials
		}
		return Grant{}, fmt.Errorf("load account: %w", err)
	}
	var acct account
	if err := doc.Decode(&acct); err != nil {
		return Grant{}, fmt.Errorf("decode account: %w", err)
	}
	if bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(password)) != nil {
		return Grant{}, ErrInvalidCredentials
	}
	return d.issue(ctx, Identity{ID: acct.IdentityID, Email: acct.Email})
}

// Resolve maps a bearer token to its identity. Expired tokens are removed.
func (d *Directory) Resolve(ctx context.Context, token string) (Identity, error) {
	if !validToken(token) {
		return Identity{}, ErrUnauthorized
	}
	path := tokensCollection.Child(token)
	doc, err := d.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Identity{}, ErrUnauthorized
		}
		return Identity{}, fmt.Errorf("load token: %w", err)
	}
	var rec tokenRecord
	if err := doc.Decode(&rec); err != nil {
		return Identity{}, fmt.Errorf("decode token: %w", err)
	}
	if d.clock.Now().UnixMilli() >= rec.ExpiresAt {
		_ = d.store.Delete(ctx, path)
		return Identity{}, ErrUnauthorized
	}
	return Identity{ID: rec.IdentityID, Email: rec.Email, Guest: rec.Guest}, nil
}

// Logout revokes token. Unknown tokens are ignored.
func (d *Directory) Logout(ctx context.Context, token string) error {
	if !validToken(token) {
		return nil
	}
	err := d.store.Delete(ctx, tokensCollection.Child(token))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// PurgeExpired deletes every expired token and reports how many it removed.
func (d *Directory) PurgeExpired(ctx context.Context) (int, error) {
	docs, err := d.store.Query(ctx, tokensCollection, storage.Query{})
	if err != nil {
		return 0, fmt.Errorf("list tokens: %w", err)
	}
	now := d.clock.Now().UnixMilli()
	purged := 0
	for _, doc := range docs {
		var rec tokenRecord
		if err := doc.Decode(&rec); err != nil || now < rec.ExpiresAt {
			continue
		}
		if err := d.store.Delete(ctx, doc.Path); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return purged, fmt.Errorf("purge token: %w", err)
		}
		purged++
	}
	return purged, nil
}

func (d *Directory) issue(ctx context.Context, identity Identity) (Grant, error) {
	now := d.clock.Now()
	expiresAt := now.Add(d.ttl)
	token := uuid.NewString()
	payload, err := json.Marshal(tokenRecord{
		IdentityID: identity.ID,
		Email:      identity.Email,
		Guest:      identity.Guest,
		CreatedAt:  now.UnixMilli(),
		ExpiresAt:  expiresAt.UnixMilli(),
	})
	if err != nil {
		return Grant{}, err
	}
	if err := d.store.Set(ctx, tokensCollection.Child(token), payload, storage.SetOptions{}); err != nil {
		return Grant{}, fmt.Errorf("store token: %w", err)
	}
	return Grant{Token: token, Identity: identity, ExpiresAt: expiresAt}, nil
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || strings.Contains(email, "/") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func validToken(token string) bool {
	_, err := uuid.Parse(token)
	return err == nil
}
