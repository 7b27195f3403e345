// Package profile validates and stores user profiles and decides which
// premium features an identity may use.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"flashchat/internal/storage"
)

const (
	MinNameLength = 3
	MaxNameLength = 20
	MaxBioLength  = 160

	// DefaultBio is assigned to lazily created profiles.
	DefaultBio = "Hey there! I am using FlashChat!"

	defaultNamePrefix   = "User_"
	defaultNameIDLength = 6
	searchLimit         = 25
)

// Collection holds one document per identity, keyed by identity id.
const Collection storage.Path = "users"

var (
	ErrInvalidName       = errors.New("display name must be 3-20 characters")
	ErrBioTooLong        = errors.New("bio must be at most 160 characters")
	ErrProfileIncomplete = errors.New("set a display name before sending snaps")
	ErrNotFound          = errors.New("profile not found")
	ErrMissingIdentity   = errors.New("identity id is required")
	ErrReservedName      = errors.New("names like User_abc123 are reserved for new profiles")
)

// defaultNamePattern matches names produced by DefaultDisplayName.
var defaultNamePattern = regexp.MustCompile(`^User_[0-9A-Za-z-]{1,6}$`)

// Profile is the per-identity document stored under users/{id}.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	IsPremium   bool   `json:"isPremium"`
	LastActive  int64  `json:"lastActive"`
}

// DefaultDisplayName derives the placeholder name given to new profiles.
func DefaultDisplayName(identityID string) string {
	short := identityID
	if len(short) > defaultNameIDLength {
		short = short[:defaultNameIDLength]
	}
	return defaultNamePrefix + short
}

// IsComplete reports whether the profile has a user-chosen display name.
func IsComplete(p Profile) bool {
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		return false
	}
	if p.ID != "" && name == DefaultDisplayName(p.ID) {
		return false
	}
	return !defaultNamePattern.MatchString(name)
}

// ValidateName checks the display name length rule. It does not check for
// reserved placeholder names; Gate.Update does that.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}

// ValidateBio checks the bio length rule.
func ValidateBio(bio string) error {
	if utf8.RuneCountInString(bio) > MaxBioLength {
		return ErrBioTooLong
	}
	return nil
}

// Gate owns reads and writes of profile documents.
type Gate struct {
	store  storage.DocumentStore
	clock  clock.Clock
	ensure singleflight.Group
}

// NewGate returns a Gate over store. A nil clock means wall time.
func NewGate(store storage.DocumentStore, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	return &Gate{store: store, clock: clk}
}

// Path returns the document path of identityID's profile.
func Path(identityID string) storage.Path {
	return Collection.Child(identityID)
}

// Ensure returns the profile for identityID, creating it with defaults when
// absent. An existing profile is left untouched. Concurrent first sessions
// settle on whichever create commits first.
func (g *Gate) Ensure(ctx context.Context, identityID string) (Profile, error) {
	if identityID == "" {
		return Profile{}, ErrMissingIdentity
	}
	v, err, _ := g.ensure.Do(identityID, func() (any, error) {
		_, err := g.store.Update(ctx, Path(identityID), func(_ storage.Document, exists bool) ([]byte, error) {
			if exists {
				return nil, nil
			}
			return json.Marshal(g.defaults(identityID))
		})
		if err != nil {
			return Profile{}, fmt.Errorf("ensure profile: %w", err)
		}
		return g.Get(ctx, identityID)
	})
	if err != nil {
		return Profile{}, err
	}
	return v.(Profile), nil
}

// Get loads the profile for identityID.
func (g *Gate) Get(ctx context.Context, identityID string) (Profile, error) {
	doc, err := g.store.Get(ctx, Path(identityID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return decode(doc)
}

// Update replaces display name and bio after validating both. A name shaped
// like a generated placeholder is rejected with ErrReservedName unless it is
// the identity's own placeholder, so a bio can change before a name is chosen.
func (g *Gate) Update(ctx context.Context, identityID, name, bio string) (Profile, error) {
	name = strings.TrimSpace(name)
	bio = strings.TrimSpace(bio)
	if err := ValidateName(name); err != nil {
		return Profile{}, err
	}
	if defaultNamePattern.MatchString(name) && name != DefaultDisplayName(identityID) {
		return Profile{}, ErrReservedName
	}
	if err := ValidateBio(bio); err != nil {
		return Profile{}, err
	}
	return g.modify(ctx, identityID, func(p *Profile) {
		p.DisplayName = name
		p.Bio = bio
	})
}

// SetPremium turns premium features on or off.
func (g *Gate) SetPremium(ctx context.Context, identityID string, enabled bool) (Profile, error) {
	return g.modify(ctx, identityID, func(p *Profile) {
		p.IsPremium = enabled
	})
}

// Touch records activity for identityID.
func (g *Gate) Touch(ctx context.Context, identityID string) (Profile, error) {
	now := g.clock.Now().UnixMilli()
	return g.modify(ctx, identityID, func(p *Profile) {
		p.LastActive = now
	})
}

// Search returns profiles whose display name starts with prefix, skipping excludeID.
func (g *Gate) Search(ctx context.Context, prefix, excludeID string) ([]Profile, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	docs, err := g.store.Query(ctx, Collection, storage.Query{
		Filters: []storage.Filter{{Field: "displayName", Op: storage.OpPrefix, Value: prefix}},
		OrderBy: "displayName",
		Limit:   searchLimit + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("search profiles: %w", err)
	}
	results := make([]Profile, 0, len(docs))
	for _, doc := range docs {
		p, err := decode(doc)
		if err != nil {
			return nil, err
		}
		if p.ID == excludeID {
			continue
		}
		results = append(results, p)
	}
	if len(results) > searchLimit {
		results = results[:searchLimit]
	}
	return results, nil
}

// Watch calls fn with identityID's profile now and after every change until
// the returned function is called or ctx ends.
func (g *Gate) Watch(ctx context.Context, identityID string, fn func(Profile, error)) (storage.Unsubscribe, error) {
	if identityID == "" {
		return nil, ErrMissingIdentity
	}
	return g.store.Subscribe(ctx, Path(identityID), storage.Query{}, func(snap storage.Snapshot) {
		switch {
		case snap.Err != nil:
			fn(Profile{}, snap.Err)
		case len(snap.Documents) == 0:
			fn(Profile{}, ErrNotFound)
		default:
			fn(decode(snap.Documents[0]))
		}
	})
}

// modify applies change in one conditional write. A missing profile is
// created from defaults first, matching the merge semantics of a plain set.
func (g *Gate) modify(ctx context.Context, identityID string, change func(*Profile)) (Profile, error) {
	if identityID == "" {
		return Profile{}, ErrMissingIdentity
	}
	var updated Profile
	_, err := g.store.Update(ctx, Path(identityID), func(current storage.Document, exists bool) ([]byte, error) {
		p := g.defaults(identityID)
		if exists {
			var err error
			if p, err = decode(current); err != nil {
				return nil, err
			}
		}
		change(&p)
		updated = p
		return json.Marshal(p)
	})
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return updated, nil
}

func (g *Gate) defaults(identityID string) Profile {
	return Profile{
		ID:          identityID,
		DisplayName: DefaultDisplayName(identityID),
		Bio:         DefaultBio,
		LastActive:  g.clock.Now().UnixMilli(),
	}
}

func decode(doc storage.Document) (Profile, error) {
	var p Profile
	if err := doc.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("decode profile %s: %w", doc.ID(), err)
	}
	if p.ID == "" {
		p.ID = doc.ID()
	}
	return p, nil
}
