package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/rewards-engine/internal/apperror"
	"github.com/sakif/rewards-engine/internal/model"
)

// cookieKeyPrefix namespaces jar entries inside the backing store so cookies
// can share an Adapter with other keys without colliding.
const cookieKeyPrefix = "cookie:"

// Cookie is one stored cookie plus the attributes collaborating subsystems
// expect to see on the real thing.
type Cookie struct {
	Name       string `json:"name"`
	Value      string `json:"value"`      // URL-encoded payload
	Expires    int64  `json:"expires"`    // epoch ms; 0 = session cookie
	Attributes string `json:"attributes"` // e.g. "Path=/; SameSite=None; Secure"
}

// cookieRecord is the reduced field set replicated into per-user cookies.
// The subset and its wire names are a compatibility contract — collaborating
// pages parse these cookies directly.
type cookieRecord struct {
	Email                   string     `json:"email"`
	Name                    string     `json:"name"`
	ID                      string     `json:"id"`
	CredentialRef           string     `json:"credentialRef,omitempty"`
	Rank                    model.Rank `json:"rank"`
	IsVerified              bool       `json:"isVerified"`
	JackPoints              int64      `json:"jackPoints"`
	HasReceivedInitialBonus bool       `json:"hasReceivedInitialBonus"`
	LastLogin               int64      `json:"lastLogin,omitempty"`
	BrowserID               string     `json:"browserId,omitempty"`
}

// Jar is the per-user cookie channel. Each user gets one cookie named
// CookiePrefix + lowercased email whose value is the URL-encoded JSON of a
// reduced field set, expiring after CookieTTL with cross-site-readable
// attributes.
//
// The jar persists through any backing Adapter, so in one process it can sit
// on the primary store while still behaving as an independent channel with
// its own keys and its own failure modes.
type Jar struct {
	backing Adapter
	now     func() time.Time
}

func NewJar(backing Adapter) *Jar {
	return &Jar{backing: backing, now: time.Now}
}

func (j *Jar) Name() string { return "cookie" }

// Set stores a cookie, replacing any previous cookie of the same name.
func (j *Jar) Set(ctx context.Context, c Cookie) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return apperror.Parse(j.Name(), err)
	}
	return j.backing.Set(ctx, cookieKeyPrefix+c.Name, raw)
}

// Get returns the named cookie. Expired cookies are reported as absent and
// removed from the backing store.
func (j *Jar) Get(ctx context.Context, name string) (Cookie, error) {
	raw, err := j.backing.Get(ctx, cookieKeyPrefix+name)
	if err != nil {
		return Cookie{}, err
	}
	var c Cookie
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cookie{}, apperror.Parse(j.Name(), err)
	}
	if c.Expires != 0 && c.Expires <= j.now().UnixMilli() {
		_ = j.backing.Delete(ctx, cookieKeyPrefix+name)
		return Cookie{}, apperror.NotFound("cookie", name)
	}
	return c, nil
}

// Delete removes the named cookie.
func (j *Jar) Delete(ctx context.Context, name string) error {
	return j.backing.Delete(ctx, cookieKeyPrefix+name)
}

// WriteRegistry writes one reduced-field cookie per user. Per-user failures
// are independent: one unwritable cookie does not stop the rest.
func (j *Jar) WriteRegistry(ctx context.Context, reg model.Registry) error {
	var firstErr error
	expires := j.now().Add(model.CookieTTL).UnixMilli()

	for key, rec := range reg {
		payload, err := json.Marshal(reduceRecord(rec))
		if err != nil {
			if firstErr == nil {
				firstErr = apperror.Parse(j.Name(), err)
			}
			continue
		}
		c := Cookie{
			Name:       model.CookiePrefix + key,
			Value:      url.QueryEscape(string(payload)),
			Expires:    expires,
			Attributes: "Path=/; SameSite=None; Secure",
		}
		if err := j.Set(ctx, c); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ReadRegistry assembles a registry from every unexpired per-user cookie.
// Undecodable cookies are skipped; they only ever cost their own entry.
func (j *Jar) ReadRegistry(ctx context.Context) (model.Registry, error) {
	lister, ok := j.backing.(interface {
		Keys(ctx context.Context, prefix string) ([]string, error)
	})
	if !ok {
		// A backing store without enumeration support contributes nothing
		// to merged reads; writes still work.
		return model.Registry{}, nil
	}

	keys, err := lister.Keys(ctx, cookieKeyPrefix+model.CookiePrefix)
	if err != nil {
		return nil, apperror.Unavailable(j.Name(), err)
	}

	reg := model.Registry{}
	for _, k := range keys {
		name := strings.TrimPrefix(k, cookieKeyPrefix)
		c, err := j.Get(ctx, name)
		if err != nil {
			continue
		}
		rec, err := expandCookie(c)
		if err != nil {
			continue
		}
		if key := rec.EmailKey(); key != "" {
			reg[key] = rec
		}
	}
	return reg, nil
}

// GetUser returns the reduced record stored in one user's cookie.
func (j *Jar) GetUser(ctx context.Context, email string) (model.UserRecord, error) {
	c, err := j.Get(ctx, model.CookiePrefix+model.NormalizeEmail(email))
	if err != nil {
		return model.UserRecord{}, err
	}
	return expandCookie(c)
}

func reduceRecord(u model.UserRecord) cookieRecord {
	return cookieRecord{
		Email:                   u.EmailKey(),
		Name:                    u.Name,
		ID:                      u.ID,
		CredentialRef:           u.CredentialRef,
		Rank:                    u.Rank,
		IsVerified:              u.IsVerified,
		JackPoints:              u.JackPoints,
		HasReceivedInitialBonus: u.HasReceivedInitialBonus,
		LastLogin:               u.LastLogin,
		BrowserID:               u.BrowserID,
	}
}

func expandCookie(c Cookie) (model.UserRecord, error) {
	decoded, err := url.QueryUnescape(c.Value)
	if err != nil {
		return model.UserRecord{}, apperror.Parse("cookie", err)
	}
	var cr cookieRecord
	if err := json.Unmarshal([]byte(decoded), &cr); err != nil {
		return model.UserRecord{}, apperror.Parse("cookie", err)
	}
	if cr.Email == "" {
		return model.UserRecord{}, apperror.Parse("cookie", errors.New("cookie payload has no email"))
	}
	return model.UserRecord{
		ID:                      cr.ID,
		Email:                   cr.Email,
		Name:                    cr.Name,
		JackPoints:              cr.JackPoints,
		HasReceivedInitialBonus: cr.HasReceivedInitialBonus,
		Rank:                    cr.Rank,
		IsVerified:              cr.IsVerified,
		BrowserID:               cr.BrowserID,
		CredentialRef:           cr.CredentialRef,
		LastLogin:               cr.LastLogin,
	}, nil
}
