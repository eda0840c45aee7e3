package models

import (
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a credential.
type Status string

const (
	// StatusActive means the credential is usable.
	StatusActive Status = "active"
	// StatusLowQuota means the credential's usage ratio crossed the warning threshold.
	StatusLowQuota Status = "low-quota"
	// StatusInvalid means the last usage query failed even after a refresh.
	StatusInvalid Status = "invalid"
)

// RatioFailed is the sentinel ratio recorded when the last usage query failed.
// It is distinct from 0, which means "confirmed zero usage".
const RatioFailed = -1.0

// Credential is one access/refresh token pair tracked by the pool.
// Ratio is nil until the credential has been queried at least once.
type Credential struct {
	ID           string   `json:"id"`
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	Status       Status   `json:"status,omitempty"`
	Ratio        *float64 `json:"ratio,omitempty"`
}

// SetRatio records a usage ratio (or RatioFailed).
func (c *Credential) SetRatio(ratio float64) {
	c.Ratio = &ratio
}

// KnownRatio returns the last recorded ratio and whether one exists.
func (c *Credential) KnownRatio() (float64, bool) {
	if c.Ratio == nil {
		return 0, false
	}
	return *c.Ratio, true
}

// SelectionRatio returns the ratio used for failover candidate ordering.
// A credential that was never queried counts as 0 (most preferred).
func (c *Credential) SelectionRatio() float64 {
	if c.Ratio == nil {
		return 0
	}
	return *c.Ratio
}

// HasTokens reports whether the credential carries at least one token.
func (c *Credential) HasTokens() bool {
	return strings.TrimSpace(c.AccessToken) != "" || strings.TrimSpace(c.RefreshToken) != ""
}

// UsageLabel renders the credential's quota state for list displays.
func (c *Credential) UsageLabel() string {
	ratio, ok := c.KnownRatio()
	switch {
	case !ok:
		return "never checked"
	case ratio < 0:
		return "query failed"
	default:
		return fmt.Sprintf("used %.1f%%, remaining %.1f%%", ratio*100, (1-ratio)*100)
	}
}

// Clone returns a deep copy of the credential.
func (c *Credential) Clone() *Credential {
	out := *c
	if c.Ratio != nil {
		r := *c.Ratio
		out.Ratio = &r
	}
	return &out
}

// CredentialSlice is the reserve pool with helper methods.
type CredentialSlice []Credential

// FindByID returns a pointer into the slice for the credential with the given id.
func (cs CredentialSlice) FindByID(id string) (*Credential, bool) {
	for i := range cs {
		if cs[i].ID == id {
			return &cs[i], true
		}
	}
	return nil, false
}

// IndexByID returns the position of the credential with the given id, or -1.
func (cs CredentialSlice) IndexByID(id string) int {
	for i := range cs {
		if cs[i].ID == id {
			return i
		}
	}
	return -1
}

// FindByRefreshToken matches an entry by exact refresh token value.
// Empty refresh tokens never match.
func (cs CredentialSlice) FindByRefreshToken(rt string) (*Credential, bool) {
	rt = strings.TrimSpace(rt)
	if rt == "" {
		return nil, false
	}
	for i := range cs {
		if strings.TrimSpace(cs[i].RefreshToken) == rt {
			return &cs[i], true
		}
	}
	return nil, false
}

// RemoveByID returns a copy of the slice without the given id.
func (cs CredentialSlice) RemoveByID(id string) CredentialSlice {
	out := make(CredentialSlice, 0, len(cs))
	for _, c := range cs {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

// InsertFront returns a copy of the slice with c prepended.
// Demoted and newly reinstated credentials go to the front of the pool.
func (cs CredentialSlice) InsertFront(c Credential) CredentialSlice {
	out := make(CredentialSlice, 0, len(cs)+1)
	out = append(out, c)
	out = append(out, cs...)
	return out
}

// Clone returns a deep copy of the slice.
func (cs CredentialSlice) Clone() CredentialSlice {
	out := make(CredentialSlice, len(cs))
	for i := range cs {
		out[i] = *cs[i].Clone()
	}
	return out
}
