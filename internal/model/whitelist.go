package model

import (
	"strings"
	"time"
)

// WhitelistKind partitions the allow list. Domain and email entries are
// independent namespaces: an email entry does not imply its domain.
type WhitelistKind string

const (
	WhitelistDomain WhitelistKind = "domain"
	WhitelistEmail  WhitelistKind = "email"
)

// AddedBy records which path created a whitelist entry.
type AddedBy string

const (
	AddedByManual       AddedBy = "manual"
	AddedByAutoEmail    AddedBy = "auto-email"
	AddedByAutoCalendar AddedBy = "auto-calendar"
	AddedByAutoMeeting  AddedBy = "auto-meeting"
)

type WhitelistEntry struct {
	Kind       WhitelistKind `json:"kind"`
	Value      string        `json:"value"`
	AddedBy    AddedBy       `json:"added_by"`
	MatchCount int64         `json:"match_count"`
	AddedAt    time.Time     `json:"added_at"`
}

// PendingItem is an Item parked by admission control, keyed by the sender's
// domain. It exists only while no whitelist entry matches its sender and is
// deleted, never mutated, on promotion.
type PendingItem struct {
	ID       int64     `json:"id"`
	Domain   string    `json:"domain"`
	Item     Item      `json:"item"`
	ParkedAt time.Time `json:"parked_at"`
}

// NormalizeEmail lower-cases an address for whitelist storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DomainOf extracts the lower-cased domain of an address. Addresses without
// an "@" normalize to the sentinel domain "unknown" rather than failing.
func DomainOf(email string) string {
	normalized := NormalizeEmail(email)
	at := strings.LastIndex(normalized, "@")
	if at < 0 || at == len(normalized)-1 {
		return "unknown"
	}
	return normalized[at+1:]
}
