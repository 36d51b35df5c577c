package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserID is the numeric identity of the remote user who authored a message
type UserID int64

// ChatID is the numeric identity of a conversation (private chat or group)
type ChatID int64

// DMPolicy is the rule set that decides which senders may reach the agent
type DMPolicy string

const (
	PolicyAllowlist DMPolicy = "allowlist" // only allow_from members
	PolicyPairing   DMPolicy = "pairing"   // first sender becomes the owner
	PolicyOpen      DMPolicy = "open"      // anyone not block-listed
	PolicyDisabled  DMPolicy = "disabled"  // no inbound messages
)

// Policies lists every supported policy in display order
var Policies = []DMPolicy{PolicyAllowlist, PolicyPairing, PolicyOpen, PolicyDisabled}

// ParsePolicy parses a policy name case-insensitively
func ParsePolicy(s string) (DMPolicy, error) {
	p := DMPolicy(strings.ToLower(strings.TrimSpace(s)))
	if p.Valid() {
		return p, nil
	}
	return "", fmt.Errorf("unknown dm_policy %q", s)
}

// Valid reports whether p is one of the supported policies
func (p DMPolicy) Valid() bool {
	for _, known := range Policies {
		if p == known {
			return true
		}
	}
	return false
}

// Decision is the outcome of an authorization check
type Decision int

const (
	Deny Decision = iota
	Allow
	// DenyAndRecord denies and asks the caller to record the attempt in the audit log.
	DenyAndRecord
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyAndRecord:
		return "deny-and-record"
	default:
		return "deny"
	}
}

// Allowed reports whether the message may proceed
func (d Decision) Allowed() bool {
	return d == Allow
}

// ErrAuthDenied is returned when a sender is not authorized
var ErrAuthDenied = errors.New("sender not authorized")

// BlockEntry is one persisted block-list member
type BlockEntry struct {
	UserID    UserID
	Reason    string
	BlockedBy UserID
	CreatedAt time.Time
}

// Owner is the paired owner under the pairing policy
type Owner struct {
	UserID   UserID
	PairedAt time.Time
}
