package domain

import (
	"fmt"
	"regexp"
	"time"
)

type AccountID string

// Protocol is the closed set of daemon variants an account can be
// provisioned on.
type Protocol string

const (
	ProtocolSSH     Protocol = "ssh"
	ProtocolVMess   Protocol = "vmess"
	ProtocolVLESS   Protocol = "vless"
	ProtocolTrojan  Protocol = "trojan"
	ProtocolOpenVPN Protocol = "openvpn"
	ProtocolL2TP    Protocol = "l2tp"
)

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolSSH, ProtocolVMess, ProtocolVLESS, ProtocolTrojan, ProtocolOpenVPN, ProtocolL2TP:
		return true
	default:
		return false
	}
}

// XrayBacked reports whether the protocol is served by the Xray core
// (one adapter covers all three variants).
func (p Protocol) XrayBacked() bool {
	return p == ProtocolVMess || p == ProtocolVLESS || p == ProtocolTrojan
}

type State string

const (
	StateActive  State = "active"
	StateLocked  State = "locked"
	StateExpired State = "expired"
	StateDeleted State = "deleted"
)

type Account struct {
	ID         AccountID
	Protocol   Protocol
	Credential Credential

	// QuotaBytes caps cumulative transfer; QuotaLogins caps concurrent
	// sessions. Zero means unlimited.
	QuotaBytes  int64
	QuotaLogins int

	// Usage counters are written only by the tracker sweep.
	UsageBytes  int64
	UsageLogins int

	// ExpiresAt is the absolute deadline; zero means never.
	ExpiresAt time.Time

	State          State
	CreatedAt      time.Time
	LastModifiedAt time.Time
}

var idPattern = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// Validate checks the fields the store refuses to persist blind.
func (a Account) Validate() error {
	if !idPattern.MatchString(string(a.ID)) {
		return fmt.Errorf("%w: account id %q", ErrValidation, a.ID)
	}
	if !a.Protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %q", ErrValidation, a.Protocol)
	}
	if a.QuotaBytes < 0 || a.QuotaLogins < 0 {
		return fmt.Errorf("%w: negative quota", ErrValidation)
	}
	return nil
}

// OverQuota reports whether either configured cap is exceeded. Usage may
// exceed quota momentarily; detection is asynchronous, not blocking.
func (a Account) OverQuota() bool {
	if a.QuotaBytes > 0 && a.UsageBytes > a.QuotaBytes {
		return true
	}
	if a.QuotaLogins > 0 && a.UsageLogins > a.QuotaLogins {
		return true
	}
	return false
}

// ExpiredAt reports whether the deadline has passed at the given instant.
func (a Account) ExpiredAt(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// Filter narrows a listing by protocol and/or state. Zero values match
// everything.
type Filter struct {
	Protocol Protocol
	State    State
}

func (f Filter) Matches(a Account) bool {
	if f.Protocol != "" && a.Protocol != f.Protocol {
		return false
	}
	if f.State != "" && a.State != f.State {
		return false
	}
	return true
}
