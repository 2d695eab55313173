package domain

import (
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Credential is the protocol-specific material owned by the account.
// Which fields are populated depends on the protocol:
//
//   - ssh: PasswordHash (the live credential is the system user database;
//     the hash is retained so Apply can re-provision after a revoke)
//   - vmess/vless: UUID
//   - trojan: UUID, reused as the trojan password
//   - openvpn/l2tp: Secret, read by the daemon on every connection attempt
type Credential struct {
	UUID         string
	Secret       string
	PasswordHash string
}

// NewCredential issues fresh material for the protocol. The password is
// required for protocols authenticating by password; Xray-backed protocols
// ignore it.
func NewCredential(p Protocol, password string) (Credential, error) {
	if p.XrayBacked() {
		return Credential{UUID: uuid.NewString()}, nil
	}

	if password == "" {
		return Credential{}, fmt.Errorf("%w: password required for protocol %q", ErrValidation, p)
	}

	switch p {
	case ProtocolSSH:
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return Credential{}, fmt.Errorf("hash password: %w", err)
		}
		// Secret is kept so the system user can be re-provisioned after a
		// revoke; chpasswd has no way to install a bcrypt hash we computed.
		return Credential{Secret: password, PasswordHash: string(hash)}, nil
	case ProtocolOpenVPN, ProtocolL2TP:
		return Credential{Secret: password}, nil
	default:
		return Credential{}, fmt.Errorf("%w: unknown protocol %q", ErrValidation, p)
	}
}

// Rotate re-issues the material, keeping the account otherwise intact.
// Xray-backed protocols get a new UUID; password protocols keep their
// secret (rotation there means a new password via NewCredential).
func (c Credential) Rotate(p Protocol) (Credential, error) {
	if !p.XrayBacked() {
		return Credential{}, fmt.Errorf("%w: credential rotation is only supported for xray protocols", ErrValidation)
	}
	return Credential{UUID: uuid.NewString()}, nil
}
