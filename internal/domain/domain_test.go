package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAccountValidate(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		wantErr bool
	}{
		{name: "valid ssh", account: Account{ID: "u1", Protocol: ProtocolSSH}},
		{name: "valid with dash", account: Account{ID: "team-3_a", Protocol: ProtocolVMess}},
		{name: "uppercase id rejected", account: Account{ID: "User1", Protocol: ProtocolSSH}, wantErr: true},
		{name: "empty id rejected", account: Account{ID: "", Protocol: ProtocolSSH}, wantErr: true},
		{name: "leading digit rejected", account: Account{ID: "1user", Protocol: ProtocolSSH}, wantErr: true},
		{name: "unknown protocol rejected", account: Account{ID: "u1", Protocol: "wireguard"}, wantErr: true},
		{name: "negative quota rejected", account: Account{ID: "u1", Protocol: ProtocolSSH, QuotaBytes: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.account.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrValidation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestAccountOverQuota(t *testing.T) {
	tests := []struct {
		name    string
		account Account
		want    bool
	}{
		{name: "unlimited never breaches", account: Account{UsageBytes: 1 << 40}},
		{name: "under byte quota", account: Account{QuotaBytes: 100, UsageBytes: 100}},
		{name: "over byte quota", account: Account{QuotaBytes: 100, UsageBytes: 101}, want: true},
		{name: "over login quota", account: Account{QuotaLogins: 1, UsageLogins: 2}, want: true},
		{name: "at login quota", account: Account{QuotaLogins: 2, UsageLogins: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.account.OverQuota())
		})
	}
}

func TestAccountExpiredAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, Account{}.ExpiredAt(now), "zero deadline never expires")
	assert.False(t, Account{ExpiresAt: now.Add(time.Minute)}.ExpiredAt(now))
	assert.True(t, Account{ExpiresAt: now.Add(-time.Minute)}.ExpiredAt(now))
}

func TestAdvanceUsageMonotonic(t *testing.T) {
	tests := []struct {
		name                     string
		persisted, prevRaw, raw  int64
		want                     int64
	}{
		{name: "normal growth", persisted: 500, prevRaw: 200, raw: 350, want: 650},
		{name: "no change", persisted: 500, prevRaw: 200, raw: 200, want: 500},
		{name: "daemon restart treated as reset", persisted: 500, prevRaw: 200, raw: 80, want: 580},
		{name: "first sample", persisted: 0, prevRaw: 0, raw: 120, want: 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AdvanceUsage(tt.persisted, tt.prevRaw, tt.raw))
		})
	}
}

func TestNewCredentialPerProtocol(t *testing.T) {
	xray, err := NewCredential(ProtocolVLESS, "")
	require.NoError(t, err)
	assert.NotEmpty(t, xray.UUID)
	assert.Empty(t, xray.Secret)

	ssh, err := NewCredential(ProtocolSSH, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", ssh.Secret)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(ssh.PasswordHash), []byte("hunter2")))

	_, err = NewCredential(ProtocolSSH, "")
	require.ErrorIs(t, err, ErrValidation)

	l2tp, err := NewCredential(ProtocolL2TP, "psk-value")
	require.NoError(t, err)
	assert.Equal(t, "psk-value", l2tp.Secret)
}

func TestCredentialRotate(t *testing.T) {
	orig, err := NewCredential(ProtocolVMess, "")
	require.NoError(t, err)

	rotated, err := orig.Rotate(ProtocolVMess)
	require.NoError(t, err)
	assert.NotEqual(t, orig.UUID, rotated.UUID)

	_, err = orig.Rotate(ProtocolSSH)
	require.ErrorIs(t, err, ErrValidation)
}

func TestFilterMatches(t *testing.T) {
	account := Account{ID: "u1", Protocol: ProtocolSSH, State: StateActive}

	assert.True(t, Filter{}.Matches(account))
	assert.True(t, Filter{Protocol: ProtocolSSH}.Matches(account))
	assert.True(t, Filter{State: StateActive}.Matches(account))
	assert.False(t, Filter{Protocol: ProtocolVMess}.Matches(account))
	assert.False(t, Filter{State: StateLocked}.Matches(account))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512B", FormatBytes(512))
	assert.Equal(t, "1.5KB", FormatBytes(1536))
	assert.Equal(t, "2.0MB", FormatBytes(2<<20))
	gb := float64(int64(1) << 30)
	assert.Equal(t, "1.20GB", FormatBytes(int64(gb*1.2)))
}
