package credential

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := LoadConfig()
	cfg.BcryptCost = 4
	cfg.Argon2Memory = 8 * 1024
	cfg.Argon2Threads = 1
	return cfg
}

func TestLookup(t *testing.T) {
	reg := NewInMemoryRegistry(PreparerCredential{ID: "P01234567", Kind: KindPTIN, Status: StatusActive, DisplayName: "Pat Preparer"})

	c, err := reg.Lookup(context.Background(), " p01234567 ")
	require.NoError(t, err)
	assert.Equal(t, "Pat Preparer", c.DisplayName)

	_, err = reg.Lookup(context.Background(), "P99999999")
	require.ErrorIs(t, err, ErrCredentialNotFound)
	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "P99999999", ce.ID)
}

func TestRequireActive(t *testing.T) {
	cfg := testConfig()
	hash, err := HashPIN("12345", cfg)
	require.NoError(t, err)

	reg := NewInMemoryRegistry(
		PreparerCredential{ID: "P00000001", Kind: KindPTIN, Status: StatusActive, PINHash: hash},
		PreparerCredential{ID: "P00000002", Kind: KindPTIN, Status: StatusInactive},
	)
	ctx := context.Background()

	_, err = RequireActive(ctx, reg, "P00000001", "12345")
	require.NoError(t, err)

	_, err = RequireActive(ctx, reg, "P00000001", "54321")
	assert.ErrorIs(t, err, ErrPINMismatch)

	_, err = RequireActive(ctx, reg, "P00000002", "")
	assert.ErrorIs(t, err, ErrCredentialInactive)

	_, err = RequireActive(ctx, reg, "P00000003", "")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	require.NoError(t, reg.SetStatus("P00000001", StatusInactive))
	_, err = RequireActive(ctx, reg, "P00000001", "12345")
	assert.ErrorIs(t, err, ErrCredentialInactive)
}

func TestLookup_CanceledContext(t *testing.T) {
	reg := NewInMemoryRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := reg.Lookup(ctx, "P00000001")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashPIN_Algorithms(t *testing.T) {
	for _, alg := range []string{AlgorithmBcrypt, AlgorithmArgon2} {
		t.Run(alg, func(t *testing.T) {
			cfg := testConfig()
			cfg.HashAlgorithm = alg
			hash, err := HashPIN("24680", cfg)
			require.NoError(t, err)
			assert.True(t, VerifyPIN("24680", hash))
			assert.False(t, VerifyPIN("13579", hash))
		})
	}

	_, err := HashPIN("", testConfig())
	assert.ErrorIs(t, err, ErrEmptyPIN)
	assert.False(t, VerifyPIN("24680", "plaintext"))
}

func TestLoadRegistryFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	body := `[
  {"id": "P11111111", "kind": "ptin", "displayName": "Robin Roe", "issuedAt": "2019-01-02T00:00:00Z"},
  {"id": "123456", "kind": "efin", "status": "inactive"}
]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	reg, err := LoadRegistryFile(path)
	require.NoError(t, err)

	c, err := reg.Lookup(context.Background(), "P11111111")
	require.NoError(t, err)
	assert.True(t, c.Active())
	assert.Equal(t, time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC), c.IssuedAt)

	c, err = reg.Lookup(context.Background(), "123456")
	require.NoError(t, err)
	assert.False(t, c.Active())

	require.NoError(t, os.WriteFile(path, []byte(`[{"kind":"ptin"}]`), 0o600))
	_, err = LoadRegistryFile(path)
	require.Error(t, err)
}
