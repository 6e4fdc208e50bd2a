package credential

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestArgon2Hasher(t *testing.T) {
	h := NewArgon2Hasher(testArgon)

	t.Run("PHC format carries params", func(t *testing.T) {
		hash, err := h.Hash("password")
		require.NoError(t, err)
		parts := strings.Split(hash, "$")
		require.Len(t, parts, 6)
		assert.Equal(t, "argon2id", parts[1])
		assert.Equal(t, "v=19", parts[2])
		assert.Equal(t, "m=8192,t=1,p=1", parts[3])
	})

	t.Run("same password salts differently", func(t *testing.T) {
		a, _ := h.Hash("password")
		b, _ := h.Hash("password")
		assert.NotEqual(t, a, b)
	})

	t.Run("zero params fall back to defaults", func(t *testing.T) {
		assert.Equal(t, DefaultArgon2Params, NewArgon2Hasher(Argon2Params{}).params)
	})
}

func TestVerify(t *testing.T) {
	argonHash, err := NewArgon2Hasher(testArgon).Hash("hunter22")
	require.NoError(t, err)
	bcryptHash, err := NewBcryptHasher(bcrypt.MinCost).Hash("hunter22")
	require.NoError(t, err)

	tests := []struct {
		name    string
		pwd     string
		hash    string
		want    bool
		wantErr bool
	}{
		{"argon2 match", "hunter22", argonHash, true, false},
		{"argon2 mismatch", "hunter23", argonHash, false, false},
		{"bcrypt match", "hunter22", bcryptHash, true, false},
		{"bcrypt mismatch", "hunter23", bcryptHash, false, false},
		{"unknown algorithm", "hunter22", "$md5$abc", false, true},
		{"truncated argon2", "hunter22", "$argon2id$v=19$m=8192", false, true},
		{"bad argon2 version", "hunter22", "$argon2id$v=16$m=8192,t=1,p=1$c2FsdA$aGFzaA", false, true},
		{"bad salt encoding", "hunter22", "$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Verify(tt.pwd, tt.hash)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBcryptLongPasswords(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)
	p72 := strings.Repeat("a", 72)
	p128 := strings.Repeat("b", 128)

	hash72, err := h.Hash(p72)
	require.NoError(t, err)
	ok, err := Verify(p72, hash72)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(p72+"DIFFERENT", hash72)
	require.NoError(t, err)
	assert.False(t, ok, "bytes past 72 must still count")

	hash128, err := h.Hash(p128)
	require.NoError(t, err, "passwords up to the 128-byte policy limit must hash")
	ok, err = Verify(p128, hash128)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Verify(p128[:127], hash128)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBcryptHasherCostBounds(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(0).cost)
	assert.Equal(t, bcrypt.DefaultCost, NewBcryptHasher(99).cost)
	assert.Equal(t, 12, NewBcryptHasher(12).cost)
}
