package auth

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ncecere/sophnet_gateway/internal/config"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("s3cret")
	require.NoError(t, err)

	ok, err := VerifySecret("s3cret", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = VerifySecret("other", hash)
	require.NoError(t, err)
	require.False(t, ok)

	_, err = VerifySecret("s3cret", "bcrypt$nope")
	require.Error(t, err)
}

func TestParseAPIKey(t *testing.T) {
	prefix, secret, token, err := GenerateAPIKey()
	require.NoError(t, err)

	gotPrefix, gotSecret, ok := ParseAPIKey(token)
	require.True(t, ok)
	require.Equal(t, prefix, gotPrefix)
	require.Equal(t, secret, gotSecret)

	for _, bad := range []string{"", "sk-", "sk-abc", "pk-abc.def", "sk-.def"} {
		_, _, ok := ParseAPIKey(bad)
		require.False(t, ok, bad)
	}
}

func TestKeyStoreAuthenticate(t *testing.T) {
	prefix, secret, token, err := GenerateAPIKey()
	require.NoError(t, err)
	hash, err := HashSecret(secret)
	require.NoError(t, err)

	store := NewKeyStore([]config.APIKeyConfig{{Name: "ops", Prefix: prefix, SecretHash: hash}})
	require.True(t, store.Enabled())

	key, err := store.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "ops", key.Name)

	// second call is served from the verified set
	key, err = store.Authenticate(token)
	require.NoError(t, err)
	require.Equal(t, "ops", key.Name)

	_, err = store.Authenticate("sk-" + prefix + ".wrong")
	require.True(t, errors.Is(err, ErrInvalidKey))

	_, err = store.Authenticate("")
	require.True(t, errors.Is(err, ErrMissingKey))

	require.False(t, NewKeyStore(nil).Enabled())
}
