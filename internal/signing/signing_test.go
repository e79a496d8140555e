package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/require"
)

func testKeyring(t *testing.T) (*openpgp.Entity, openpgp.EntityList) {
	t.Helper()
	entity, err := openpgp.NewEntity("Gateway", "test", "gateway@example.com", nil)
	require.NoError(t, err)

	var pub bytes.Buffer
	require.NoError(t, entity.Serialize(&pub))
	keyring, err := openpgp.ReadKeyRing(&pub)
	require.NoError(t, err)
	require.NotEmpty(t, keyring)
	return entity, keyring
}

func detachSign(t *testing.T, entity *openpgp.Entity, body []byte) string {
	t.Helper()
	var sig bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&sig, entity, bytes.NewReader(body), nil))
	return base64.StdEncoding.EncodeToString(sig.Bytes())
}

func TestSignIsDeterministicAndOrderIndependent(t *testing.T) {
	secret := []byte("s3cret")
	a := Sign(map[string]string{"client": "lattice", "nonce": "17", "build": "462"}, secret)
	b := Sign(map[string]string{"build": "462", "nonce": "17", "client": "lattice"}, secret)
	require.Equal(t, a, b)

	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte("build=462&client=lattice&nonce=17"))
	require.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), a)
}

func TestSignEscapesReservedCharacters(t *testing.T) {
	secret := []byte("k")
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte("q=a%26b%3Dc"))
	require.Equal(t,
		base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		Sign(map[string]string{"q": "a&b=c"}, secret))
}

func TestSignDiffersAcrossSecrets(t *testing.T) {
	params := map[string]string{"nonce": "1"}
	require.NotEqual(t, Sign(params, []byte("one")), Sign(params, []byte("two")))
}

func TestVerifyRoundTrip(t *testing.T) {
	entity, keyring := testKeyring(t)
	body := []byte(`{"update_count":2,"core":{"build":"470"}}`)

	sig := detachSign(t, entity, body)
	require.True(t, Verify(body, sig, keyring))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	entity, keyring := testKeyring(t)
	body := []byte(`{"update_count":2}`)
	sig := detachSign(t, entity, body)

	tampered := bytes.Clone(body)
	tampered[2] ^= 0x01
	require.False(t, Verify(tampered, sig, keyring))
}

func TestVerifyRejectsEmptyOrMalformedSignature(t *testing.T) {
	_, keyring := testKeyring(t)
	body := []byte(`{}`)

	require.False(t, Verify(body, "", keyring))
	require.False(t, Verify(body, "not base64 !!!", keyring))
	require.False(t, Verify(body, base64.StdEncoding.EncodeToString([]byte("garbage")), keyring))
	require.False(t, Verify(body, "whatever", nil))
}

func TestVerifyRejectsSignatureFromDifferentKey(t *testing.T) {
	other, _ := testKeyring(t)
	_, keyring := testKeyring(t)
	body := []byte(`{"data":[]}`)

	sig := detachSign(t, other, body)
	require.False(t, Verify(body, sig, keyring))
}

func TestLoadKeyringPinnedKey(t *testing.T) {
	keyring, err := LoadKeyring("")
	require.NoError(t, err)
	require.NotEmpty(t, keyring)
	require.NotEmpty(t, keyring[0].Identities)
}

func TestLoadKeyringOverride(t *testing.T) {
	entity, _ := testKeyring(t)
	dir := t.TempDir()

	// Armored override
	var armored bytes.Buffer
	w, err := armor.Encode(&armored, "PGP PUBLIC KEY BLOCK", nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())

	armoredPath := filepath.Join(dir, "gateway.asc")
	require.NoError(t, os.WriteFile(armoredPath, armored.Bytes(), 0o600))

	keyring, err := LoadKeyring(armoredPath)
	require.NoError(t, err)
	require.NotEmpty(t, keyring)

	// Binary override
	var binary bytes.Buffer
	require.NoError(t, entity.Serialize(&binary))
	binaryPath := filepath.Join(dir, "gateway.pgp")
	require.NoError(t, os.WriteFile(binaryPath, binary.Bytes(), 0o600))

	keyring, err = LoadKeyring(binaryPath)
	require.NoError(t, err)
	require.NotEmpty(t, keyring)
}

func TestLoadKeyringMissingOverrideFile(t *testing.T) {
	_, err := LoadKeyring(filepath.Join(t.TempDir(), "absent.asc"))
	require.Error(t, err)
}
