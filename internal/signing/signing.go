// Package signing implements both halves of the gateway trust scheme:
// outbound requests carry an HMAC-SHA512 MAC over a canonical query string,
// inbound responses carry a detached OpenPGP signature over the JSON body.
package signing

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	_ "embed"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
)

//go:embed trustedkey.asc
var pinnedPublicKey []byte

// Sign computes the outbound MAC for the given request parameters.
// The canonical form is the query-string encoding of the parameters with
// keys in ascending order. Deterministic for identical input.
func Sign(params map[string]string, secret []byte) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(canonicalQuery(params)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a detached signature over the raw JSON response body against
// the trusted keyring. Returns false, never an error, for empty or malformed
// signatures: a failed verification is a trust failure and the caller must
// discard the payload.
func Verify(body []byte, sigB64 string, keyring openpgp.EntityList) bool {
	if sigB64 == "" || len(keyring) == 0 {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	_, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(body), bytes.NewReader(sig), nil)
	return err == nil
}

// LoadKeyring returns the trusted gateway keyring. The pinned key ships with
// the binary; overridePath replaces it entirely when set.
func LoadKeyring(overridePath string) (openpgp.EntityList, error) {
	raw := pinnedPublicKey
	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read public key override: %w", err)
		}
		raw = data
	}

	keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(raw))
	if err != nil {
		// Accept non-armored keyrings for overrides exported in binary form
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("read keyring: %w", err)
		}
	}
	if len(keyring) == 0 {
		return nil, fmt.Errorf("keyring is empty")
	}
	return keyring, nil
}

func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}
