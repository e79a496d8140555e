// Package gateway implements the signed request/response protocol with the
// remote update gateway: authenticated POSTs with MAC headers, asymmetric
// verification of response bodies, and streamed artifact downloads with
// redirect-once semantics.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/lattice-cms/updater/internal/config"
	"github.com/lattice-cms/updater/internal/httputil"
	"github.com/lattice-cms/updater/internal/logging"
	"github.com/lattice-cms/updater/internal/signing"
)

var log = logging.L("gateway")

const (
	protocolVersion = "1.2"

	// Request/response signature headers.
	headerRestKey  = "Rest-Key"
	headerRestSign = "Rest-Sign"

	// maxErrorBody caps how much of an error response is kept for messages.
	maxErrorBody = 16 * 1024
)

// Identity describes the installation on whose behalf requests are made.
// It is folded into the server fingerprint block of every request.
type Identity struct {
	AppURL        string
	ClientIP      string
	OldestInstall int64 // unix seconds of the oldest known install, 0 if unknown
}

// Client talks to the update gateway. All calls are synchronous and
// single-shot; the protocol has no automatic retries.
type Client struct {
	cfg      *config.Config
	identity Identity
	keyring  openpgp.EntityList
	http     *http.Client
	now      func() time.Time
}

// New creates a gateway client. The keyring is the trust anchor for
// response signatures; a nil keyring makes every response fail
// verification, which is the safe default.
func New(cfg *config.Config, identity Identity, keyring openpgp.EntityList) *Client {
	return &Client{
		cfg:      cfg,
		identity: identity,
		keyring:  keyring,
		http:     httputil.NewClient(5 * time.Minute),
		now:      time.Now,
	}
}

// RequestData performs a signed POST to {base}/{endpoint} and returns the
// decoded, signature-verified payload. Only a verified 200 payload is ever
// returned; every other outcome is one of the package's error kinds.
func (c *Client) RequestData(ctx context.Context, endpoint string, extra map[string]string) (map[string]any, error) {
	params := c.commonParams(extra)

	resp, err := c.post(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, endpoint)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &BadResponseError{Status: resp.StatusCode, Body: trimBody(body)}
	}

	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &InvalidResponseError{Reason: "undecodable body", Err: err}
	}
	payload, ok := decoded.(map[string]any)
	if !ok || len(payload) == 0 {
		return nil, &InvalidResponseError{Reason: "empty result"}
	}

	if !signing.Verify(body, resp.Header.Get(headerRestSign), c.keyring) {
		return nil, &BadSignatureError{Endpoint: endpoint}
	}

	return payload, nil
}

// RequestFile streams an artifact to a deterministic local path derived
// from fileCode. A 301/302 carrying a redirect_url field triggers exactly
// one unsigned follow-up GET to that URL, streamed to the same path. Any
// final non-200 status is an error whose message is the downloaded file's
// own contents. When expectedHash is set the artifact's SHA-256 must match.
func (c *Client) RequestFile(ctx context.Context, endpoint, fileCode, expectedHash string, extra map[string]string) (string, error) {
	params := c.commonParams(extra)
	dest := c.FilePath(fileCode)

	resp, err := c.post(ctx, endpoint, params)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	bodySrc := resp.Body

	if status == http.StatusMovedPermanently || status == http.StatusFound {
		redirectURL, raw := redirectTarget(resp.Body)
		if redirectURL != "" {
			log.Debug("following gateway redirect", logging.KeyEndpoint, endpoint)
			follow, err := httputil.Get(ctx, c.http, redirectURL)
			if err != nil {
				return "", fmt.Errorf("follow redirect: %w", err)
			}
			defer follow.Body.Close()
			status = follow.StatusCode
			bodySrc = follow.Body
		} else {
			// No redirect target: the metadata body itself becomes the
			// downloaded file so the error path below can surface it.
			bodySrc = io.NopCloser(strings.NewReader(string(raw)))
		}
	}

	if _, err := httputil.StreamToFile(bodySrc, dest); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", dest, err)
	}

	if status != http.StatusOK {
		contents, _ := os.ReadFile(dest)
		return "", &BadResponseError{Status: status, Body: trimBody(contents)}
	}

	if expectedHash != "" {
		if err := verifyFileHash(dest, expectedHash); err != nil {
			return "", err
		}
	}

	return dest, nil
}

// FilePath returns the deterministic download destination for a file code.
// Repeated downloads of the same artifact overwrite in place.
func (c *Client) FilePath(fileCode string) string {
	sum := sha256.Sum256([]byte(fileCode))
	return filepath.Join(c.cfg.TempDir, hex.EncodeToString(sum[:])+".arc")
}

func (c *Client) post(ctx context.Context, endpoint string, params map[string]string) (*http.Response, error) {
	u := strings.TrimRight(c.cfg.GatewayURL, "/") + "/" + strings.TrimLeft(endpoint, "/")

	headers := http.Header{}
	if c.cfg.UpdateAuthUser != "" {
		cred := c.cfg.UpdateAuthUser + ":" + c.cfg.UpdateAuthPass
		headers.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(cred)))
	}
	if c.cfg.RestKey != "" && c.cfg.RestSecret != "" {
		headers.Set(headerRestKey, c.cfg.RestKey)
		headers.Set(headerRestSign, signing.Sign(params, []byte(c.cfg.RestSecret)))
	}

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	return httputil.PostForm(ctx, c.http, u, form, headers)
}

// commonParams builds the attribute set every request carries, including
// the nonce covered by the outbound MAC.
func (c *Client) commonParams(extra map[string]string) map[string]string {
	params := map[string]string{
		"protocol_version": protocolVersion,
		"client":           c.cfg.ClientID,
		"nonce":            strconv.FormatInt(c.now().UnixMicro(), 10),
		"server":           c.serverBlock(),
	}
	if c.cfg.ProjectID != "" {
		params["project"] = c.cfg.ProjectID
	}
	if c.cfg.EdgeUpdates {
		params["edge"] = "1"
	}
	for k, v := range extra {
		params[k] = v
	}
	return params
}

func (c *Client) serverBlock() string {
	block := map[string]any{
		"go":  runtime.Version(),
		"url": c.identity.AppURL,
	}
	if c.identity.ClientIP != "" {
		block["ip"] = c.identity.ClientIP
	}
	if c.identity.OldestInstall > 0 {
		block["since"] = c.identity.OldestInstall
	}
	if info, err := host.Info(); err == nil {
		block["platform"] = strings.TrimSpace(info.Platform + " " + info.PlatformVersion)
	}
	raw, _ := json.Marshal(block)
	return base64.StdEncoding.EncodeToString(raw)
}

// redirectTarget decodes the transport metadata of a redirect response and
// returns the redirect_url field, plus the raw body for the fallthrough
// error path.
func redirectTarget(r io.Reader) (string, []byte) {
	raw, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return "", nil
	}
	var meta struct {
		RedirectURL string `json:"redirect_url"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return "", raw
	}
	return meta.RedirectURL, raw
}

func verifyFileHash(path, expected string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("artifact checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
