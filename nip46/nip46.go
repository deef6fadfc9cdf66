// Package nip46 is a remote-signer (bunker) client: it keeps an ephemeral
// local keypair, sends sign_digest requests to the bunker over a relay pool
// and waits for the matching responses, and verifies every signature the bunker returns
// before handing it back, so the bunker can misbehave but never forge.
//
// It lives outside the signer package (rather than as signer.RemoteSigner,
// the shape signer.go's own doc comment once promised) because a faithful
// client needs event, pool and relay, all of which already sit downstream
// of signer in the import graph; folding it into signer would cycle.
package nip46

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/frand"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/event"
	"codeberg.org/nostrcore/relaysdk/filter"
	"codeberg.org/nostrcore/relaysdk/kind"
	"codeberg.org/nostrcore/relaysdk/pool"
	"codeberg.org/nostrcore/relaysdk/sdkerrors"
	"codeberg.org/nostrcore/relaysdk/signer"
	"codeberg.org/nostrcore/relaysdk/subscription"
	"codeberg.org/nostrcore/relaysdk/tag"
	"codeberg.org/nostrcore/relaysdk/timestamp"
)

// transportInfo is the HKDF info label binding the derived key to this
// protocol use, so the same ECDH secret used elsewhere (NIP-44 DMs, say)
// never yields the same symmetric key.
const transportInfo = "nostrcore/relaysdk nip46 transport v1"

// requestKind is the NIP-46 transport event kind ("nostrconnect").
const requestKind = 24133

// ConnectionParams is a parsed bunker:// URI.
type ConnectionParams struct {
	RemotePubkey []byte
	Relays       []string
	Secret       string
}

// ParseBunkerURI parses "bunker://<hex-pubkey>?relay=wss://...&relay=wss://...&secret=...".
func ParseBunkerURI(uri string) (*ConnectionParams, error) {
	const prefix = "bunker://"
	if !strings.HasPrefix(uri, prefix) {
		return nil, errorf.E("nip46: not a bunker uri: %q", uri)
	}
	rest := uri[len(prefix):]
	pkHex, query, _ := strings.Cut(rest, "?")
	pk, err := hex.DecodeString(pkHex)
	if err != nil || len(pk) != 32 {
		return nil, errorf.E("nip46: bad bunker pubkey %q", pkHex)
	}
	p := &ConnectionParams{RemotePubkey: pk}
	for _, kv := range strings.Split(query, "&") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch k {
		case "relay":
			p.Relays = append(p.Relays, v)
		case "secret":
			p.Secret = v
		}
	}
	return p, nil
}

type rpcRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params"`
}

type rpcResponse struct {
	ID     string `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// Client is a signer.I backed by a NIP-46 bunker connection. Every
// request/response transport event's content is sealed with an XChaCha20-
// Poly1305 AEAD keyed by HKDF-SHA256 over the local/remote ECDH shared
// secret, so the JSON-RPC payload (which can carry raw event contents
// during sign_event) never travels a relay in the clear.
type Client struct {
	pool    *pool.Pool
	local   signer.ECDHCapable
	remote  []byte
	relays  []string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan rpcResponse
	started bool
}

var _ signer.I = (*Client)(nil)

// NewClient builds a bunker client. local is the ephemeral keypair the
// client authenticates its own transport events with, not the user's
// identity key, which never leaves the bunker. timeout bounds every
// request; 0 defaults to 30s.
func NewClient(p *pool.Pool, local signer.ECDHCapable, params *ConnectionParams, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		pool:    p,
		local:   local,
		remote:  params.RemotePubkey,
		relays:  params.Relays,
		timeout: timeout,
		pending: make(map[string]chan rpcResponse),
	}
}

// Pub returns the bunker's identity pubkey: the key Sign produces
// signatures for, not the local transport key.
func (c *Client) Pub() []byte { return c.remote }

// Sign asks the bunker to produce a Schnorr signature over msg (a 32-byte
// event id hash) and verifies the returned signature against Pub before
// trusting it, so a misbehaving or compromised bunker can only ever refuse
// to sign, never forge a signature under the wrong key.
func (c *Client) Sign(msg []byte) (sig []byte, err error) {
	ctx, cancel := context.Timeout(context.Bg(), c.timeout)
	defer cancel()
	resp, err := c.request(ctx, "sign_digest", []string{hex.EncodeToString(msg)})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errorf.E("nip46: bunker refused: %s", resp.Error)
	}
	sig, err = hex.DecodeString(resp.Result)
	if err != nil {
		return nil, errorf.E("nip46: bunker returned non-hex signature: %w", err)
	}
	s := &signer.Secp256k1{}
	if err = s.InitPub(c.remote); chk.E(err) {
		return nil, err
	}
	ok, err := s.Verify(msg, sig)
	if err != nil || !ok {
		return nil, sdkerrors.ErrAuthFailed
	}
	return sig, nil
}

// Verify checks sig against msg under the bunker's pubkey. It needs no
// round trip: verification only ever needs the public key, which the
// client already holds.
func (c *Client) Verify(msg, sig []byte) (bool, error) {
	s := &signer.Secp256k1{}
	if err := s.InitPub(c.remote); chk.E(err) {
		return false, err
	}
	return s.Verify(msg, sig)
}

// conversationKey derives the symmetric key shared with the bunker: an ECDH
// secret over the local transport key and the bunker's identity key, run
// through HKDF-SHA256 so the raw curve point never directly keys the AEAD.
func (c *Client) conversationKey() ([]byte, error) {
	secret, err := c.local.ECDH(c.remote)
	if chk.E(err) {
		return nil, err
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err = io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(transportInfo)), key); chk.E(err) {
		return nil, err
	}
	return key, nil
}

// sealContent encrypts plaintext under the ECDH conversation key and returns
// base64(nonce || ciphertext || tag), the form stored in Content.
func (c *Client) sealContent(plaintext []byte) ([]byte, error) {
	key, err := c.conversationKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if chk.E(err) {
		return nil, err
	}
	nonce := frand.Bytes(aead.NonceSize())
	sealed := aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// openContent reverses sealContent.
func (c *Client) openContent(content []byte) ([]byte, error) {
	key, err := c.conversationKey()
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if chk.E(err) {
		return nil, err
	}
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(content)))
	n, err := base64.StdEncoding.Decode(raw, content)
	if chk.D(err) {
		return nil, err
	}
	raw = raw[:n]
	if len(raw) < aead.NonceSize() {
		return nil, errorf.D("nip46: sealed content shorter than nonce")
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// request sends method/params to the bunker as a signed kind-24133 event
// and blocks until a matching response event arrives or ctx is done.
func (c *Client) request(ctx context.T, method string, params []string) (rpcResponse, error) {
	c.start(ctx)

	id := hex.EncodeToString(frand.Bytes(8))
	ch := make(chan rpcResponse, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	body, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return rpcResponse{}, err
	}
	sealed, err := c.sealContent(body)
	if err != nil {
		return rpcResponse{}, err
	}

	ev := event.New()
	ev.Kind = kind.New(requestKind)
	ev.CreatedAt = timestamp.Now()
	ev.Tags.AppendTags(tag.New("p", hex.EncodeToString(c.remote)))
	ev.Content = sealed
	if err = ev.Sign(c.local); chk.E(err) {
		return rpcResponse{}, err
	}

	results := c.pool.SendEventTo(ctx, ev, c.relays)
	sent := false
	for _, r := range results {
		if r.OK {
			sent = true
		}
	}
	if !sent {
		return rpcResponse{}, sdkerrors.ErrNoRelays
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return rpcResponse{}, sdkerrors.ErrTimeout
	}
}

// start opens (once) a subscription for responses addressed to the local
// transport key and dispatches each to its waiting requester.
func (c *Client) start(ctx context.T) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	f := filter.New()
	f.Kinds = f.Kinds.Append(requestKind)
	f.Tags.AppendTags(tag.New("#p", hex.EncodeToString(c.local.Pub())))
	_, events := c.pool.StreamEvents(context.Bg(), []*filter.F{f}, c.relays, subscription.Options{})
	go func() {
		for ev := range events {
			c.handle(ev)
		}
	}()
}

func (c *Client) handle(ev *event.E) {
	plain, err := c.openContent(ev.Content)
	if err != nil {
		// not sealed for us, or garbage; either way not a response
		return
	}
	var resp rpcResponse
	if err := json.Unmarshal(plain, &resp); err != nil {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}
