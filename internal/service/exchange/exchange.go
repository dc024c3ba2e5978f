package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"e2e_messenger/internal/model"
)

var (
	// ErrPeerNotFound: the peer never published key material. Not retried;
	// no secure session can be established until they do.
	ErrPeerNotFound = errors.New("peer has no published key bundle")

	// ErrKeyFetch: transient transport failure talking to the directory.
	// Safe to retry with backoff.
	ErrKeyFetch = errors.New("key directory unreachable")
)

// Client talks to the peer-directory service. Fetch is a consuming read: the
// directory removes the returned one-time prekey from the peer's inventory
// before responding.
type Client struct {
	base   string
	userID string
	http   *http.Client
}

func NewClient(base, userID string) *Client {
	return &Client{
		base:   base,
		userID: userID,
		http:   http.DefaultClient,
	}
}

// Publish upserts the device's public key material. The directory overwrites
// identity/signed-prekey fields and appends new one-time prekeys, deduplicated
// by key id. Returns the remaining one-time inventory.
func (c *Client) Publish(ctx context.Context, rec *model.KeyRecord) (int, error) {
	rec.UserID = c.userID
	var resp model.PublishResponse
	if err := c.post(ctx, "/keys/publish", rec, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// PublishPreKeys appends freshly minted one-time prekeys without touching the
// identity fields.
func (c *Client) PublishPreKeys(ctx context.Context, keys []model.OneTimePreKeyPublic) (int, error) {
	rec := &model.KeyRecord{
		UserID:         c.userID,
		OneTimePreKeys: keys,
	}
	var resp model.PublishResponse
	if err := c.post(ctx, "/keys/publish", rec, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Fetch returns a peer's bundle with at most one one-time prekey, consumed
// server-side. A bundle with OneTimePreKey == nil means the inventory is
// exhausted and is a valid response.
func (c *Client) Fetch(ctx context.Context, peerID string) (*model.KeyBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/keys/fetch/"+url.PathEscape(peerID), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, peerID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch %s: %s", ErrKeyFetch, peerID, resp.Status)
	}

	var bundle model.KeyBundle
	if err := json.NewDecoder(resp.Body).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %v", ErrKeyFetch, err)
	}
	return &bundle, nil
}

// Count reports this user's remaining one-time prekey inventory.
func (c *Client) Count(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.base+"/keys/count/"+url.PathEscape(c.userID), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: count: %s", ErrKeyFetch, resp.Status)
	}
	var out model.CountResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: decode count: %v", ErrKeyFetch, err)
	}
	return out.Count, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrKeyFetch, err)
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: post %s: %s", ErrKeyFetch, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
