package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"sotto/internal/domain"
)

// HTTPDirectory is a JSON client for a remote key directory.
type HTTPDirectory struct {
	Base string
	HTTP *http.Client
}

// NewHTTP returns a directory client for the given base URL.
func NewHTTP(base string, client *http.Client) *HTTPDirectory {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDirectory{Base: base, HTTP: client}
}

// Publish uploads this device's public bundle.
func (c *HTTPDirectory) Publish(ctx context.Context, bundle domain.PreKeyBundle) error {
	return c.post(ctx, "/bundles", bundle, nil)
}

// Fetch retrieves a participant's bundle. The server hands out at most one
// one-time pre-key per fetch and retires it.
func (c *HTTPDirectory) Fetch(ctx context.Context, participant domain.ParticipantID) (domain.PreKeyBundle, error) {
	var out domain.PreKeyBundle
	if err := c.getJSON(ctx, "/bundles/"+url.PathEscape(participant.String()), &out); err != nil {
		return domain.PreKeyBundle{}, err
	}
	return out, nil
}

func (c *HTTPDirectory) post(ctx context.Context, path string, in, out any) error {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(in); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("directory post %s: %s", path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *HTTPDirectory) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("directory get %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Compile-time assertion that HTTPDirectory implements domain.Directory.
var _ domain.Directory = (*HTTPDirectory)(nil)
