// Package astra implements the storage backend on the Astra DB Data API, a
// stateless HTTP/JSON document interface with server-side vector sort. Songs,
// embeddings and genres live in separate collections; text search runs
// client-side over a bounded candidate set.
package astra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	appErr "github.com/songdex/songdex/internal/pkg/errors"
)

const apiPathPrefix = "/api/json/v1"

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

type apiResponse struct {
	Status map[string]json.RawMessage `json:"status"`
	Data   struct {
		Document  json.RawMessage   `json:"document"`
		Documents []json.RawMessage `json:"documents"`
		NextPageState string        `json:"nextPageState"`
	} `json:"data"`
	Errors []apiError `json:"errors"`
}

type dataClient struct {
	endpoint string
	token    string
	keyspace string
	http     *http.Client
}

func newDataClient(endpoint, token, keyspace string) *dataClient {
	return &dataClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		keyspace: keyspace,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// command posts one Data API command to a collection and decodes the
// envelope. Transport and server-side failures map to
// ErrBackendUnavailable; command errors stay permanent.
func (c *dataClient) command(ctx context.Context, collection string, body interface{}) (*apiResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s%s/%s/%s", c.endpoint, apiPathPrefix, c.keyspace, collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErr.Unavailablef("astra: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, appErr.Unavailablef("astra: http %d", resp.StatusCode)
	}
	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, appErr.Unavailablef("astra: decode response: %v", err)
	}
	if len(decoded.Errors) > 0 {
		e := decoded.Errors[0]
		return nil, fmt.Errorf("astra: %s (%s)", e.Message, e.ErrorCode)
	}
	return &decoded, nil
}

func (c *dataClient) insertOne(ctx context.Context, collection string, doc interface{}) error {
	_, err := c.command(ctx, collection, map[string]interface{}{
		"insertOne": map[string]interface{}{"document": doc},
	})
	return err
}

func (c *dataClient) findOne(ctx context.Context, collection string, filter interface{}, out interface{}) error {
	resp, err := c.command(ctx, collection, map[string]interface{}{
		"findOne": map[string]interface{}{"filter": filter},
	})
	if err != nil {
		return err
	}
	if len(resp.Data.Document) == 0 || string(resp.Data.Document) == "null" {
		return appErr.ErrNotFound
	}
	return json.Unmarshal(resp.Data.Document, out)
}

type findOptions struct {
	Filter            interface{} `json:"filter,omitempty"`
	Sort              interface{} `json:"sort,omitempty"`
	Projection        interface{} `json:"projection,omitempty"`
	Limit             int         `json:"-"`
	IncludeSimilarity bool        `json:"-"`
}

func (c *dataClient) find(ctx context.Context, collection string, opts findOptions) ([]json.RawMessage, error) {
	cmd := map[string]interface{}{}
	if opts.Filter != nil {
		cmd["filter"] = opts.Filter
	}
	if opts.Sort != nil {
		cmd["sort"] = opts.Sort
	}
	if opts.Projection != nil {
		cmd["projection"] = opts.Projection
	}
	options := map[string]interface{}{}
	if opts.Limit > 0 {
		options["limit"] = opts.Limit
	}
	if opts.IncludeSimilarity {
		options["includeSimilarity"] = true
	}
	if len(options) > 0 {
		cmd["options"] = options
	}
	resp, err := c.command(ctx, collection, map[string]interface{}{"find": cmd})
	if err != nil {
		return nil, err
	}
	return resp.Data.Documents, nil
}

// deleteMany returns the number of documents removed.
func (c *dataClient) deleteMany(ctx context.Context, collection string, filter interface{}) (int, error) {
	resp, err := c.command(ctx, collection, map[string]interface{}{
		"deleteMany": map[string]interface{}{"filter": filter},
	})
	if err != nil {
		return 0, err
	}
	var count int
	if raw, ok := resp.Status["deletedCount"]; ok {
		_ = json.Unmarshal(raw, &count)
	}
	return count, nil
}

func (c *dataClient) replaceOne(ctx context.Context, collection string, filter interface{}, doc interface{}) error {
	_, err := c.command(ctx, collection, map[string]interface{}{
		"findOneAndReplace": map[string]interface{}{
			"filter":      filter,
			"replacement": doc,
			"options":     map[string]interface{}{"upsert": true},
		},
	})
	return err
}

func unmarshalDoc(raw json.RawMessage, out interface{}) error {
	return json.Unmarshal(raw, out)
}

func (c *dataClient) countDocuments(ctx context.Context, collection string, filter interface{}) (int64, error) {
	resp, err := c.command(ctx, collection, map[string]interface{}{
		"countDocuments": map[string]interface{}{"filter": filter},
	})
	if err != nil {
		return 0, err
	}
	var count int64
	if raw, ok := resp.Status["count"]; ok {
		_ = json.Unmarshal(raw, &count)
	}
	return count, nil
}
