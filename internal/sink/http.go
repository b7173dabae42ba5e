package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/strahe/waltap/internal/convert"
	"github.com/strahe/waltap/internal/pgwire"
)

const httpErrorBodyTruncateAt = 512

// HTTPSink posts the insert-delete encoding of each data change to a
// Feldera-style pipeline ingress endpoint. Begin/Commit/Relation/
// Truncate/Type are dropped; no request is issued for them.
type HTTPSink struct {
	client        *http.Client
	baseURL       string
	pipeline      string
	apiKey        string
	allowedTables map[string]struct{} // nil means unfiltered
	cache         *pgwire.Cache
}

// HTTPSinkConfig mirrors the CLI's feldera-* option group.
type HTTPSinkConfig struct {
	BaseURL       string
	Pipeline      string
	APIKey        string
	AllowedTables []string // "<schema>_<table>" tokens; nil/empty = allow all
}

func NewHTTPSink(cfg HTTPSinkConfig, cache *pgwire.Cache) *HTTPSink {
	var allowed map[string]struct{}
	if len(cfg.AllowedTables) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedTables))
		for _, t := range cfg.AllowedTables {
			allowed[t] = struct{}{}
		}
	}
	return &HTTPSink{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:       cfg.BaseURL,
		pipeline:      cfg.Pipeline,
		apiKey:        cfg.APIKey,
		allowedTables: allowed,
		cache:         cache,
	}
}

func (s *HTTPSink) Type() string { return "feldera" }

func (s *HTTPSink) Close() error { return nil }

func (s *HTTPSink) WriteChange(ctx context.Context, change pgwire.Change) error {
	key, _, _, ok, err := convert.RelationKey(s.cache, change)
	if err != nil {
		return fmt.Errorf("sink: http: %w", err)
	}
	if !ok {
		return nil // Begin/Commit/Relation/Truncate/Type: no request
	}
	if s.allowedTables != nil {
		if _, allowed := s.allowedTables[key]; !allowed {
			return nil
		}
	}

	events, err := convert.InsertDelete(s.cache, change)
	if err != nil {
		return fmt.Errorf("sink: http: render: %w", err)
	}
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("sink: http: marshal body: %w", err)
	}

	reqURL := s.url(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sink: http: build request for %s: %w", reqURL, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sink: http: request to %s: %w", reqURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, httpErrorBodyTruncateAt))
		return fmt.Errorf("sink: http: %s returned %d: %s", reqURL, resp.StatusCode, respBody)
	}
	return nil
}

// url builds the ingress URL for one data change's schema_table key.
func (s *HTTPSink) url(schemaTable string) string {
	return fmt.Sprintf(
		"%s/v0/pipelines/%s/ingress/%s?format=json&update_format=insert_delete&array=true",
		s.baseURL,
		url.PathEscape(s.pipeline),
		url.PathEscape(schemaTable),
	)
}
