// Package google implements translate.Translator against the Google
// Translation v2 REST API with API-key auth.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"babelbot/internal/translate"
	logx "babelbot/pkg/logx"
)

const defaultEndpoint = "https://translation.googleapis.com/language/translate/v2"

type Config struct {
	APIKey       string
	Endpoint     string        // override for tests, default Google
	Timeout      time.Duration // per request, 0 = 10s
	LanguagesTTL time.Duration // supported-languages cache, 0 = 1h
}

type Client struct {
	apiKey   string
	endpoint string
	client   *http.Client
	log      logx.Logger

	ttl    time.Duration
	mu     sync.Mutex
	langs  []translate.Language
	cached time.Time
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("translate api key is required")
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.LanguagesTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
		ttl:      ttl,
	}, nil
}

// Translate returns text rendered in the target language. format=text keeps
// Google from HTML-escaping the result.
func (c *Client) Translate(ctx context.Context, text, target string) (string, error) {
	reqBody, err := json.Marshal(map[string]any{
		"q":      text,
		"target": target,
		"format": "text",
	})
	if err != nil {
		return "", fmt.Errorf("marshalling translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint+"?key="+url.QueryEscape(c.apiKey), bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("creating translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("translate failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding translate response: %w", err)
	}
	if len(result.Data.Translations) == 0 {
		return "", errors.New("no translations returned")
	}
	return result.Data.Translations[0].TranslatedText, nil
}

// SupportedLanguages lists the target languages Google accepts. Results are
// cached; a fetch failure serves the stale list when one exists.
func (c *Client) SupportedLanguages(ctx context.Context) ([]translate.Language, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.langs != nil && time.Since(c.cached) < c.ttl {
		return c.langs, nil
	}

	langs, err := c.fetchLanguages(ctx)
	if err != nil {
		if c.langs != nil {
			c.log.Warn("serving stale language list", logx.Err(err))
			return c.langs, nil
		}
		return nil, err
	}
	c.langs, c.cached = langs, time.Now()
	return langs, nil
}

func (c *Client) fetchLanguages(ctx context.Context) ([]translate.Language, error) {
	u := c.endpoint + "/languages?key=" + url.QueryEscape(c.apiKey) + "&target=en"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating languages request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("languages request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("languages failed (status %d): %s", resp.StatusCode, respBody)
	}

	var result struct {
		Data struct {
			Languages []translate.Language `json:"languages"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding languages response: %w", err)
	}
	return result.Data.Languages, nil
}

// Supports reports whether code is a valid target language.
func (c *Client) Supports(ctx context.Context, code string) (bool, error) {
	langs, err := c.SupportedLanguages(ctx)
	if err != nil {
		return false, err
	}
	code = strings.ToLower(strings.TrimSpace(code))
	for _, l := range langs {
		if strings.EqualFold(l.Code, code) {
			return true, nil
		}
	}
	return false, nil
}
