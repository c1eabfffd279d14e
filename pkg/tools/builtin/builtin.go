// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package builtin holds the native tools shipped with the bridge, built on
// functool. Register adds them all to a registry; agents opt in by listing
// tool names in their configuration.
package builtin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/aguibridge/pkg/agent"
	"github.com/kadirpekel/aguibridge/pkg/tools"
	"github.com/kadirpekel/aguibridge/pkg/tools/functool"
)

const (
	fetchTimeout      = 30 * time.Second
	fetchMaxBodyBytes = 512 * 1024
	fetchMaxRedirects = 5
	fetchUserAgent    = "aguibridge/1.0"
)

// Register adds every built-in tool to the registry.
func Register(r *tools.Registry) error {
	all, err := All()
	if err != nil {
		return err
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// All builds the built-in tool set.
func All() ([]agent.Tool, error) {
	fetch, err := newFetchURL()
	if err != nil {
		return nil, err
	}
	now, err := newCurrentTime()
	if err != nil {
		return nil, err
	}
	return []agent.Tool{fetch, now}, nil
}

// FetchArgs are the parameters for the fetch_url tool.
type FetchArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The URL to fetch (http or https)"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method,enum=GET,enum=POST,default=GET"`
	Body    string            `json:"body,omitempty" jsonschema:"description=Request body (POST only)"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=HTTP headers as key-value pairs"`
}

func newFetchURL() (agent.Tool, error) {
	client := &http.Client{
		Timeout: fetchTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= fetchMaxRedirects {
				return fmt.Errorf("stopped after %d redirects", fetchMaxRedirects)
			}
			return nil
		},
	}

	return functool.NewWithValidation(
		functool.Config{
			Name:        "fetch_url",
			Description: "Fetch a URL over HTTP and return the response body. Use for reading public web pages and APIs.",
		},
		func(ctx context.Context, args FetchArgs) (any, error) {
			return fetchURL(ctx, client, args)
		},
		validateFetchArgs,
	)
}

func validateFetchArgs(args FetchArgs) error {
	parsed, err := url.Parse(args.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q (http and https only)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url has no host")
	}
	switch strings.ToUpper(args.Method) {
	case "", http.MethodGet, http.MethodPost:
		return nil
	default:
		return fmt.Errorf("unsupported method %q (GET and POST only)", args.Method)
	}
}

func fetchURL(ctx context.Context, client *http.Client, args FetchArgs) (any, error) {
	method := strings.ToUpper(args.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if args.Body != "" {
		body = strings.NewReader(args.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, args.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	for k, v := range args.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Read one byte past the limit to tell "exactly at the limit" from
	// "truncated".
	data, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	truncated := false
	if len(data) > fetchMaxBodyBytes {
		data = data[:fetchMaxBodyBytes]
		truncated = true
	}

	return map[string]any{
		"status_code":  resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(data),
		"truncated":    truncated,
	}, nil
}

// TimeArgs are the parameters for the current_time tool.
type TimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Europe/Istanbul. Defaults to UTC."`
}

func newCurrentTime() (agent.Tool, error) {
	return functool.New(
		functool.Config{
			Name:        "current_time",
			Description: "Get the current date and time, optionally in a specific timezone.",
		},
		func(_ context.Context, args TimeArgs) (any, error) {
			loc := time.UTC
			if args.Timezone != "" {
				l, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", args.Timezone)
				}
				loc = l
			}
			now := time.Now().In(loc)
			return map[string]any{
				"iso8601":  now.Format(time.RFC3339),
				"timezone": loc.String(),
				"weekday":  now.Weekday().String(),
			}, nil
		},
	)
}
