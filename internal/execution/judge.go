package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Judge is a remote sandboxed code runner.
type Judge interface {
	// Submit queues source for execution and returns an opaque token.
	Submit(ctx context.Context, languageID int, source string) (string, error)
	// Poll fetches the current state of a submission.
	Poll(ctx context.Context, token string) (*Submission, error)
}

// Submission is a Judge0 submission state. Output fields are empty while the
// submission is queued or running.
type Submission struct {
	Stdout        string           `json:"stdout"`
	Stderr        string           `json:"stderr"`
	CompileOutput string           `json:"compile_output"`
	Status        SubmissionStatus `json:"status"`
}

type SubmissionStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// JudgeConfig configures a Judge0Client.
type JudgeConfig struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
}

// Judge0Client talks to the Judge0 REST API, directly or through RapidAPI.
type Judge0Client struct {
	baseURL string
	apiKey  string
	apiHost string
	http    *http.Client
}

func NewJudge0Client(cfg JudgeConfig) *Judge0Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Judge0Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		apiHost: cfg.APIHost,
		http:    &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
}

type submitResponse struct {
	Token string `json:"token"`
}

func (c *Judge0Client) Submit(ctx context.Context, languageID int, source string) (string, error) {
	body, err := json.Marshal(submitRequest{LanguageID: languageID, SourceCode: source})
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	endpoint := c.baseURL + "/submissions?base64_encoded=false&wait=false"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp submitResponse
	if err := c.do(req, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("%w: submission returned no token", ErrExternalService)
	}
	return resp.Token, nil
}

func (c *Judge0Client) Poll(ctx context.Context, token string) (*Submission, error) {
	endpoint := fmt.Sprintf("%s/submissions/%s?base64_encoded=false&fields=*", c.baseURL, url.PathEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build poll request: %w", err)
	}

	var sub Submission
	if err := c.do(req, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Judge0Client) do(req *http.Request, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-RapidAPI-Key", c.apiKey)
		if c.apiHost != "" {
			req.Header.Set("X-RapidAPI-Host", c.apiHost)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned %d: %s", ErrExternalService, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrExternalService, err)
	}
	return nil
}
