package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

// CredentialBroker 以智能体 ID 换取短期连接地址
type CredentialBroker interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// BrokerClient 通过 HTTP 访问凭证代理，不做重试，重试策略由调用方决定。
type BrokerClient struct {
	BaseURL string
	Path    string
	APIKey  string
	HTTP    *http.Client
}

// NewBrokerClient 创建凭证代理客户端
func NewBrokerClient(baseURL, path, apiKey string, timeout time.Duration) *BrokerClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BrokerClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Path:    path,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// SignedURL 请求 GET {base}/signed-url?agent_id=...，任何失败都归为 ErrCredential。
func (c *BrokerClient) SignedURL(ctx context.Context, agentID string) (string, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return "", fmt.Errorf("%w: agent id is not configured", ErrCredential)
	}
	if c.BaseURL == "" {
		return "", fmt.Errorf("%w: credential broker url is not configured", ErrCredential)
	}

	path := c.Path
	if path == "" {
		path = "/signed-url"
	}

	endpoint := c.BaseURL + path + "?agent_id=" + url.QueryEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrCredential, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: broker unreachable: %v", ErrCredential, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("%w: broker returned %d: %s", ErrCredential, res.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload model.SignedURLResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode broker response: %v", ErrCredential, err)
	}

	signed := strings.TrimSpace(payload.SignedURL)
	if signed == "" {
		return "", fmt.Errorf("%w: broker response missing signed_url", ErrCredential)
	}
	return signed, nil
}
