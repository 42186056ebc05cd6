package voice

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

	model "github.com/zhouzirui/z-tavern/voiceagent/internal/model/voice"
)

const maxReplyAudioBytes = 16 << 20

// TurnEndpoint 回合制模式的请求/响应接口
type TurnEndpoint interface {
	VoiceChat(ctx context.Context, req model.VoiceChatRequest) (*model.VoiceChatResponse, error)
}

// AudioFetcher 按地址获取回复音频
type AudioFetcher interface {
	FetchAudio(ctx context.Context, ref string) ([]byte, error)
}

// TurnClient 通过 HTTP 调用 voice-chat 接口
type TurnClient struct {
	BaseURL string
	Path    string
	APIKey  string
	HTTP    *http.Client
}

// NewTurnClient 创建回合制接口客户端
func NewTurnClient(baseURL, path, apiKey string, timeout time.Duration) *TurnClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TurnClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Path:    path,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *TurnClient) client() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *TurnClient) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

// VoiceChat 发送一轮录音并等待回复，失败统一归为 ErrTurnEndpoint。
func (c *TurnClient) VoiceChat(ctx context.Context, payload model.VoiceChatRequest) (*model.VoiceChatResponse, error) {
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: endpoint url is not configured", ErrTurnEndpoint)
	}
	if payload.ConversationHistory == nil {
		payload.ConversationHistory = []model.HistoryMessage{}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrTurnEndpoint, err)
	}

	path := c.Path
	if path == "" {
		path = "/voice-chat"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrTurnEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	res, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTurnEndpoint, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%w: endpoint returned %d: %s", ErrTurnEndpoint, res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var reply model.VoiceChatResponse
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrTurnEndpoint, err)
	}
	return &reply, nil
}

// FetchAudio 支持 data: URI、绝对地址以及相对 BaseURL 的路径。
func (c *TurnClient) FetchAudio(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty audio url", ErrPlayback)
	}

	if strings.HasPrefix(ref, "data:") {
		data, err := DecodeDataURL(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPlayback, err)
		}
		return data, nil
	}

	target := ref
	if strings.HasPrefix(ref, "/") {
		target = c.BaseURL + ref
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build audio request: %v", ErrPlayback, err)
	}
	if c.sameOrigin(req.URL) {
		c.authorize(req)
	}

	res, err := c.client().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch audio: %v", ErrPlayback, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: audio url returned %d", ErrPlayback, res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxReplyAudioBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrPlayback, err)
	}
	if len(data) > maxReplyAudioBytes {
		return nil, fmt.Errorf("%w: reply audio exceeds %d bytes", ErrPlayback, maxReplyAudioBytes)
	}
	return data, nil
}

// sameOrigin 凭证只发给接口所在主机，第三方音频地址不带 Authorization
func (c *TurnClient) sameOrigin(target *url.URL) bool {
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" {
		return false
	}
	return strings.EqualFold(target.Scheme, base.Scheme) && strings.EqualFold(target.Host, base.Host)
}
