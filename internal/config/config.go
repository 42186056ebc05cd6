package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Broker  BrokerConfig
	Agent   AgentConfig
	Channel ChannelConfig
	Audio   AudioConfig
	Turn    TurnConfig
	Log     LogConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	broker, err := loadBrokerConfig()
	if err != nil {
		return nil, err
	}

	channel, err := loadChannelConfig()
	if err != nil {
		return nil, err
	}

	audio, err := loadAudioConfig()
	if err != nil {
		return nil, err
	}

	turn, err := loadTurnConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Broker:  broker,
		Agent:   loadAgentConfig(),
		Channel: channel,
		Audio:   audio,
		Turn:    turn,
		Log:     logCfg,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// BrokerConfig 描述凭证代理与回合制接口所在的后端。
type BrokerConfig struct {
	BaseURL       string
	SignedURLPath string
	VoiceChatPath string
	APIKey        string
	Timeout       time.Duration
}

// Enabled 表示是否配置了后端地址。
func (c BrokerConfig) Enabled() bool {
	return c.BaseURL != ""
}

func loadBrokerConfig() (BrokerConfig, error) {
	timeout, err := parseDurationEnv("VOICE_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return BrokerConfig{}, err
	}

	return BrokerConfig{
		BaseURL:       strings.TrimRight(getEnvOrDefault("VOICE_API_BASE_URL", ""), "/"),
		SignedURLPath: getEnvOrDefault("VOICE_API_SIGNED_URL_PATH", "/signed-url"),
		VoiceChatPath: getEnvOrDefault("VOICE_API_VOICE_CHAT_PATH", "/voice-chat"),
		APIKey:        strings.TrimSpace(os.Getenv("VOICE_API_KEY")),
		Timeout:       timeout,
	}, nil
}

// AgentConfig 默认对话智能体。
type AgentConfig struct {
	ID   string
	Name string
}

func loadAgentConfig() AgentConfig {
	return AgentConfig{
		ID:   strings.TrimSpace(os.Getenv("VOICE_AGENT_ID")),
		Name: getEnvOrDefault("VOICE_AGENT_NAME", ""),
	}
}

// ChannelConfig 描述双工连接参数。
type ChannelConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxDialAttempts  int
	DialBackoff      time.Duration
}

func loadChannelConfig() (ChannelConfig, error) {
	handshake, err := parseDurationEnv("VOICE_WS_HANDSHAKE_TIMEOUT", 15*time.Second)
	if err != nil {
		return ChannelConfig{}, err
	}

	write, err := parseDurationEnv("VOICE_WS_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return ChannelConfig{}, err
	}

	backoff, err := parseDurationEnv("VOICE_WS_DIAL_BACKOFF", time.Second)
	if err != nil {
		return ChannelConfig{}, err
	}

	attempts := 3
	if override, err := parseOptionalIntEnv("VOICE_WS_MAX_DIAL_ATTEMPTS"); err != nil {
		return ChannelConfig{}, err
	} else if override != nil {
		attempts = *override
		if attempts < 1 {
			attempts = 1
		}
	}

	return ChannelConfig{
		HandshakeTimeout: handshake,
		WriteTimeout:     write,
		MaxDialAttempts:  attempts,
		DialBackoff:      backoff,
	}, nil
}

// AudioConfig 采集与本地输出参数。
type AudioConfig struct {
	SampleRate  int
	BlockMillis int
	// OutputRate 本地扬声器输出采样率
	OutputRate int
	// LocalDevices 为 false 时不打开声卡，播放只按时长计时
	LocalDevices bool
}

func loadAudioConfig() (AudioConfig, error) {
	cfg := AudioConfig{SampleRate: 16000, BlockMillis: 100, OutputRate: 24000, LocalDevices: true}

	local, err := parseBoolEnv("VOICE_AUDIO_LOCAL", true)
	if err != nil {
		return AudioConfig{}, err
	}
	cfg.LocalDevices = local

	output, err := parseOptionalIntEnv("VOICE_AUDIO_OUTPUT_RATE")
	if err != nil {
		return AudioConfig{}, err
	}
	if output != nil && *output > 0 {
		cfg.OutputRate = *output
	}

	rate, err := parseOptionalIntEnv("VOICE_AUDIO_SAMPLE_RATE")
	if err != nil {
		return AudioConfig{}, err
	}
	if rate != nil {
		if *rate <= 0 {
			return AudioConfig{}, fmt.Errorf("invalid VOICE_AUDIO_SAMPLE_RATE value %d", *rate)
		}
		cfg.SampleRate = *rate
	}

	block, err := parseOptionalIntEnv("VOICE_AUDIO_BLOCK_MS")
	if err != nil {
		return AudioConfig{}, err
	}
	if block != nil && *block > 0 {
		cfg.BlockMillis = *block
	}

	return cfg, nil
}

// TurnConfig 回合制模式参数。
type TurnConfig struct {
	MaxRecording  time.Duration
	MinWAVBytes   int
	RelistenDelay time.Duration
	ErrorBackoff  time.Duration
}

func loadTurnConfig() (TurnConfig, error) {
	maxRecording, err := parseDurationEnv("VOICE_TURN_MAX_RECORDING", 10*time.Second)
	if err != nil {
		return TurnConfig{}, err
	}

	relisten, err := parseDurationEnv("VOICE_TURN_RELISTEN_DELAY", 800*time.Millisecond)
	if err != nil {
		return TurnConfig{}, err
	}

	backoff, err := parseDurationEnv("VOICE_TURN_ERROR_BACKOFF", 1500*time.Millisecond)
	if err != nil {
		return TurnConfig{}, err
	}

	minBytes := 1000
	if override, err := parseOptionalIntEnv("VOICE_TURN_MIN_WAV_BYTES"); err != nil {
		return TurnConfig{}, err
	} else if override != nil {
		minBytes = *override
	}

	return TurnConfig{
		MaxRecording:  maxRecording,
		MinWAVBytes:   minBytes,
		RelistenDelay: relisten,
		ErrorBackoff:  backoff,
	}, nil
}

// LogConfig 日志输出配置。
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Pretty: pretty,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseDurationEnv 支持 "800ms" 形式，也兼容纯数字（按毫秒处理）。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
	}
	return d, nil
}
