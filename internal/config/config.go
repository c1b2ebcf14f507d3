package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Room      *RoomConfig      `json:"room"`
	Execution *ExecutionConfig `json:"execution"`
	Workspace *WorkspaceConfig `json:"workspace"`
	Redis     *RedisConfig     `json:"redis"`
	RateLimit *RateLimitConfig `json:"rate_limit"`
	Log       *LogConfig       `json:"log"`
}

// DatabaseConfig locates the sqlite chat history store.
type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// FUNCTIONAL DISCOVERY: BufferSize is the per-connection outbound queue.
// A full queue drops frames for that client only.
type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// RoomConfig controls room lifetime. An empty SeedFileName disables seeding.
type RoomConfig struct {
	GracePeriod      time.Duration `json:"grace_period"`
	SeedFileName     string        `json:"seed_file_name"`
	SeedFileLanguage string        `json:"seed_file_language"`
	SeedFileContent  string        `json:"seed_file_content"`
}

// ExecutionConfig points at a Judge0-compatible service.
type ExecutionConfig struct {
	BaseURL              string        `json:"base_url"`
	APIKey               string        `json:"-"`
	APIHost              string        `json:"api_host"`
	Deadline             time.Duration `json:"deadline"`
	PollInterval         time.Duration `json:"poll_interval"`
	RequestTimeout       time.Duration `json:"request_timeout"`
	MaxConcurrentPerUser int           `json:"max_concurrent_per_user"`
}

type WorkspaceConfig struct {
	Root  string `json:"root"`
	Watch bool   `json:"watch"`
}

// RedisConfig enables the shared rate limiter when URL is set.
type RedisConfig struct {
	URL string `json:"url"`
}

type RateLimitConfig struct {
	MessagesPerWindow int           `json:"messages_per_window"`
	Window            time.Duration `json:"window"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns settings suitable for a single-node deployment.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./codestream.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         3000,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     256,
			MaxMessageSize: 1 << 20,
		},
		Room: &RoomConfig{
			GracePeriod:      60 * time.Second,
			SeedFileLanguage: "python",
		},
		Execution: &ExecutionConfig{
			BaseURL:              "https://judge0-ce.p.rapidapi.com",
			APIHost:              "judge0-ce.p.rapidapi.com",
			Deadline:             15 * time.Second,
			PollInterval:         2 * time.Second,
			RequestTimeout:       10 * time.Second,
			MaxConcurrentPerUser: 3,
		},
		Workspace: &WorkspaceConfig{
			Root:  ".",
			Watch: true,
		},
		Redis: &RedisConfig{},
		RateLimit: &RateLimitConfig{
			MessagesPerWindow: 600,
			Window:            time.Minute,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
// Critical for preventing runtime failures in production deployment
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535 (0 picks a free port)")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Room == nil {
		return fmt.Errorf("room configuration is required")
	}
	if c.Room.GracePeriod < 0 {
		return fmt.Errorf("room grace period cannot be negative")
	}

	if c.Execution == nil {
		return fmt.Errorf("execution configuration is required")
	}
	if c.Execution.BaseURL == "" {
		return fmt.Errorf("execution base URL cannot be empty")
	}
	if c.Execution.Deadline <= 0 {
		return fmt.Errorf("execution deadline must be positive")
	}
	if c.Execution.PollInterval <= 0 || c.Execution.PollInterval >= c.Execution.Deadline {
		return fmt.Errorf("execution poll interval must be positive and shorter than the deadline")
	}
	if c.Execution.RequestTimeout <= 0 {
		return fmt.Errorf("execution request timeout must be positive")
	}
	if c.Execution.MaxConcurrentPerUser <= 0 {
		return fmt.Errorf("execution concurrency limit must be positive")
	}

	if c.Workspace == nil || c.Workspace.Root == "" {
		return fmt.Errorf("workspace root cannot be empty")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.MessagesPerWindow <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit budget and window must be positive")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json")
	}

	return nil
}

// FUNCTIONAL DISCOVERY: Environment variable configuration enables deployment flexibility
// Unparseable values are ignored and the default is kept.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envInt("CODESTREAM_HTTP_PORT", &config.HTTP.Port)
	envString("CODESTREAM_HTTP_HOST", &config.HTTP.Host)
	envDuration("CODESTREAM_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("CODESTREAM_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)

	envString("CODESTREAM_DATABASE_PATH", &config.Database.Path)
	envDuration("CODESTREAM_DATABASE_TIMEOUT", &config.Database.Timeout)

	envDuration("CODESTREAM_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("CODESTREAM_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("CODESTREAM_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("CODESTREAM_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if size := os.Getenv("CODESTREAM_WEBSOCKET_MAX_MESSAGE_SIZE"); size != "" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = n
		}
	}

	envDuration("CODESTREAM_ROOM_GRACE_PERIOD", &config.Room.GracePeriod)
	envString("CODESTREAM_ROOM_SEED_FILE_NAME", &config.Room.SeedFileName)
	envString("CODESTREAM_ROOM_SEED_FILE_LANGUAGE", &config.Room.SeedFileLanguage)
	envString("CODESTREAM_ROOM_SEED_FILE_CONTENT", &config.Room.SeedFileContent)

	envString("CODESTREAM_EXECUTION_BASE_URL", &config.Execution.BaseURL)
	// RAPIDAPI_KEY is read for compatibility with existing .env files.
	envString("RAPIDAPI_KEY", &config.Execution.APIKey)
	envString("CODESTREAM_EXECUTION_API_KEY", &config.Execution.APIKey)
	envString("CODESTREAM_EXECUTION_API_HOST", &config.Execution.APIHost)
	envDuration("CODESTREAM_EXECUTION_DEADLINE", &config.Execution.Deadline)
	envDuration("CODESTREAM_EXECUTION_POLL_INTERVAL", &config.Execution.PollInterval)
	envDuration("CODESTREAM_EXECUTION_REQUEST_TIMEOUT", &config.Execution.RequestTimeout)
	envInt("CODESTREAM_EXECUTION_MAX_CONCURRENT", &config.Execution.MaxConcurrentPerUser)

	envString("CODESTREAM_WORKSPACE_ROOT", &config.Workspace.Root)
	envBool("CODESTREAM_WORKSPACE_WATCH", &config.Workspace.Watch)

	envString("REDIS_URL", &config.Redis.URL)
	envString("CODESTREAM_REDIS_URL", &config.Redis.URL)

	envInt("CODESTREAM_RATE_LIMIT_MESSAGES", &config.RateLimit.MessagesPerWindow)
	envDuration("CODESTREAM_RATE_LIMIT_WINDOW", &config.RateLimit.Window)

	envString("CODESTREAM_LOG_LEVEL", &config.Log.Level)
	envString("CODESTREAM_LOG_FORMAT", &config.Log.Format)

	return config
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile represents the JSON structure for file-based configuration
// FUNCTIONAL DISCOVERY: Separate struct for JSON parsing to handle duration strings
type ConfigFile struct {
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	HTTP *struct {
		Port         int    `json:"port"`
		Host         string `json:"host"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		BufferSize     int    `json:"buffer_size"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Room *struct {
		GracePeriod      string `json:"grace_period"`
		SeedFileName     string `json:"seed_file_name"`
		SeedFileLanguage string `json:"seed_file_language"`
		SeedFileContent  string `json:"seed_file_content"`
	} `json:"room"`
	Execution *struct {
		BaseURL              string `json:"base_url"`
		APIHost              string `json:"api_host"`
		Deadline             string `json:"deadline"`
		PollInterval         string `json:"poll_interval"`
		RequestTimeout       string `json:"request_timeout"`
		MaxConcurrentPerUser int    `json:"max_concurrent_per_user"`
	} `json:"execution"`
	Workspace *struct {
		Root  string `json:"root"`
		Watch *bool  `json:"watch"`
	} `json:"workspace"`
	Redis *struct {
		URL string `json:"url"`
	} `json:"redis"`
	RateLimit *struct {
		MessagesPerWindow int    `json:"messages_per_window"`
		Window            string `json:"window"`
	} `json:"rate_limit"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// LoadFromFile overlays a JSON file onto base. Zero values in the file keep
// the base value. Secrets such as the judge API key are never read from files.
func LoadFromFile(filepath string, base *Config) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := base
	if config == nil {
		config = DefaultConfig()
	}

	var errs []string
	duration := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", field, err))
			return
		}
		*dst = d
	}
	str := func(value string, dst *string) {
		if value != "" {
			*dst = value
		}
	}
	num := func(value int, dst *int) {
		if value > 0 {
			*dst = value
		}
	}

	if f := file.Database; f != nil {
		str(f.Path, &config.Database.Path)
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}
	if f := file.HTTP; f != nil {
		num(f.Port, &config.HTTP.Port)
		str(f.Host, &config.HTTP.Host)
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
	}
	if f := file.WebSocket; f != nil {
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		num(f.BufferSize, &config.WebSocket.BufferSize)
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}
	if f := file.Room; f != nil {
		duration("room.grace_period", f.GracePeriod, &config.Room.GracePeriod)
		str(f.SeedFileName, &config.Room.SeedFileName)
		str(f.SeedFileLanguage, &config.Room.SeedFileLanguage)
		str(f.SeedFileContent, &config.Room.SeedFileContent)
	}
	if f := file.Execution; f != nil {
		str(f.BaseURL, &config.Execution.BaseURL)
		str(f.APIHost, &config.Execution.APIHost)
		duration("execution.deadline", f.Deadline, &config.Execution.Deadline)
		duration("execution.poll_interval", f.PollInterval, &config.Execution.PollInterval)
		duration("execution.request_timeout", f.RequestTimeout, &config.Execution.RequestTimeout)
		num(f.MaxConcurrentPerUser, &config.Execution.MaxConcurrentPerUser)
	}
	if f := file.Workspace; f != nil {
		str(f.Root, &config.Workspace.Root)
		if f.Watch != nil {
			config.Workspace.Watch = *f.Watch
		}
	}
	if f := file.Redis; f != nil {
		str(f.URL, &config.Redis.URL)
	}
	if f := file.RateLimit; f != nil {
		num(f.MessagesPerWindow, &config.RateLimit.MessagesPerWindow)
		duration("rate_limit.window", f.Window, &config.RateLimit.Window)
	}
	if f := file.Log; f != nil {
		str(f.Level, &config.Log.Level)
		str(f.Format, &config.Log.Format)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid durations in %s: %s", filepath, strings.Join(errs, "; "))
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves file > environment > defaults.
// A file that cannot be loaded is reported and the environment config is used.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	config := LoadFromEnv()
	if filepath == "" {
		return config, nil
	}

	fileConfig, err := LoadFromFile(filepath, LoadFromEnv())
	if err != nil {
		return config, err
	}
	return fileConfig, nil
}
