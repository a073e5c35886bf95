// Package config loads ragchat configuration from defaults, an optional YAML
// file, a .env file and RAGCHAT_ environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragchat/internal/chunker"
	"github.com/fyrsmithlabs/ragchat/internal/embeddings"
	"github.com/fyrsmithlabs/ragchat/internal/scrub"
)

// ErrInvalidConfig is returned when a section fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the root configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Chunking    chunker.Config    `koanf:"chunking"`
	Embedding   embeddings.Config `koanf:"embedding"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Qdrant      QdrantConfig      `koanf:"qdrant"`
	Chromem     ChromemConfig     `koanf:"chromem"`
	Converter   ConverterConfig   `koanf:"converter"`
	Generation  GenerationConfig  `koanf:"generation"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Indexing    IndexingConfig    `koanf:"indexing"`
	History     HistoryConfig     `koanf:"history"`
	Events      EventsConfig      `koanf:"events"`
	Watch       WatchConfig       `koanf:"watch"`
	Scrub       scrub.Config      `koanf:"scrub"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host             string   `koanf:"host"`
	Port             int      `koanf:"port"`
	MaxUploadSize    string   `koanf:"max_upload_size"`
	UploadExtensions []string `koanf:"upload_extensions"`
	ShutdownTimeout  Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds the logging knobs exposed to users. The command layer
// maps it onto logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig holds the OpenTelemetry knobs exposed to users.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" or "qdrant".
	Provider      string `koanf:"provider"`
	Collection    string `koanf:"collection"`
	PrefetchLimit int    `koanf:"prefetch_limit"`
}

// QdrantConfig addresses a Qdrant server.
type QdrantConfig struct {
	// URL is the gRPC endpoint, e.g. http://localhost:6334. An https scheme
	// enables TLS.
	URL            string `koanf:"url"`
	APIKey         Secret `koanf:"api_key"`
	MaxMessageSize int    `koanf:"max_message_size"`
}

// ChromemConfig configures the embedded store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps data in memory.
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// ConverterConfig configures document conversion.
type ConverterConfig struct {
	// DoclingURL enables PDF and DOCX conversion through docling-serve.
	DoclingURL  string   `koanf:"docling_url"`
	Timeout     Duration `koanf:"timeout"`
	OCR         bool     `koanf:"ocr"`
	Concurrency int      `koanf:"concurrency"`
}

// GenerationConfig configures the chat model.
type GenerationConfig struct {
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
	RateLimit   float64 `koanf:"rate_limit"`
	Burst       int     `koanf:"burst"`
}

// RetrievalConfig configures the query pipeline.
type RetrievalConfig struct {
	TopK         int `koanf:"top_k"`
	CacheSize    int `koanf:"cache_size"`
	HistoryTurns int `koanf:"history_turns"`
}

// IndexingConfig configures the indexing pipeline.
type IndexingConfig struct {
	RawPath     string   `koanf:"raw_path"`
	ConvertPath string   `koanf:"convert_path"`
	StatePath   string   `koanf:"state_path"`
	Extensions  []string `koanf:"extensions"`
}

// HistoryConfig configures per-user chat history.
type HistoryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Path     string `koanf:"path"`
	MaxTurns int    `koanf:"max_turns"`
}

// EventsConfig configures NATS run events.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
}

// WatchConfig configures the raw folder watcher.
type WatchConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Debounce Duration `koanf:"debounce"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8000,
			MaxUploadSize:   "32M",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "ragchat",
			Insecure:    true,
			SampleRate:  1.0,
		},
		VectorStore: VectorStoreConfig{
			Provider:      "chromem",
			Collection:    "documents",
			PrefetchLimit: 20,
		},
		Qdrant: QdrantConfig{
			URL: "http://localhost:6334",
		},
		Chromem: ChromemConfig{
			Path: "data/vectors",
		},
		Converter: ConverterConfig{
			Timeout:     Duration(2 * time.Minute),
			Concurrency: 4,
		},
		Retrieval: RetrievalConfig{
			TopK:         5,
			CacheSize:    256,
			HistoryTurns: 5,
		},
		Indexing: IndexingConfig{
			RawPath:     "data/raw",
			ConvertPath: "data/converted",
			StatePath:   "data/state/fingerprint.json",
		},
		History: HistoryConfig{
			Enabled:  true,
			Path:     "data/history.db",
			MaxTurns: 20,
		},
		Events: EventsConfig{
			URL: "nats://127.0.0.1:4222",
		},
		Watch: WatchConfig{
			Debounce: Duration(2 * time.Second),
		},
		Scrub: scrub.Config{
			Enabled: true,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills fields left zero by the loaded sources. Slices are
// filled here rather than in Default so that loaded lists replace them.
func (c *Config) ApplyDefaults() {
	if len(c.Server.UploadExtensions) == 0 {
		c.Server.UploadExtensions = []string{".pdf", ".docx", ".csv"}
	}
	if len(c.Indexing.Extensions) == 0 {
		c.Indexing.Extensions = []string{".pdf", ".docx", ".csv", ".md"}
	}
	c.Chunking.ApplyDefaults()
	c.Embedding.ApplyDefaults()
	c.VectorStore.Provider = strings.ToLower(c.VectorStore.Provider)
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	if c.Generation.Model == "" {
		c.Generation.Model = "gpt-4o-mini"
	}
	if c.Generation.MaxTokens == 0 {
		c.Generation.MaxTokens = 1024
	}
	if c.Generation.RateLimit == 0 {
		c.Generation.RateLimit = 5
	}
	if c.Generation.Burst == 0 {
		c.Generation.Burst = 10
	}
}

// Validate checks every section and reports the first failure.
func (c *Config) Validate() error {
	checks := []struct {
		section string
		check   func() error
	}{
		{"server", c.Server.Validate},
		{"logging", c.Logging.Validate},
		{"telemetry", c.Telemetry.Validate},
		{"chunking", c.Chunking.Validate},
		{"embedding", c.Embedding.Validate},
		{"vectorstore", c.VectorStore.Validate},
		{"qdrant", c.qdrantCheck},
		{"converter", c.Converter.Validate},
		{"generation", c.Generation.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"indexing", c.Indexing.Validate},
		{"history", c.History.Validate},
		{"events", c.Events.Validate},
		{"watch", c.Watch.Validate},
	}
	for _, ch := range checks {
		if err := ch.check(); err != nil {
			if errors.Is(err, ErrInvalidConfig) {
				return fmt.Errorf("%s: %w", ch.section, err)
			}
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, ch.section, err)
		}
	}
	return nil
}

func (c *Config) qdrantCheck() error {
	if c.VectorStore.Provider != "qdrant" {
		return nil
	}
	return c.Qdrant.Validate()
}

// Validate validates the server section.
func (s ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port must be in [1, 65535], got %d", ErrInvalidConfig, s.Port)
	}
	for _, ext := range s.UploadExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("%w: upload extension %q must start with a dot", ErrInvalidConfig, ext)
		}
	}
	return nil
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Validate validates the logging section.
func (l LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, l.Format)
	}
	return nil
}

// Validate validates the telemetry section.
func (t TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Endpoint == "" {
		return fmt.Errorf("%w: endpoint required when telemetry is enabled", ErrInvalidConfig)
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("%w: sample_rate must be in [0, 1], got %v", ErrInvalidConfig, t.SampleRate)
	}
	return nil
}

// Validate validates the vector store section.
func (v VectorStoreConfig) Validate() error {
	switch v.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unsupported provider %q (supported: qdrant, chromem)", ErrInvalidConfig, v.Provider)
	}
	if v.Collection == "" {
		return fmt.Errorf("%w: collection required", ErrInvalidConfig)
	}
	if v.PrefetchLimit <= 0 {
		return fmt.Errorf("%w: prefetch_limit must be positive", ErrInvalidConfig)
	}
	return nil
}

// Validate validates the qdrant section.
func (q QdrantConfig) Validate() error {
	_, _, _, err := q.Endpoint()
	return err
}

// Endpoint splits URL into the host, gRPC port and TLS flag.
func (q QdrantConfig) Endpoint() (host string, port int, useTLS bool, err error) {
	u, err := url.Parse(q.URL)
	if err != nil || u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("%w: invalid qdrant url %q", ErrInvalidConfig, q.URL)
	}
	switch u.Scheme {
	case "http", "grpc":
	case "https", "grpcs":
		useTLS = true
	default:
		return "", 0, false, fmt.Errorf("%w: unsupported qdrant url scheme %q", ErrInvalidConfig, u.Scheme)
	}
	port = 6334
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return "", 0, false, fmt.Errorf("%w: invalid qdrant port %q", ErrInvalidConfig, p)
		}
	}
	return u.Hostname(), port, useTLS, nil
}

// Validate validates the converter section.
func (c ConverterConfig) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be >= 1, got %d", ErrInvalidConfig, c.Concurrency)
	}
	if c.DoclingURL != "" {
		if _, err := url.ParseRequestURI(c.DoclingURL); err != nil {
			return fmt.Errorf("%w: invalid docling_url: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Validate validates the generation section.
func (g GenerationConfig) Validate() error {
	if g.Temperature < 0 || g.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0, 2], got %v", ErrInvalidConfig, g.Temperature)
	}
	if g.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidConfig)
	}
	if g.RateLimit <= 0 || g.Burst <= 0 {
		return fmt.Errorf("%w: rate_limit and burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// Validate validates the retrieval section.
func (r RetrievalConfig) Validate() error {
	if r.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, r.TopK)
	}
	if r.HistoryTurns < 0 {
		return fmt.Errorf("%w: history_turns must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Validate validates the indexing section.
func (i IndexingConfig) Validate() error {
	if i.RawPath == "" || i.ConvertPath == "" || i.StatePath == "" {
		return fmt.Errorf("%w: raw_path, convert_path and state_path are required", ErrInvalidConfig)
	}
	if filepath.Clean(i.RawPath) == filepath.Clean(i.ConvertPath) {
		return fmt.Errorf("%w: raw_path and convert_path must differ", ErrInvalidConfig)
	}
	return nil
}

// Validate validates the history section.
func (h HistoryConfig) Validate() error {
	if h.Enabled && h.Path == "" {
		return fmt.Errorf("%w: path required when history is enabled", ErrInvalidConfig)
	}
	if h.MaxTurns < 0 {
		return fmt.Errorf("%w: max_turns must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Validate validates the events section.
func (e EventsConfig) Validate() error {
	if e.Enabled && e.URL == "" {
		return fmt.Errorf("%w: url required when events are enabled", ErrInvalidConfig)
	}
	return nil
}

// Validate validates the watch section.
func (w WatchConfig) Validate() error {
	if w.Enabled && w.Debounce <= 0 {
		return fmt.Errorf("%w: debounce must be positive", ErrInvalidConfig)
	}
	return nil
}
