package vectorstore

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Provider names.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// Config selects and configures a Gateway.
type Config struct {
	// Provider is "qdrant" or "chromem". Defaults to chromem.
	Provider string

	Collection string

	// VectorSize is the dense dimension, normally the embedder's.
	VectorSize int

	// PrefetchLimit is the per-modality candidate count before fusion.
	PrefetchLimit int

	// SparseIDF weights sparse matches by inverse document frequency at
	// query time. Set it for raw term-frequency vectors such as BM25; learned
	// sparse models already carry term importance.
	SparseIDF bool

	Qdrant  QdrantConfig
	Chromem ChromemConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = ProviderChromem
	}
	c.Provider = strings.ToLower(c.Provider)
	if c.Collection == "" {
		c.Collection = "documents"
	}
	if c.PrefetchLimit == 0 {
		c.PrefetchLimit = DefaultPrefetchLimit
	}
	if c.Provider == ProviderQdrant {
		c.Qdrant.ApplyDefaults()
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if err := ValidateCollectionName(c.Collection); err != nil {
		return err
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive, got %d", ErrInvalidConfig, c.VectorSize)
	}
	if c.PrefetchLimit <= 0 {
		return fmt.Errorf("%w: prefetch limit must be positive, got %d", ErrInvalidConfig, c.PrefetchLimit)
	}
	switch c.Provider {
	case ProviderQdrant:
		return c.Qdrant.Validate()
	case ProviderChromem:
		return nil
	default:
		return fmt.Errorf("%w: unsupported provider %q (supported: qdrant, chromem)", ErrInvalidConfig, c.Provider)
	}
}

// NewGateway builds the Gateway named by cfg.Provider.
func NewGateway(cfg Config, logger *zap.Logger) (Gateway, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case ProviderQdrant:
		g, err := NewQdrantGateway(cfg, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		g, err := NewChromemGateway(cfg, logger)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
}
