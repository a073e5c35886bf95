// Package scrub redacts secrets from chunk content before it is embedded and
// stored.
package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// Config controls secret scrubbing.
type Config struct {
	Enabled bool `koanf:"enabled"`

	// AllowlistPath points at an optional TOML allowlist.
	AllowlistPath string `koanf:"allowlist_path"`
}

// Redactor replaces detected secrets with [REDACTED:<rule-id>] markers.
type Redactor struct {
	mu       sync.Mutex
	detector *detect.Detector
	logger   *zap.Logger
}

// New builds a Redactor over the default gitleaks ruleset.
func New(cfg Config, logger *zap.Logger) (*Redactor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	allowlist, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}
	if allowlist != nil {
		applyAllowlist(&detector.Config, allowlist)
	}

	return &Redactor{detector: detector, logger: logger}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	entry := &gitleaksConfig.Allowlist{Description: "ragchat allowlist"}
	for _, pattern := range allowlist.Regexes {
		// Patterns were compiled once already in LoadAllowlist.
		re := regexp.MustCompile(pattern)
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	entry.StopWords = append(entry.StopWords, allowlist.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, entry)
}

// Redact returns content with every detected secret replaced, and the number
// of secrets found.
func (r *Redactor) Redact(content string) (string, int) {
	if strings.TrimSpace(content) == "" {
		return content, 0
	}

	r.mu.Lock()
	findings := r.detector.DetectString(content)
	r.mu.Unlock()

	if len(findings) == 0 {
		return content, 0
	}

	// Longest secrets first so a secret containing another is replaced whole.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})

	redacted := content
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		redacted = strings.ReplaceAll(redacted, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return redacted, len(findings)
}

// RedactChunks scrubs the content of every chunk. The returned slice has the
// same length and order as chunks.
func (r *Redactor) RedactChunks(chunks []rag.Chunk) ([]rag.Chunk, int) {
	out := make([]rag.Chunk, len(chunks))
	total := 0
	for i, ch := range chunks {
		content, n := r.Redact(ch.Content)
		total += n
		out[i] = rag.Chunk{Content: content, Metadata: ch.Metadata}
	}
	if total > 0 {
		r.logger.Info("redacted secrets from chunks", zap.Int("secrets", total), zap.Int("chunks", len(chunks)))
	}
	return out, total
}
