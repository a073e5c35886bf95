package converter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

var tracer = otel.Tracer("ragchat.converter")

// DoclingConfig addresses a docling-serve instance.
type DoclingConfig struct {
	BaseURL string
	Timeout time.Duration

	// OCR enables OCR for scanned PDFs.
	OCR bool
}

// Docling converts PDF and DOCX documents through docling-serve's
// /v1/convert/file endpoint.
type Docling struct {
	config DoclingConfig
	client *http.Client
}

// NewDocling creates a docling-serve client.
func NewDocling(cfg DoclingConfig) (*Docling, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: docling base URL required", rag.ErrValidation)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Docling{config: cfg, client: &http.Client{Timeout: timeout}}, nil
}

type doclingResponse struct {
	Document struct {
		MDContent string `json:"md_content"`
	} `json:"document"`
	Status string `json:"status"`
	Errors []any  `json:"errors"`
}

// Convert implements Converter.
func (d *Docling) Convert(ctx context.Context, path string) (ok bool, md string, err error) {
	ctx, span := tracer.Start(ctx, "Docling.Convert")
	defer span.End()
	span.SetAttributes(attribute.String("file", filepath.Base(path)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, "", fmt.Errorf("%w: %s", rag.ErrNotFound, path)
		}
		return false, "", fmt.Errorf("%w: reading %s: %v", rag.ErrIO, path, err)
	}

	body, contentType, err := d.buildForm(filepath.Base(path), data)
	if err != nil {
		return false, "", fmt.Errorf("%w: building request: %v", ErrConversionFailed, err)
	}

	url := strings.TrimRight(d.config.BaseURL, "/") + "/v1/convert/file"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return false, "", fmt.Errorf("%w: creating request: %v", ErrConversionFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("%w: %v", ErrConversionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, "", fmt.Errorf("%w: status %d: %s", ErrConversionFailed, resp.StatusCode, string(msg))
	}

	var out doclingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", fmt.Errorf("%w: decoding response: %v", ErrConversionFailed, err)
	}
	if out.Status != "" && out.Status != "success" && out.Status != "partial_success" {
		return false, "", fmt.Errorf("%w: docling status %q", ErrConversionFailed, out.Status)
	}

	span.SetStatus(codes.Ok, "success")
	return true, out.Document.MDContent, nil
}

func (d *Docling) buildForm(name string, data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("files", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"to_formats":         "md",
		"image_export_mode":  "placeholder",
		"do_ocr":             fmt.Sprintf("%t", d.config.OCR),
		"do_table_structure": "false",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
