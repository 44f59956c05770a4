package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/dusk-indust/papercast/internal/job"
)

// PDFExtractor reads the text layer of a local PDF.
type PDFExtractor struct {
	logger *zap.Logger
}

// NewPDFExtractor creates a PDFExtractor. logger may be nil.
func NewPDFExtractor(logger *zap.Logger) *PDFExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PDFExtractor{logger: logger}
}

// Extract returns the plain text of every page, separated by blank lines.
// A document with no extractable text is an error.
func (e *PDFExtractor) Extract(ctx context.Context, jobID, sourceRef string) (*job.Document, error) {
	if _, err := os.Stat(sourceRef); err != nil {
		return nil, fmt.Errorf("source file: %w", err)
	}

	f, r, err := pdf.Open(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	totalPages := r.NumPage()
	var b strings.Builder
	for pageIndex := 1; pageIndex <= totalPages; pageIndex++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(pageIndex)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", pageIndex, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(text))
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return nil, errors.New("pdf has no extractable text")
	}
	e.logger.Info("pdf text extracted",
		zap.String("job_id", jobID),
		zap.Int("pages", totalPages),
		zap.Int("chars", utf8.RuneCountInString(text)),
	)
	return &job.Document{Text: text, Pages: totalPages, Chars: utf8.RuneCountInString(text)}, nil
}

// OCRConfig configures the Mistral vision OCR extractor. Zero fields take
// the defaults: the public Mistral API, pixtral-12b-2409, 16000 max tokens
// and a 180s timeout.
type OCRConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

func (c OCRConfig) withDefaults() OCRConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.mistral.ai/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Model == "" {
		c.Model = "pixtral-12b-2409"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 16000
	}
	if c.Timeout <= 0 {
		c.Timeout = 180 * time.Second
	}
	return c
}

const ocrInstructions = `Convert this research paper to well-structured markdown.

Requirements:
- Keep the heading hierarchy using # ## ###
- Write equations as LaTeX inside $ or $$
- Use markdown table syntax for tables
- Render figure captions as blockquotes
- Keep the paper's reading order and include every page`

// OCRExtractor sends the whole PDF to a vision model and returns its
// markdown transcription.
type OCRExtractor struct {
	cfg OCRConfig
	c   httpClient
}

// NewOCRExtractor creates an OCRExtractor.
func NewOCRExtractor(cfg OCRConfig, opts ...Option) *OCRExtractor {
	cfg = cfg.withDefaults()
	return &OCRExtractor{cfg: cfg, c: newHTTPClient(cfg.Timeout, opts)}
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract reads sourceRef, uploads it as a base64 data URL and returns the
// model's markdown.
func (e *OCRExtractor) Extract(ctx context.Context, jobID, sourceRef string) (*job.Document, error) {
	if e.cfg.APIKey == "" {
		return nil, errors.New("mistral api key not configured")
	}
	data, err := os.ReadFile(sourceRef)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	req := chatRequest{
		Model: e.cfg.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []chatContent{
				{
					Type:     "image_url",
					ImageURL: &chatImageURL{URL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data)},
				},
				{Type: "text", Text: ocrInstructions},
			},
		}},
		MaxTokens: e.cfg.MaxTokens,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	start := time.Now()
	var resp chatResponse
	if err := e.c.doJSON(ctx, "mistral", http.MethodPost, e.cfg.BaseURL+"/chat/completions", header, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("mistral: response has no choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, errors.New("mistral: empty transcription")
	}
	e.c.logger.Info("ocr complete",
		zap.String("job_id", jobID),
		zap.Int("chars", utf8.RuneCountInString(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &job.Document{Text: text, Chars: utf8.RuneCountInString(text)}, nil
}
