// Package stego is the client for the external text steganography service.
package stego

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/stegline/core/internal/errors"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/pkg/logger"
	"github.com/stegline/core/pkg/metrics"
)

const (
	// DefaultTimeout bounds a single encode or decode call.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 8 << 20

	defaultEncodeReason = "Encoding failed"
	defaultDecodeReason = "Decryption failed"
)

// Codec encodes and decodes text artifacts.
type Codec interface {
	Encode(ctx context.Context, cover []byte, secretText, secretKey string, alg model.Algorithm) (string, error)
	Decode(ctx context.Context, stegoText, secretKey string) (string, error)
}

// Config holds client configuration.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	AllowInsecure bool
	HTTPClient    *http.Client
}

// Client calls the stego service over multipart HTTP.
type Client struct {
	baseURL *url.URL
	timeout time.Duration
	http    *http.Client
	tracer  trace.Tracer
	logger  *logger.Logger
}

var _ Codec = (*Client)(nil)

// New creates a client. Plain http is rejected unless the base URL is a
// loopback address or AllowInsecure is set, since secret keys travel in the
// request body.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid stego base url %q", apperrors.ErrValidation, cfg.BaseURL)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !cfg.AllowInsecure && !isLoopback(u.Hostname()) {
			return nil, fmt.Errorf("%w: stego base url must use https", apperrors.ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", apperrors.ErrValidation, u.Scheme)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}

	return &Client{
		baseURL: u,
		timeout: timeout,
		http:    hc,
		tracer:  otel.Tracer("stegline/stego"),
		logger:  log.Named("stego"),
	}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// EncodePath returns the endpoint path for an algorithm.
func EncodePath(alg model.Algorithm) string {
	return fmt.Sprintf("/stego/text/%s/encode", alg)
}

// DecodePath is the fixed decode endpoint.
const DecodePath = "/stego/text/character-level/decode"

// Encode hides secretText in cover using alg.
func (c *Client) Encode(ctx context.Context, cover []byte, secretText, secretKey string, alg model.Algorithm) (string, error) {
	if !alg.Valid() {
		return "", fmt.Errorf("%w: algorithm %q", apperrors.ErrUnsupported, alg)
	}

	ctx, span := c.tracer.Start(ctx, "stego.Encode", trace.WithAttributes(
		attribute.String("stego.algorithm", string(alg)),
		attribute.Int("stego.cover_bytes", len(cover)),
	))
	defer span.End()

	body, contentType, err := buildForm(
		filePart{field: "cover_file", name: "cover.txt", data: cover},
		fieldPart{name: "secret_text", value: secretText},
		fieldPart{name: "secret_key", value: secretKey},
	)
	if err != nil {
		return "", err
	}

	start := time.Now()
	status, respBody, header, err := c.post(ctx, EncodePath(alg), body, contentType)
	if err != nil {
		c.finish(span, "encode", string(alg), start, err)
		return "", err
	}

	if status >= 400 {
		err = statusError(status, respBody, apperrors.ErrEncodeFailed, defaultEncodeReason)
		c.finish(span, "encode", string(alg), start, err)
		return "", err
	}

	text := string(respBody)
	if isJSON(header) {
		var out struct {
			StegoText *string `json:"stego_text"`
		}
		if err := json.Unmarshal(respBody, &out); err == nil && out.StegoText != nil {
			text = *out.StegoText
		}
	}

	c.finish(span, "encode", string(alg), start, nil)
	return text, nil
}

// Decode recovers the secret text from stegoText.
func (c *Client) Decode(ctx context.Context, stegoText, secretKey string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "stego.Decode", trace.WithAttributes(
		attribute.Int("stego.artifact_bytes", len(stegoText)),
	))
	defer span.End()

	body, contentType, err := buildForm(
		filePart{field: "stego_file", name: "stego.txt", data: []byte(stegoText)},
		fieldPart{name: "secret_key", value: secretKey},
	)
	if err != nil {
		return "", err
	}

	start := time.Now()
	alg := string(model.AlgorithmCharacter)
	status, respBody, _, err := c.post(ctx, DecodePath, body, contentType)
	if err != nil {
		c.finish(span, "decode", alg, start, err)
		return "", err
	}

	if status >= 400 {
		err = statusError(status, respBody, apperrors.ErrDecodeFailed, defaultDecodeReason)
		c.finish(span, "decode", alg, start, err)
		return "", err
	}

	var out struct {
		SecretText *string `json:"secret_text"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil || out.SecretText == nil {
		err = apperrors.Reason(apperrors.ErrDecodeFailed, defaultDecodeReason)
		c.finish(span, "decode", alg, start, err)
		return "", err
	}

	c.finish(span, "decode", alg, start, nil)
	return *out.SecretText, nil
}

func (c *Client) post(ctx context.Context, path string, body *bytes.Buffer, contentType string) (int, []byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, nil, transportError(ctx, err)
	}

	return resp.StatusCode, data, resp.Header, nil
}

func (c *Client) finish(span trace.Span, op, alg string, start time.Time, err error) {
	elapsed := time.Since(start)
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Warn("Stego call failed",
			zap.String("operation", op),
			zap.String("algorithm", alg),
			zap.String("outcome", outcome),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
	} else {
		c.logger.Debug("Stego call completed",
			zap.String("operation", op),
			zap.String("algorithm", alg),
			zap.Duration("duration", elapsed),
		)
	}
	metrics.RecordStegoCall(op, alg, outcome, elapsed.Seconds())
}

func outcomeLabel(err error) string {
	switch apperrors.Kind(err) {
	case apperrors.ErrTimeout:
		return "timeout"
	case apperrors.ErrTransport:
		return "transport"
	case apperrors.ErrEncodeFailed, apperrors.ErrDecodeFailed:
		return "rejected"
	default:
		return "error"
	}
}

// statusError maps a failed response. 4xx is the service rejecting the
// submission; anything else is treated as a transport failure.
func statusError(status int, body []byte, kind error, fallback string) error {
	var detail struct {
		Detail any `json:"detail"`
	}
	reason := fallback
	if err := json.Unmarshal(body, &detail); err == nil {
		switch d := detail.Detail.(type) {
		case string:
			if d != "" {
				reason = d
			}
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				reason = string(b)
			}
		}
	}

	if status >= 500 {
		return fmt.Errorf("%w: stego service returned %d: %s", apperrors.ErrTransport, status, reason)
	}
	return apperrors.Reason(kind, reason)
}

func transportError(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", apperrors.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrTransport, err)
}

func isJSON(h http.Header) bool {
	return strings.HasPrefix(h.Get("Content-Type"), "application/json")
}

type part interface {
	write(w *multipart.Writer) error
}

type filePart struct {
	field string
	name  string
	data  []byte
}

func (p filePart) write(w *multipart.Writer) error {
	fw, err := w.CreateFormFile(p.field, p.name)
	if err != nil {
		return err
	}
	_, err = fw.Write(p.data)
	return err
}

type fieldPart struct {
	name  string
	value string
}

func (p fieldPart) write(w *multipart.Writer) error {
	return w.WriteField(p.name, p.value)
}

func buildForm(parts ...part) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, p := range parts {
		if err := p.write(w); err != nil {
			return nil, "", fmt.Errorf("failed to build form: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to build form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
