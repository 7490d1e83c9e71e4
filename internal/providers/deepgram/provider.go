// Package deepgram streams microphone audio to Deepgram's live listen API.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"cookvoice/internal/domain"
	"cookvoice/internal/ports"
)

const (
	defaultAPIBaseURL = "https://api.deepgram.com/v1"
	defaultModel      = "nova-2"
	defaultLanguage   = "ko"

	// Deepgram drops sockets that see neither audio nor KeepAlive for ~10s.
	defaultKeepAlive = 5 * time.Second
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// EndpointingMs is the silence after which Deepgram marks speech_final.
	EndpointingMs int
	// UtteranceEndMs enables UtteranceEnd messages when greater than zero.
	UtteranceEndMs int
}

// Provider implements ports.TranscriptionProvider for Deepgram.
type Provider struct {
	cfg       Config
	dialer    *websocket.Dialer
	keepAlive time.Duration
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer, keepAlive: defaultKeepAlive}
}

// StartStreaming opens a listen socket. Failures are *domain.RecognitionError.
func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, domain.NewRecognitionError(domain.RecognitionErrorClient, errors.New("DEEPGRAM_API_KEY is not configured"))
	}

	listenURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, domain.NewRecognitionError(domain.RecognitionErrorClient, err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, resp, err := p.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return nil, domain.NewRecognitionError(dialErrorCode(status), fmt.Errorf("deepgram handshake: %w", err))
	}

	session := newListenSession(conn, p.keepAlive)
	go func() {
		select {
		case <-ctx.Done():
			_ = session.Close()
		case <-session.finished:
		}
	}()
	return session, nil
}

// dialErrorCode maps the handshake status onto a recognition error code.
func dialErrorCode(status int) domain.RecognitionErrorCode {
	switch {
	case status == 0:
		return domain.RecognitionErrorNetwork
	case status == http.StatusTooManyRequests:
		return domain.RecognitionErrorBusy
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.RecognitionErrorNetworkTimeout
	case status >= 500:
		return domain.RecognitionErrorServer
	default:
		return domain.RecognitionErrorClient
	}
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultAPIBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	listenURL, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	encoding := streamCfg.Encoding
	if encoding == "" {
		encoding = "linear16"
	}
	sampleRate := streamCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	channels := streamCfg.Channels
	if channels <= 0 {
		channels = 1
	}

	query := url.Values{}
	query.Set("model", providerCfg.Model)
	query.Set("encoding", encoding)
	query.Set("sample_rate", strconv.Itoa(sampleRate))
	query.Set("channels", strconv.Itoa(channels))
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	if providerCfg.EndpointingMs > 0 {
		query.Set("endpointing", strconv.Itoa(providerCfg.EndpointingMs))
	}
	if providerCfg.UtteranceEndMs > 0 && streamCfg.InterimResults {
		query.Set("utterance_end_ms", strconv.Itoa(providerCfg.UtteranceEndMs))
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
