package engines

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
)

// Defaults for the Gemini engine.
const (
	DefaultBaseURL           = "https://generativelanguage.googleapis.com/v1beta"
	DefaultOCRModel          = "gemini-2.5-flash"
	DefaultTTSModel          = "gemini-2.5-flash-preview-tts"
	DefaultVoice             = "Kore"
	DefaultTimeout           = 60 * time.Second
	DefaultRequestsPerMinute = 30

	// Responses larger than this are rejected.
	maxResponseSize = 64 << 20
)

const transcribePrompt = "Transcribe all the text visible in this image. " +
	"Do not add any conversational filler, just provide the text exactly as it appears. " +
	"Preserve line breaks where logical."

// GeminiConfig holds configuration for the Gemini engine.
type GeminiConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL of the REST API (defaults to DefaultBaseURL)
	BaseURL string

	// Model used for image transcription
	OCRModel string

	// Model and prebuilt voice used for speech
	TTSModel string
	Voice    string

	// Per-request timeout
	Timeout time.Duration

	// Rate limit requests per minute (0 uses the default)
	RequestsPerMinute int

	// HTTPClient overrides the default client
	HTTPClient *http.Client

	Logger *log.Logger
}

// Gemini calls the Gemini generateContent endpoint for both transcription
// and speech synthesis.
type Gemini struct {
	apiKey   string
	baseURL  string
	ocrModel string
	ttsModel string
	voice    string

	client      *http.Client
	rateLimiter *rate.Limiter
	logger      *log.Logger
}

// NewGemini creates a Gemini engine. A missing API key is not an error here;
// every call reports ErrMissingCredential instead, so the rest of the
// application keeps working offline.
func NewGemini(config GeminiConfig) *Gemini {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.OCRModel == "" {
		config.OCRModel = DefaultOCRModel
	}
	if config.TTSModel == "" {
		config.TTSModel = DefaultTTSModel
	}
	if config.Voice == "" {
		config.Voice = DefaultVoice
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	return &Gemini{
		apiKey:      config.APIKey,
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		ocrModel:    config.OCRModel,
		ttsModel:    config.TTSModel,
		voice:       config.Voice,
		client:      config.HTTPClient,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RequestsPerMinute)), 1),
		logger:      config.Logger,
	}
}

// Request payloads for generateContent.
type (
	inlineData struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	}

	part struct {
		Text       string      `json:"text,omitempty"`
		InlineData *inlineData `json:"inlineData,omitempty"`
	}

	content struct {
		Parts []part `json:"parts"`
	}

	prebuiltVoiceConfig struct {
		VoiceName string `json:"voiceName"`
	}

	voiceConfig struct {
		PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
	}

	speechConfig struct {
		VoiceConfig voiceConfig `json:"voiceConfig"`
	}

	generationConfig struct {
		ResponseModalities []string      `json:"responseModalities,omitempty"`
		SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
	}

	generateRequest struct {
		Contents         []content         `json:"contents"`
		GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	}
)

// ExtractText transcribes the text visible in image. An empty mimeType is
// sniffed from the image bytes.
func (g *Gemini) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if g.apiKey == "" {
		return "", ErrMissingCredential
	}
	if len(image) == 0 {
		return "", fmt.Errorf("%w: no image data", ErrEmptyInput)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}

	req := generateRequest{
		Contents: []content{{
			Parts: []part{
				{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(image)}},
				{Text: transcribePrompt},
			},
		}},
	}

	body, err := g.generate(ctx, g.ocrModel, req)
	if err != nil {
		return "", err
	}

	if !gjson.GetBytes(body, "candidates.0").Exists() {
		if reason := gjson.GetBytes(body, "promptFeedback.blockReason").String(); reason != "" {
			return "", fmt.Errorf("%w: blocked (%s)", ErrExtractionFailed, reason)
		}
		return "", fmt.Errorf("%w: no candidates in response", ErrExtractionFailed)
	}

	// Concatenate every text part of the first candidate; a candidate
	// without text means the image had none
	var sb strings.Builder
	gjson.GetBytes(body, "candidates.0.content.parts.#.text").ForEach(func(_, v gjson.Result) bool {
		sb.WriteString(v.String())
		return true
	})

	text := norm.NFC.String(sb.String())
	g.logger.Debug("Extracted text", "model", g.ocrModel, "chars", len(text))
	return text, nil
}

// Synthesize returns raw 16-bit 24 kHz mono PCM for text.
func (g *Gemini) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if g.apiKey == "" {
		return nil, ErrMissingCredential
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: Text is empty", ErrEmptyInput)
	}

	req := generateRequest{
		Contents: []content{{Parts: []part{{Text: text}}}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: g.voice},
				},
			},
		},
	}

	body, err := g.generate(ctx, g.ttsModel, req)
	if err != nil {
		return nil, err
	}

	encoded := gjson.GetBytes(body, "candidates.0.content.parts.0.inlineData.data").String()
	if encoded == "" {
		return nil, ErrSynthesisFailed
	}

	pcm, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: decode audio: %v", ErrSynthesisFailed, err)
	}
	if len(pcm) == 0 {
		return nil, ErrSynthesisFailed
	}

	g.logger.Debug("Synthesized speech", "model", g.ttsModel, "voice", g.voice, "bytes", len(pcm))
	return pcm, nil
}

// generate posts req to models/{model}:generateContent and returns the raw
// response body.
func (g *Gemini) generate(ctx context.Context, model string, req generateRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", model, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	g.logger.Debug("Gemini request", "model", model, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newAPIError(resp.StatusCode, body)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON response from %s", model)
	}
	return body, nil
}
