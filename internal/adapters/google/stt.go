package google

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/dkeye/voicelink/internal/domain"
	"github.com/sony/gobreaker/v2"
)

const DefaultSTTEndpoint = "https://speech.googleapis.com/v1/speech:recognize"

type STTConfig struct {
	APIKey      string
	Endpoint    string
	Language    string
	SampleRate  int
	Punctuation bool
}

type recognizeRequest struct {
	Config recognizeConfig `json:"config"`
	Audio  recognizeAudio  `json:"audio"`
}

type recognizeConfig struct {
	Encoding                   string `json:"encoding"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	AudioChannelCount          int    `json:"audioChannelCount"`
}

type recognizeAudio struct {
	Content string `json:"content"`
}

type recognizeResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float32 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"results"`
}

// STTClient recognizes complete Opus segments in one synchronous call.
type STTClient struct {
	client
	cfg     STTConfig
	breaker *gobreaker.CircuitBreaker[string]
}

func NewSTTClient(cfg STTConfig, opts ...Option) *STTClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultSTTEndpoint
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 48000
	}
	c := newClient("google-stt", cfg.Endpoint, cfg.APIKey, opts)
	return &STTClient{client: c, cfg: cfg, breaker: newBreaker[string](c)}
}

// Encoding maps a recording format to the service's encoding tag.
func Encoding(format domain.Format) string {
	if strings.Contains(string(format), "webm") {
		return "WEBM_OPUS"
	}
	return "OGG_OPUS"
}

// Recognize returns the trimmed top transcript. Failures and empty results
// both yield ok=false; errors are logged.
func (s *STTClient) Recognize(ctx context.Context, audio []byte, format domain.Format) (string, bool) {
	if s.apiKey == "" {
		s.logger.Warn().Msg("stt api key missing, skipping segment")
		return "", false
	}
	req := recognizeRequest{
		Config: recognizeConfig{
			Encoding:                   Encoding(format),
			LanguageCode:               s.cfg.Language,
			EnableAutomaticPunctuation: s.cfg.Punctuation,
			SampleRateHertz:            s.cfg.SampleRate,
			AudioChannelCount:          1,
		},
		Audio: recognizeAudio{Content: base64.StdEncoding.EncodeToString(audio)},
	}

	text, err := s.breaker.Execute(func() (string, error) {
		var resp recognizeResponse
		if err := s.doJSON(ctx, req, &resp); err != nil {
			return "", err
		}
		if len(resp.Results) > 0 && len(resp.Results[0].Alternatives) > 0 {
			return resp.Results[0].Alternatives[0].Transcript, nil
		}
		return "", nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", false
		}
		s.logger.Error().Err(err).Int("bytes", len(audio)).Str("encoding", req.Config.Encoding).Msg("recognize failed")
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Debug().Int("bytes", len(audio)).Msg("empty transcript")
		return "", false
	}
	return text, true
}
