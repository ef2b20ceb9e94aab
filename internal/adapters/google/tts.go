package google

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
)

const DefaultTTSEndpoint = "https://texttospeech.googleapis.com/v1/text:synthesize"

var ErrEmptyAudio = errors.New("synthesis returned no audio")

type TTSConfig struct {
	APIKey       string
	Endpoint     string
	Language     string
	Voice        string
	SpeakingRate float64
	Pitch        float64
}

type synthRequest struct {
	Input       synthInput       `json:"input"`
	Voice       synthVoice       `json:"voice"`
	AudioConfig synthAudioConfig `json:"audioConfig"`
}

type synthInput struct {
	Text string `json:"text"`
}

type synthVoice struct {
	LanguageCode string `json:"languageCode"`
	Name         string `json:"name"`
}

type synthAudioConfig struct {
	AudioEncoding string  `json:"audioEncoding"`
	SpeakingRate  float64 `json:"speakingRate"`
	Pitch         float64 `json:"pitch"`
}

type synthResponse struct {
	AudioContent string `json:"audioContent"`
}

// TTSClient synthesizes MP3 audio.
type TTSClient struct {
	client
	cfg     TTSConfig
	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewTTSClient(cfg TTSConfig, opts ...Option) *TTSClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultTTSEndpoint
	}
	if cfg.Language == "" {
		cfg.Language = "en-US"
	}
	if cfg.Voice == "" {
		cfg.Voice = "en-US-Standard-C"
	}
	if cfg.SpeakingRate == 0 {
		cfg.SpeakingRate = 1.0
	}
	c := newClient("google-tts", cfg.Endpoint, cfg.APIKey, opts)
	return &TTSClient{client: c, cfg: cfg, breaker: newBreaker[[]byte](c)}
}

func (t *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if t.apiKey == "" {
		return nil, ErrMissingKey
	}
	req := synthRequest{
		Input: synthInput{Text: text},
		Voice: synthVoice{LanguageCode: t.cfg.Language, Name: t.cfg.Voice},
		AudioConfig: synthAudioConfig{
			AudioEncoding: "MP3",
			SpeakingRate:  t.cfg.SpeakingRate,
			Pitch:         t.cfg.Pitch,
		},
	}
	audio, err := t.breaker.Execute(func() ([]byte, error) {
		var resp synthResponse
		if err := t.doJSON(ctx, req, &resp); err != nil {
			return nil, err
		}
		if resp.AudioContent == "" {
			return nil, ErrEmptyAudio
		}
		b, err := base64.StdEncoding.DecodeString(resp.AudioContent)
		if err != nil {
			return nil, fmt.Errorf("decode audio: %w", err)
		}
		return b, nil
	})
	if err != nil {
		return nil, fmt.Errorf("google tts: %w", err)
	}
	return audio, nil
}
