package sinks

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streamd/internal/pipeline"
)

const defaultImagePromptBytes = 300

// Image turns completed turns into txt2img requests against an
// Automatic1111-style Stable Diffusion API and saves the returned images.
// Failed turns are skipped; the prompt is the turn's final content truncated
// to a byte budget.
type Image struct {
	baseURL     string
	saveDir     string
	promptBytes int
	client      *http.Client
	log         zerolog.Logger
}

func NewImage(baseURL, saveDir string, promptBytes int, log zerolog.Logger) *Image {
	if promptBytes <= 0 {
		promptBytes = defaultImagePromptBytes
	}
	return &Image{
		baseURL:     baseURL,
		saveDir:     saveDir,
		promptBytes: promptBytes,
		client:      &http.Client{Timeout: 120 * time.Second},
		log:         log,
	}
}

func (s *Image) Interest() pipeline.Interest { return pipeline.InterestFinals }

type txt2imgRequest struct {
	Prompt string `json:"prompt"`
	Steps  int    `json:"steps"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type txt2imgResponse struct {
	Images []string `json:"images"`
}

func (s *Image) Accept(out pipeline.Output) error {
	if out.Kind != pipeline.KindFinal || out.Failed || out.Text == "" {
		return nil
	}
	prompt := truncateBytes(out.Text, s.promptBytes)
	body, err := json.Marshal(txt2imgRequest{Prompt: prompt, Steps: 20, Width: 512, Height: 512})
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.baseURL+"/sdapi/v1/txt2img", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("txt2img: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("txt2img: unexpected status %d", resp.StatusCode)
	}
	var decoded txt2imgResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("txt2img decode: %w", err)
	}
	if s.saveDir == "" {
		return nil
	}
	for _, img := range decoded.Images {
		raw, err := base64.StdEncoding.DecodeString(img)
		if err != nil {
			s.log.Warn().Uint64("turn", out.TurnSeq).Err(err).Msg("image decode failed")
			continue
		}
		name := filepath.Join(s.saveDir, uuid.NewString()+".png")
		if err := os.WriteFile(name, raw, 0o644); err != nil {
			return fmt.Errorf("image save: %w", err)
		}
		s.log.Info().Uint64("turn", out.TurnSeq).Str("file", name).Msg("image saved")
	}
	return nil
}

// truncateBytes cuts s to at most n bytes without splitting a UTF-8 rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xc0 == 0x80 {
		n--
	}
	return s[:n]
}
