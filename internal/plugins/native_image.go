package plugins

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/dohr-michael/cadre/internal/docstore"
	"github.com/dohr-michael/cadre/internal/skills"
)

const (
	defaultImageBaseURL = "https://api.openai.com/v1"
	openAIImageModel    = "dall-e-3"
	imageSize           = "1024x1024"
)

// ImageSkill generates images. Personas on the gemini provider go through
// Imagen; everyone else through an OpenAI-compatible images endpoint.
type ImageSkill struct {
	store       *docstore.Store
	client      *http.Client
	imagenModel string
}

// NewImageSkill creates the image_generation skill. imagenModel is used for
// gemini personas.
func NewImageSkill(store *docstore.Store, imagenModel string) *ImageSkill {
	return &ImageSkill{
		store:       store,
		client:      &http.Client{Timeout: 90 * time.Second},
		imagenModel: imagenModel,
	}
}

// Definition returns the registrable skill.
func (s *ImageSkill) Definition() skills.Definition {
	return skills.Definition{
		Name:        "image_generation",
		DisplayName: "AI Drawing",
		Description: "Generate high-quality images based on text prompts.",
		Category:    "creative",
		Params: []skills.Param{
			{Name: "prompt", Type: "string", Description: "The detailed description of the image to generate.", Required: true},
			{Name: "size", Type: "string", Enum: []string{imageSize}, Default: imageSize},
		},
		Handler: s.handle,
	}
}

func (s *ImageSkill) handle(ctx context.Context, cfg skills.Config, args skills.Args) (string, error) {
	prompt := args.First("prompt", "description")
	if prompt == "" {
		return "[ERROR: Missing 'prompt' argument. Please provide a description of what to draw.]", nil
	}
	persona := cfg["persona_name"]

	var data []byte
	var err error
	if cfg["persona_provider"] == "gemini" {
		if cfg["gemini_api_key"] == "" {
			return "[ERROR: Gemini API Key is missing. Please configure it in Settings.]", nil
		}
		data, err = s.generateImagen(ctx, cfg["gemini_api_key"], prompt)
	} else {
		if cfg["api_key"] == "" {
			return "[ERROR: OpenAI API Key is missing. Please configure it in Settings.]", nil
		}
		var url string
		data, url, err = s.generateOpenAI(ctx, cfg["api_key"], cfg["base_url"], prompt)
		if err == nil && data == nil {
			return fmt.Sprintf("![Generated Image](%s)\n\n*(Warning: Failed to download image locally. Link expires soon.)*", url), nil
		}
	}
	if err != nil {
		return "", fmt.Errorf("image_generation: %w", err)
	}

	rel, err := s.store.SaveAsset(ctx, persona, "img", "png", data)
	if err != nil {
		return "", fmt.Errorf("image_generation: %w", err)
	}
	slog.Info("image saved", "persona", persona, "path", rel)
	return fmt.Sprintf("![Generated Image](%s)\n\n*(Prompt: %s)*", rel, prompt), nil
}

func (s *ImageSkill) generateImagen(ctx context.Context, apiKey, prompt string) ([]byte, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	resp, err := client.Models.GenerateImages(ctx, s.imagenModel, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "1:1",
	})
	if err != nil {
		return nil, fmt.Errorf("imagen: %w", err)
	}
	for _, img := range resp.GeneratedImages {
		if img != nil && img.Image != nil && len(img.Image.ImageBytes) > 0 {
			return img.Image.ImageBytes, nil
		}
	}
	return nil, fmt.Errorf("imagen returned no image data")
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// generateOpenAI returns the image bytes, or nil bytes and the remote URL
// when the download fails.
func (s *ImageSkill) generateOpenAI(ctx context.Context, apiKey, baseURL, prompt string) ([]byte, string, error) {
	endpoint := imagesEndpoint(baseURL)

	body, err := json.Marshal(imageRequest{Model: openAIImageModel, Prompt: prompt, N: 1, Size: imageSize})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(payload), 300))
	}

	var parsed imageResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, "", fmt.Errorf("no image returned")
	}
	item := parsed.Data[0]
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, "", fmt.Errorf("decode image: %w", err)
		}
		return data, "", nil
	}

	data, err := s.download(ctx, item.URL)
	if err != nil {
		slog.Warn("image download failed", "url", item.URL, "error", err)
		return nil, item.URL, nil
	}
	return data, item.URL, nil
}

func (s *ImageSkill) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

// imagesEndpoint maps a chat base URL to the images endpoint.
func imagesEndpoint(baseURL string) string {
	if baseURL == "" {
		baseURL = defaultImageBaseURL
	}
	if strings.Contains(baseURL, "chat/completions") {
		return strings.Replace(baseURL, "chat/completions", "images/generations", 1)
	}
	return strings.TrimRight(baseURL, "/") + "/images/generations"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
