package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"localchat/internal/domain"
)

// Catalog supplies the selected model and its vision capability from the
// server's /v1/models listing. It implements domain.ModelCatalog.
type Catalog struct {
	baseURL    string
	httpClient *http.Client
	preferred  string // configured model id; empty = first listed
}

var _ domain.ModelCatalog = (*Catalog)(nil)

// NewCatalog creates a catalog for the server at baseURL.
func NewCatalog(baseURL, preferred string, httpClient *http.Client) *Catalog {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Catalog{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		preferred:  preferred,
	}
}

// modelsResponse is the /v1/models listing envelope.
type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Models lists the models the server can serve.
func (c *Catalog) Models(ctx context.Context) ([]domain.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, mapHTTPError(resp.StatusCode, body)
	}

	var listing modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode models listing: %w", err)
	}

	models := make([]domain.ModelInfo, 0, len(listing.Data))
	for _, m := range listing.Data {
		models = append(models, domain.ModelInfo{ID: m.ID, Vision: isVisionModel(m.ID)})
	}
	return models, nil
}

// SelectedModel implements domain.ModelCatalog. The preferred model is used
// when the server lists it; otherwise the first listed model wins.
func (c *Catalog) SelectedModel(ctx context.Context) (domain.ModelInfo, error) {
	models, err := c.Models(ctx)
	if err != nil {
		return domain.ModelInfo{}, err
	}
	if len(models) == 0 {
		return domain.ModelInfo{}, domain.ErrNoModels
	}
	if c.preferred != "" {
		for _, m := range models {
			if m.ID == c.preferred {
				return m, nil
			}
		}
	}
	return models[0], nil
}

// visionMarkers are id substrings that indicate multimodal support among
// common local-server model names.
var visionMarkers = []string{"vision", "llava", "vl", "moondream", "minicpm-v", "pixtral"}

func isVisionModel(id string) bool {
	lower := strings.ToLower(id)
	for _, marker := range visionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
