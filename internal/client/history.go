package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"classchat-service/internal/models"
)

// HTTPHistory fetches point-in-time state over the service's REST surface.
type HTTPHistory struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPHistory builds a fetcher against the given base URL.
func NewHTTPHistory(baseURL, token string) *HTTPHistory {
	return &HTTPHistory{BaseURL: baseURL, Token: token, Client: http.DefaultClient}
}

// ListGroups queries the caller's groups.
func (h *HTTPHistory) ListGroups(ctx context.Context) ([]models.Group, error) {
	var out struct {
		Groups []models.Group `json:"groups"`
	}
	if err := h.get(ctx, "/groups", &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

// ListMessages queries a group's history.
func (h *HTTPHistory) ListMessages(ctx context.Context, groupID string) ([]models.Message, error) {
	var out struct {
		Messages []models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/groups/%s/messages", url.PathEscape(groupID))
	if err := h.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (h *HTTPHistory) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history query %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
