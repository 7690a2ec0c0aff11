package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mossy-p/studyroom-signaling/internal/models"
)

var (
	ErrAPIStatus    = errors.New("unexpected api status")
	ErrRoomNotFound = errors.New("room not found")
)

// RoomsAPI calls the room management endpoints of the signaling server.
type RoomsAPI struct {
	ServerURL string
	Token     string
	Client    *http.Client
}

func (a *RoomsAPI) CreateRoom(ctx context.Context) (models.CreateRoomResponse, error) {
	var out models.CreateRoomResponse
	err := a.do(ctx, http.MethodPost, "/api/rooms", http.StatusCreated, &out)
	return out, err
}

func (a *RoomsAPI) GetRoom(ctx context.Context, code string) (models.RoomInfo, error) {
	var out models.RoomInfo
	err := a.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(code), http.StatusOK, &out)
	return out, err
}

func (a *RoomsAPI) DeleteRoom(ctx context.Context, code string) error {
	return a.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(code), http.StatusOK, nil)
}

func (a *RoomsAPI) do(ctx context.Context, method, path string, want int, into any) error {
	endpoint := strings.TrimSuffix(a.ServerURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}

	httpClient := a.Client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
		if resp.StatusCode == http.StatusNotFound {
			return ErrRoomNotFound
		}
		if body.Error != "" {
			return fmt.Errorf("%w: %s: %s", ErrAPIStatus, resp.Status, body.Error)
		}
		return fmt.Errorf("%w: %s", ErrAPIStatus, resp.Status)
	}
	if into == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
