package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evently/collab/internal/models"
)

// TeamClient is the formation controller's HTTP half: create, code lookup,
// join, leave, disband, and the authoritative my-team-for-event query. Every
// mutating call has an in-flight guard so a double click cannot dispatch the
// same request twice; rejections come back as typed *APIError values.
type TeamClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	mu       sync.Mutex
	inflight map[string]bool
}

// NewTeamClient creates a client against the API base URL.
func NewTeamClient(baseURL, token string) *TeamClient {
	return &TeamClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		inflight:   make(map[string]bool),
	}
}

// CreateTeamRequest is the request body for team creation.
type CreateTeamRequest struct {
	EventID int64  `json:"event_id"`
	Name    string `json:"name"`
	MaxSize int    `json:"max_size"`
}

// CreateTeam creates a team for an event. Rejected with team_exists if the
// caller already has a live team for it; re-invoking after a success is
// therefore safe.
func (c *TeamClient) CreateTeam(ctx context.Context, eventID int64, name string, maxSize int) (*models.Team, error) {
	if !c.begin("create") {
		return nil, ErrRequestInFlight
	}
	defer c.end("create")

	body, err := c.doRequest(ctx, http.MethodPost, "/api/teams/create", CreateTeamRequest{
		EventID: eventID,
		Name:    name,
		MaxSize: maxSize,
	})
	if err != nil {
		return nil, err
	}
	return decodeTeam(body)
}

// GetByCode resolves an invite code to its team. Read-only and safe to retry;
// the deep-link route calls this before offering the join.
func (c *TeamClient) GetByCode(ctx context.Context, code string) (*models.Team, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/teams/code/"+code, nil)
	if err != nil {
		return nil, err
	}
	return decodeTeam(body)
}

// JoinByCode joins the team behind the code. Every rejection reason is
// distinguishable: invalid_code, not_forming, team_full, already_member.
// Being already on that team is a success and returns the team.
func (c *TeamClient) JoinByCode(ctx context.Context, code string) (*models.Team, error) {
	key := "join:" + code
	if !c.begin(key) {
		return nil, ErrRequestInFlight
	}
	defer c.end(key)

	body, err := c.doRequest(ctx, http.MethodPost, "/api/teams/join/"+code, nil)
	if err != nil {
		return nil, err
	}
	return decodeTeam(body)
}

// Leave removes the caller's own membership. The leader gets
// leader_cannot_leave; the leader's exit is Disband.
func (c *TeamClient) Leave(ctx context.Context, teamID int64) (*models.Team, error) {
	key := fmt.Sprintf("leave:%d", teamID)
	if !c.begin(key) {
		return nil, ErrRequestInFlight
	}
	defer c.end(key)

	body, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/teams/%d/leave", teamID), nil)
	if err != nil {
		return nil, err
	}
	return decodeTeam(body)
}

// Disband dissolves the team. Leader-only, irreversible.
func (c *TeamClient) Disband(ctx context.Context, teamID int64) (*models.Team, error) {
	key := fmt.Sprintf("disband:%d", teamID)
	if !c.begin(key) {
		return nil, ErrRequestInFlight
	}
	defer c.end(key)

	body, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/teams/%d/disband", teamID), nil)
	if err != nil {
		return nil, err
	}
	return decodeTeam(body)
}

// ListMine returns the caller's live teams.
func (c *TeamClient) ListMine(ctx context.Context) ([]*models.Team, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/api/teams/mine", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Teams []*models.Team `json:"teams"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Teams, nil
}

// MyTeamForEvent returns the caller's team for the event, or (nil, nil) when
// there is none. The full entity comes back, so status and counts are never
// guessed client-side.
func (c *TeamClient) MyTeamForEvent(ctx context.Context, eventID int64) (*models.Team, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/teams/event/%d/mine", eventID), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return decodeTeam(body)
}

// History fetches one chronological page of past messages for a room.
func (c *TeamClient) History(ctx context.Context, teamID int64) ([]models.Message, error) {
	body, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/messages/%d", teamID), nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Upload sends one attachment and returns its reference. The send-message
// event for an image/file must carry the returned URL.
func (c *TeamClient) Upload(ctx context.Context, fileName string, r io.Reader) (*models.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.Token)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var result models.UploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// InviteLink derives the shareable join link from the current origin.
func (c *TeamClient) InviteLink(origin, code string) string {
	return strings.TrimRight(origin, "/") + "/join-team/" + code
}

func (c *TeamClient) begin(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[key] {
		return false
	}
	c.inflight[key] = true
	return true
}

func (c *TeamClient) end(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, key)
}

func (c *TeamClient) doRequest(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	return c.do(req)
}

func (c *TeamClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed struct {
			Code    string `json:"code"`
			Message string `json:"error"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code = parsed.Code
			apiErr.Message = parsed.Message
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	return respBody, nil
}

func decodeTeam(body []byte) (*models.Team, error) {
	var team models.Team
	if err := json.Unmarshal(body, &team); err != nil {
		return nil, err
	}
	return &team, nil
}
