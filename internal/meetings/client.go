package meetings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mentorloop/meetroom/internal/domain/models"
)

// ErrNotFound - the room id does not map to a known meeting.
var ErrNotFound = errors.New("meetings: meeting not found")

// Directory is the read-only view of the meeting-management service. The
// core only ever asks who created a room.
type Directory interface {
	GetMeeting(ctx context.Context, roomID string) (models.Meeting, error)
}

// HTTPDirectory reads meeting metadata over the marketplace HTTP API.
type HTTPDirectory struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPDirectory(baseURL, token string) *HTTPDirectory {
	return &HTTPDirectory{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type meetingResponse struct {
	Meeting models.Meeting `json:"meeting"`
}

// CreateMeeting registers a meeting so guests resolve the right host.
// Requires an authenticated token.
func (d *HTTPDirectory) CreateMeeting(ctx context.Context, meeting models.Meeting) error {
	payload, err := json.Marshal(meeting)
	if err != nil {
		return fmt.Errorf("marshal meeting: %w", err)
	}

	url := fmt.Sprintf("%s/meetings", d.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build meeting request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("create meeting: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create meeting: unexpected status %d", resp.StatusCode)
	}

	return nil
}

func (d *HTTPDirectory) GetMeeting(ctx context.Context, roomID string) (models.Meeting, error) {
	url := fmt.Sprintf("%s/meetings/%s", d.baseURL, roomID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("build meeting request: %w", err)
	}

	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("get meeting: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return models.Meeting{}, ErrNotFound
	default:
		return models.Meeting{}, fmt.Errorf("get meeting: unexpected status %d", resp.StatusCode)
	}

	var body meetingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return models.Meeting{}, fmt.Errorf("decode meeting response: %w", err)
	}

	return body.Meeting, nil
}
