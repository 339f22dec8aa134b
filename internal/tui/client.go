package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/fentz26/murmur/internal/models"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 5 * time.Second

// Client wraps HTTP calls to the Murmur API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// Status is the dashboard's view of GET /status.
type Status struct {
	State    models.AgentState      `json:"state"`
	Monitors []models.MonitorStatus `json:"monitors"`
}

// GetStatus fetches agent state and per-monitor status.
func (c *Client) GetStatus() (*Status, error) {
	var status Status
	if err := c.getJSON("/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetHistory fetches the newest limit audit records.
func (c *Client) GetHistory(limit int) ([]models.HistoryRecord, error) {
	var recs []models.HistoryRecord
	if err := c.getJSON("/history?limit="+strconv.Itoa(limit), &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// ForceScan triggers an immediate sample of every monitor.
func (c *Client) ForceScan() error {
	resp, err := c.httpClient.Post(c.baseURL+"/scan", "application/json", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	return nil
}

func (c *Client) getJSON(path string, out interface{}) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s", string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
