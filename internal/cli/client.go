package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"taskos/internal/analytics"
	"taskos/internal/ledger"
	"taskos/internal/reassign"
	"taskos/internal/task"
)

const actorHeader = "X-User-ID"

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is returned for any non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (c *Client) CreateTask(ctx context.Context, in task.CreateInput) (task.Task, error) {
	var out task.Task
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/tasks", "", in, &out)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, id string) (task.Task, error) {
	var out task.Task
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/tasks/"+url.PathEscape(id), "", nil, &out)
	return out, err
}

func (c *Client) AssignedTasks(ctx context.Context) ([]task.Task, error) {
	var out struct {
		Tasks []task.Task `json:"tasks"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/tasks/assigned", "", nil, &out)
	return out.Tasks, err
}

func (c *Client) AssignTask(ctx context.Context, id, assignee string) (task.Task, error) {
	var out task.Task
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/assign", "", map[string]any{
		"assignee": assignee,
	}, &out)
	return out, err
}

func (c *Client) CompleteTask(ctx context.Context, actor, id string) (task.Task, error) {
	var out task.Task
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/complete", actor, nil, &out)
	return out, err
}

func (c *Client) ReassignTask(ctx context.Context, id string) (task.Task, error) {
	var out task.Task
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/reassign", "", nil, &out)
	return out, err
}

func (c *Client) ReassignAll(ctx context.Context) (int, error) {
	var out struct {
		Requested int `json:"requested"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/tasks/reassign", "", nil, &out)
	return out.Requested, err
}

type BooksView struct {
	UserID      string       `json:"user_id"`
	Books       ledger.Books `json:"books"`
	Outstanding int64        `json:"outstanding"`
}

func (c *Client) Books(ctx context.Context, userID string) (BooksView, error) {
	var out BooksView
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/ledger/users/"+url.PathEscape(userID)+"/books", "", nil, &out)
	return out, err
}

func (c *Client) Entries(ctx context.Context, userID string) ([]ledger.Entry, error) {
	var out struct {
		Entries []ledger.Entry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/ledger/users/"+url.PathEscape(userID)+"/entries", "", nil, &out)
	return out.Entries, err
}

func (c *Client) OutstandingPayouts(ctx context.Context) (map[string]int64, error) {
	var out struct {
		Outstanding map[string]int64 `json:"outstanding"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/ledger/outstanding", "", nil, &out)
	return out.Outstanding, err
}

func (c *Client) RunPayouts(ctx context.Context) (ledger.PayoutSummary, error) {
	var out ledger.PayoutSummary
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/ledger/payouts", "", nil, &out)
	return out, err
}

// Stonks returns the company total for date, formatted YYYY-MM-DD. An empty
// date means today in the server's timezone.
func (c *Client) Stonks(ctx context.Context, date string) (int64, error) {
	path := "/v1/ledger/stonks"
	if date != "" {
		path += "?date=" + url.QueryEscape(date)
	}
	var out struct {
		Total int64 `json:"total"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out)
	return out.Total, err
}

func (c *Client) AnalyticsToday(ctx context.Context) (analytics.DailyStats, error) {
	var out analytics.DailyStats
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/analytics/today", "", nil, &out)
	return out, err
}

func (c *Client) MaxPrice(ctx context.Context, from, to string) (int64, error) {
	var out struct {
		MaxPrice int64 `json:"max_price"`
	}
	path := "/v1/analytics/max-price/" + url.PathEscape(from) + "/" + url.PathEscape(to)
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out)
	return out.MaxPrice, err
}

func (c *Client) Users(ctx context.Context) ([]reassign.User, error) {
	var out struct {
		Users []reassign.User `json:"users"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/users", "", nil, &out)
	return out.Users, err
}

func (c *Client) UpsertUser(ctx context.Context, u reassign.User) (reassign.User, error) {
	var out reassign.User
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/users", "", u, &out)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, actor string, in any, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(actorHeader, actor)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
