package main

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

	"github.com/gorilla/websocket"

	"github.com/ent0n29/taskpulse/internal/httpapi"
	"github.com/ent0n29/taskpulse/internal/tasks"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

type apiError struct {
	Status int
	Code   string `json:"code"`
	Msg    string `json:"error"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Msg)
}

type taskResult struct {
	Task     tasks.Task `json:"task"`
	Warnings []string   `json:"warnings"`
}

type listResult struct {
	Tasks         []tasks.Task `json:"tasks"`
	Remote        bool         `json:"remote"`
	PendingRemote int          `json:"pending_remote"`
}

func newAPIClient(baseURL string, timeout time.Duration) (*apiClient, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", baseURL)
	}
	return &apiClient{baseURL: u.String(), http: &http.Client{Timeout: timeout}}, nil
}

func (c *apiClient) list(ctx context.Context) (listResult, error) {
	var out listResult
	err := c.do(ctx, http.MethodGet, "/v1/tasks", nil, &out)
	return out, err
}

func (c *apiClient) add(ctx context.Context, title, description, due string) (taskResult, error) {
	var out taskResult
	err := c.do(ctx, http.MethodPost, "/v1/tasks", map[string]string{
		"title":       title,
		"description": description,
		"due_date":    due,
	}, &out)
	return out, err
}

func (c *apiClient) edit(ctx context.Context, id string, patch tasks.WirePatch) (taskResult, error) {
	var out taskResult
	err := c.do(ctx, http.MethodPatch, "/v1/tasks/"+url.PathEscape(id), patch, &out)
	return out, err
}

func (c *apiClient) toggle(ctx context.Context, id string) (taskResult, error) {
	var out taskResult
	err := c.do(ctx, http.MethodPost, "/v1/tasks/"+url.PathEscape(id)+"/toggle", nil, &out)
	return out, err
}

func (c *apiClient) remove(ctx context.Context, id string) ([]string, error) {
	var out struct {
		Warnings []string `json:"warnings"`
	}
	err := c.do(ctx, http.MethodDelete, "/v1/tasks/"+url.PathEscape(id), nil, &out)
	return out.Warnings, err
}

func (c *apiClient) refresh(ctx context.Context) (listResult, error) {
	var out listResult
	err := c.do(ctx, http.MethodPost, "/v1/tasks/refresh", nil, &out)
	return out, err
}

func (c *apiClient) events(ctx context.Context, id string, limit int) ([]tasks.Event, error) {
	var out struct {
		Events []tasks.Event `json:"events"`
	}
	path := fmt.Sprintf("/v1/tasks/%s/events?limit=%d", url.PathEscape(id), limit)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Events, err
}

// watch streams hub messages until ctx ends or the server closes the socket.
func (c *apiClient) watch(ctx context.Context, fn func(httpapi.HubMessage) error) error {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial event stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var msg httpapi.HubMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else if method == http.MethodPost {
		reader = strings.NewReader("{}")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		apiErr := &apiError{Status: res.StatusCode}
		if json.Unmarshal(raw, apiErr) != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
