package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type HTTPGatewayOptions struct {
	Timeout time.Duration
	// CompleteMethod is the verb for /tasks/{id}/complete. Defaults to PUT.
	CompleteMethod string
	Client         *http.Client
}

// HTTPGateway talks to a REST task store:
//
//	GET    /tasks
//	POST   /tasks
//	PUT    /tasks/{id}
//	PUT    /tasks/{id}/complete
//	DELETE /tasks/{id}
type HTTPGateway struct {
	base           string
	completeMethod string
	client         *http.Client
}

func NewHTTPGateway(baseURL string, opts HTTPGatewayOptions) (*HTTPGateway, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid task store url %q", baseURL)
	}
	method := strings.ToUpper(strings.TrimSpace(opts.CompleteMethod))
	if method == "" {
		method = http.MethodPut
	}
	if method != http.MethodPut && method != http.MethodPost && method != http.MethodPatch {
		return nil, fmt.Errorf("unsupported complete method %q", opts.CompleteMethod)
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPGateway{base: baseURL, completeMethod: method, client: client}, nil
}

func (g *HTTPGateway) List(ctx context.Context) ([]Task, error) {
	body, err := g.do(ctx, "list", "", http.MethodGet, "/tasks", nil)
	if err != nil {
		return nil, err
	}

	var items []WireTask
	if err := json.Unmarshal(body, &items); err != nil {
		var wrapped struct {
			Tasks []WireTask `json:"tasks"`
		}
		if err2 := json.Unmarshal(body, &wrapped); err2 != nil {
			return nil, &RemoteError{Op: "list", Err: fmt.Errorf("decode response: %w", err)}
		}
		items = wrapped.Tasks
	}

	out := make([]Task, 0, len(items))
	for _, item := range items {
		t, err := FromWire(item)
		if err != nil {
			return nil, &RemoteError{Op: "list", TaskID: string(item.ID), Err: err}
		}
		if t.RemoteID == "" {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (g *HTTPGateway) Create(ctx context.Context, task Task) (Task, error) {
	w := ToWire(task)
	w.ID = ""
	body, err := g.do(ctx, "create", "", http.MethodPost, "/tasks", w)
	if err != nil {
		return Task{}, err
	}
	out, err := decodeWireTask(body)
	if err != nil {
		return Task{}, &RemoteError{Op: "create", Err: err}
	}
	if out.RemoteID == "" {
		return Task{}, &RemoteError{Op: "create", Err: errors.New("store returned no task id")}
	}
	return out, nil
}

func (g *HTTPGateway) Update(ctx context.Context, remoteID string, patch Patch) (Task, error) {
	body, err := g.do(ctx, "update", remoteID, http.MethodPut, taskPath(remoteID), PatchToWire(patch))
	if err != nil {
		return Task{}, err
	}
	return g.resultOrEcho("update", remoteID, body)
}

func (g *HTTPGateway) Complete(ctx context.Context, remoteID string) (Task, error) {
	body, err := g.do(ctx, "complete", remoteID, g.completeMethod, taskPath(remoteID)+"/complete", nil)
	if err != nil {
		return Task{}, err
	}
	return g.resultOrEcho("complete", remoteID, body)
}

func (g *HTTPGateway) Delete(ctx context.Context, remoteID string) error {
	_, err := g.do(ctx, "delete", remoteID, http.MethodDelete, taskPath(remoteID), nil)
	return err
}

func (g *HTTPGateway) Close() error {
	g.client.CloseIdleConnections()
	return nil
}

// resultOrEcho decodes the task a store returns after a mutation. Stores that
// answer with an empty body yield a Task carrying only the RemoteID.
func (g *HTTPGateway) resultOrEcho(op, remoteID string, body []byte) (Task, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return Task{RemoteID: remoteID}, nil
	}
	out, err := decodeWireTask(body)
	if err != nil {
		return Task{}, &RemoteError{Op: op, TaskID: remoteID, Err: err}
	}
	if out.RemoteID == "" {
		out.RemoteID = remoteID
	}
	return out, nil
}

func (g *HTTPGateway) do(ctx context.Context, op, remoteID, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, &RemoteError{Op: op, TaskID: remoteID, Err: fmt.Errorf("marshal request: %w", err)}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.base+path, reader)
	if err != nil {
		return nil, &RemoteError{Op: op, TaskID: remoteID, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := g.client.Do(req)
	if err != nil {
		return nil, &RemoteError{Op: op, TaskID: remoteID, Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, &RemoteError{Op: op, TaskID: remoteID, Status: res.StatusCode, Err: ErrStoreNotFound}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return nil, &RemoteError{Op: op, TaskID: remoteID, Status: res.StatusCode, Err: errors.New(msg)}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
	if err != nil {
		return nil, &RemoteError{Op: op, TaskID: remoteID, Err: fmt.Errorf("read response: %w", err)}
	}
	return body, nil
}

func decodeWireTask(body []byte) (Task, error) {
	var w WireTask
	if err := json.Unmarshal(body, &w); err != nil {
		return Task{}, fmt.Errorf("decode response: %w", err)
	}
	return FromWire(w)
}

func taskPath(remoteID string) string {
	return "/tasks/" + url.PathEscape(strings.TrimSpace(remoteID))
}
