package store

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

	"github.com/gorilla/websocket"

	"memory-map/internal/entry"
	"memory-map/internal/logger"
)

// RemoteBackend：memory-map HTTP 服务的客户端实现
// 背景：命令行与其他进程通过它访问同一集合；新增推送走 websocket /memories/stream。
// 约束：base 为包含 API 前缀的根地址，例如 http://127.0.0.1:8080/api
type RemoteBackend struct {
	base   string
	hc     *http.Client
	dialer *websocket.Dialer
}

func NewRemote(base string, hc *http.Client) *RemoteBackend {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteBackend{
		base:   strings.TrimRight(base, "/"),
		hc:     hc,
		dialer: &websocket.Dialer{HandshakeTimeout: 5 * time.Second},
	}
}

// StatusError：服务端返回非预期状态码
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (r *RemoteBackend) do(ctx context.Context, method, path string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *RemoteBackend) List(ctx context.Context) ([]entry.Entry, error) {
	var out []entry.Entry
	if err := r.do(ctx, http.MethodGet, "/memories", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *RemoteBackend) Insert(ctx context.Context, e entry.Entry) error {
	var resp struct {
		ID string `json:"id"`
	}
	if err := r.do(ctx, http.MethodPost, "/memories", e, &resp, http.StatusCreated); err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Code == http.StatusConflict {
			return fmt.Errorf("insert %s: %w", e.ID, ErrDuplicate)
		}
		return err
	}
	if resp.ID != e.ID {
		return fmt.Errorf("insert: server assigned %q, want %q", resp.ID, e.ID)
	}
	return nil
}

func (r *RemoteBackend) Increment(ctx context.Context, id string) (bool, error) {
	var resp struct {
		Committed bool `json:"committed"`
	}
	if err := r.do(ctx, http.MethodPost, "/memories/"+url.PathEscape(id)+"/visit", nil, &resp, http.StatusOK); err != nil {
		return false, err
	}
	return resp.Committed, nil
}

func (r *RemoteBackend) Stats(ctx context.Context) (Totals, error) {
	var t Totals
	err := r.do(ctx, http.MethodGet, "/stats", nil, &t, http.StatusOK)
	return t, err
}

func (r *RemoteBackend) streamURL() (string, error) {
	u, err := url.Parse(r.base + "/memories/stream")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

// 文档注释：订阅服务端新增推送
// 约束：连接断开后通道关闭，不做重连；ctx 结束时主动关闭连接
func (r *RemoteBackend) Watch(ctx context.Context) (<-chan entry.Entry, error) {
	u, err := r.streamURL()
	if err != nil {
		return nil, err
	}
	conn, _, err := r.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan entry.Entry, 64)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()
	go func() {
		defer close(out)
		defer close(stop)
		defer conn.Close()
		for {
			var e entry.Entry
			if err := conn.ReadJSON(&e); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.L().Warn("remote_stream_read_error", "err", err)
				}
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
