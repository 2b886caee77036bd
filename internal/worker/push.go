package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/humble-halal/offline-hub/internal/logging"
)

// 推送通知缺省值。
const (
	DefaultNotificationTitle = "Humble Halal"
	DefaultNotificationBody  = "You have a new notification"
	DefaultNotificationURL   = "/"
	DefaultNotificationIcon  = "/icons/icon-192x192.png"
	DefaultNotificationBadge = "/icons/icon-72x72.png"
)

// NotificationAction 是通知上的按钮。
type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// Notification 是推送事件解码并补全缺省值后要展示的系统通知。
type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	URL     string               `json:"url"`
	Icon    string               `json:"icon"`
	Badge   string               `json:"badge"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// Notifier 负责把通知展示给用户。
type Notifier interface {
	Show(ctx context.Context, site string, n Notification) error
}

// LogNotifier 只把通知写入日志，适合没有推送通道的部署。
type LogNotifier struct {
	Logger *logrus.Logger
}

func (l LogNotifier) Show(_ context.Context, site string, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"action": "notification",
		"site":   site,
		"title":  n.Title,
		"url":    n.URL,
	}).Info("notification_shown")
	return nil
}

// Client 是一个受 worker 控制的页面。
type Client struct {
	ID      string `json:"id"`
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

// Clients 对应 worker 能看到的页面集合。
type Clients interface {
	List(ctx context.Context) ([]Client, error)
	Focus(ctx context.Context, id string) (Client, error)
	Open(ctx context.Context, rawURL string) (Client, error)
}

// MemoryClients 在进程内记录页面，Focus 会让其他页面失去焦点。
type MemoryClients struct {
	mu      sync.Mutex
	clients []Client
}

func NewMemoryClients(initial ...Client) *MemoryClients {
	return &MemoryClients{clients: append([]Client(nil), initial...)}
}

func (m *MemoryClients) List(ctx context.Context) ([]Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Client(nil), m.clients...), nil
}

func (m *MemoryClients) Focus(ctx context.Context, id string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return Client{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := -1
	for i := range m.clients {
		m.clients[i].Focused = m.clients[i].ID == id
		if m.clients[i].Focused {
			idx = i
		}
	}
	if idx < 0 {
		return Client{}, fmt.Errorf("client %s not found", id)
	}
	return m.clients[idx], nil
}

func (m *MemoryClients) Open(ctx context.Context, rawURL string) (Client, error) {
	if err := ctx.Err(); err != nil {
		return Client{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.clients {
		m.clients[i].Focused = false
	}
	client := Client{ID: uuid.NewString(), URL: rawURL, Focused: true}
	m.clients = append(m.clients, client)
	return client, nil
}

// DecodeNotification 解析推送负载；空或非法负载得到完全默认的通知。
func DecodeNotification(data []byte) Notification {
	var payload Notification
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &payload); err != nil {
			payload = Notification{}
		}
	}
	if payload.Title == "" {
		payload.Title = DefaultNotificationTitle
	}
	if payload.Body == "" {
		payload.Body = DefaultNotificationBody
	}
	if payload.URL == "" {
		payload.URL = DefaultNotificationURL
	}
	if payload.Icon == "" {
		payload.Icon = DefaultNotificationIcon
	}
	if payload.Badge == "" {
		payload.Badge = DefaultNotificationBadge
	}
	return payload
}

// OnPush 解码推送负载并通过 Notifier 展示。
func (w *CachingWorker) OnPush(ctx context.Context, data []byte) (Notification, error) {
	n := DecodeNotification(data)
	err := w.notifier.Show(ctx, w.site, n)
	w.metrics.observeLifecycle(w.site, "push", err)
	if err != nil {
		return n, fmt.Errorf("show notification: %w", err)
	}
	fields := logging.LifecycleFields(w.site, "push", w.State().String())
	fields["url"] = n.URL
	w.logger.WithFields(fields).Debug("push_handled")
	return n, nil
}

// ClickResult 描述通知点击的处理结果。
type ClickResult struct {
	// Action 为 closed、focused 或 opened。
	Action string  `json:"action"`
	Client *Client `json:"client,omitempty"`
}

// OnNotificationClick: dismiss/close 只关闭通知；否则聚焦 URL 匹配的页面，没有则打开新页面。
func (w *CachingWorker) OnNotificationClick(ctx context.Context, n Notification, action string) (ClickResult, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "dismiss", "close":
		return ClickResult{Action: "closed"}, nil
	}

	target := n.URL
	if target == "" {
		target = DefaultNotificationURL
	}
	targetURL, err := w.resolve(target)
	if err != nil {
		return ClickResult{}, fmt.Errorf("resolve notification url: %w", err)
	}

	clients, err := w.clients.List(ctx)
	if err != nil {
		return ClickResult{}, fmt.Errorf("list clients: %w", err)
	}
	for _, client := range clients {
		if samePage(client.URL, targetURL.URL) {
			focused, err := w.clients.Focus(ctx, client.ID)
			if err != nil {
				return ClickResult{}, fmt.Errorf("focus client: %w", err)
			}
			return ClickResult{Action: "focused", Client: &focused}, nil
		}
	}

	opened, err := w.clients.Open(ctx, targetURL.URL.String())
	if err != nil {
		return ClickResult{}, fmt.Errorf("open client: %w", err)
	}
	return ClickResult{Action: "opened", Client: &opened}, nil
}

// samePage 比较 path 与 query；页面与上游 origin 的 host 往往不同，因此忽略 host。
func samePage(raw string, target *url.URL) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	targetPath := target.EscapedPath()
	if targetPath == "" {
		targetPath = "/"
	}
	return path == targetPath && u.RawQuery == target.RawQuery
}
