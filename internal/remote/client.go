// Package remote talks to the update endpoints: the notice, the version list
// and the configuration download.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	logx "autodaily/pkg/logx"
)

// ErrThrottled is returned by FetchNotice when called more often than
// Config.MinInterval allows.
var ErrThrottled = errors.New("remote: notice fetch throttled")

type Config struct {
	NoticeURL   string `json:"notice_url"`
	VersionsURL string `json:"versions_url"`
	// DownloadURLTemplate builds a version download URL; "{version}" is
	// replaced with the tag.
	DownloadURLTemplate string        `json:"download_url_template"`
	MinInterval         time.Duration `json:"fetch_min_interval"`
	Timeout             time.Duration `json:"timeout"`
	UserAgent           string        `json:"user_agent"`
}

// Notice is the update advisory published by the notice endpoint.
type Notice struct {
	AppVersion    int    `json:"appVersion"`
	ConfVersion   int    `json:"confVersion"`
	MinAppVersion int    `json:"minAppVersion"`
	ConfURL       string `json:"confUrl"`
	Message       string `json:"notice,omitempty"`
}

type Client struct {
	http    *resty.Client
	cfg     Config
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	hc := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		hc.SetHeader("User-Agent", cfg.UserAgent)
	}
	c := &Client{http: hc, cfg: cfg, log: log}
	if cfg.MinInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}
	return c
}

func (c *Client) Config() Config { return c.cfg }

// FetchNotice reads the notice endpoint. The body is either the notice
// itself or an envelope carrying it under "data".
func (c *Client) FetchNotice(ctx context.Context) (*Notice, error) {
	if c.cfg.NoticeURL == "" {
		return nil, errors.New("remote: notice url not configured")
	}
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, ErrThrottled
	}
	body, err := c.get(ctx, c.cfg.NoticeURL)
	if err != nil {
		return nil, err
	}
	var env struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("remote: decode notice: %w", err)
	}
	raw := json.RawMessage(body)
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if env.Code != 0 {
			return nil, fmt.Errorf("remote: notice code %d: %s", env.Code, env.Msg)
		}
		raw = env.Data
	}
	var n Notice
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("remote: decode notice: %w", err)
	}
	c.log.Debug("notice fetched", logx.Int("app_version", n.AppVersion), logx.Int("conf_version", n.ConfVersion))
	return &n, nil
}

// FetchVersions returns the published config tags, newest first. Tags that
// are not integers are dropped.
func (c *Client) FetchVersions(ctx context.Context) ([]int, error) {
	if c.cfg.VersionsURL == "" {
		return nil, errors.New("remote: versions url not configured")
	}
	body, err := c.get(ctx, c.cfg.VersionsURL)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("remote: decode versions: %w", err)
	}
	out := make([]int, 0, len(doc.Versions))
	for _, s := range doc.Versions {
		v, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(s), "v"))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// Download fetches a config blob from url.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("remote: empty download url")
	}
	return c.get(ctx, url)
}

// DownloadVersion fetches the blob published under tag v.
func (c *Client) DownloadVersion(ctx context.Context, v int) ([]byte, error) {
	if c.cfg.DownloadURLTemplate == "" {
		return nil, errors.New("remote: download url template not configured")
	}
	return c.Download(ctx, strings.ReplaceAll(c.cfg.DownloadURLTemplate, "{version}", strconv.Itoa(v)))
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("remote: GET %s: %w", url, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("remote: GET %s: status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}
