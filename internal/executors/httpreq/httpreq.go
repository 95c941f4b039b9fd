// Package httpreq implements the "http" request type: one HTTP call per task,
// described entirely by task parameters.
//
// Recognised parameters:
//
//	url      request URL (required)
//	method   HTTP method, default GET
//	body     request body
//	headers  map of header values
//	expect   required status code, default any 2xx
//	save     parameter name the trimmed response body is stored under
//
// String parameters may reference sibling tasks with ${taskID.param} and the
// run environment with ${env.key}.
package httpreq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"autodaily/internal/task"
	"autodaily/internal/task/executor"
	logx "autodaily/pkg/logx"
)

// ReqType is the request-type tag this executor registers under.
const ReqType = "http"

var (
	ErrNoURL = errors.New("httpreq: url parameter is required")

	placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_\-]+)\.([A-Za-z0-9_\-]+)\}`)
)

type Config struct {
	Timeout   time.Duration
	UserAgent string
}

type Executor struct {
	http *resty.Client
	log  logx.Logger
	now  func() time.Time
}

func New(cfg Config, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	hc := resty.New()
	if cfg.Timeout > 0 {
		hc.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		hc.SetHeader("User-Agent", cfg.UserAgent)
	}
	return &Executor{http: hc, log: log, now: time.Now}
}

// WithClock overrides the clock used for lastExecTime stamps.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	if now != nil {
		e.now = now
	}
	return e
}

func (e *Executor) Execute(ctx context.Context, req executor.Request) error {
	t := req.Task
	raw, ok := t.Param("url")
	if !ok || strings.TrimSpace(raw) == "" {
		return ErrNoURL
	}
	url := expand(raw, req)

	method := http.MethodGet
	if m, ok := t.Param("method"); ok && strings.TrimSpace(m) != "" {
		method = strings.ToUpper(strings.TrimSpace(m))
	}

	expect := 0
	if want, ok := t.Param("expect"); ok && strings.TrimSpace(want) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(want))
		if err != nil || n < 100 || n > 599 {
			return fmt.Errorf("httpreq: task %s: invalid expect %q", t.ID, want)
		}
		expect = n
	}

	r := e.http.R().SetContext(ctx)
	if hs, ok := t.Params["headers"].(map[string]any); ok {
		for k, v := range hs {
			r.SetHeader(k, expand(fmt.Sprint(v), req))
		}
	}
	if body, ok := t.Param("body"); ok {
		r.SetBody(expand(body, req))
	}

	resp, err := r.Execute(method, url)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s %s: %w", method, url, ctx.Err())
		}
		return fmt.Errorf("%s %s: %w", method, url, err)
	}

	code := resp.StatusCode()
	if expect != 0 {
		if code != expect {
			return fmt.Errorf("%s %s: status %d, want %d", method, url, code, expect)
		}
	} else if code < 200 || code > 299 {
		err := fmt.Errorf("%s %s: status %d", method, url, code)
		if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable {
			return executor.Transient(err)
		}
		return err
	}

	if key, ok := t.Param("save"); ok && key != "" {
		t.SetParam(key, strings.TrimSpace(resp.String()))
	}
	t.SetLastExecTime(e.now())
	e.log.Debug("http task done", logx.String("task", t.ID), logx.String("method", method), logx.Int("status", code))
	return nil
}

// expand resolves ${id.key} against the relay and ${env.key} against the
// run environment. Unknown references are left as written.
func expand(s string, req executor.Request) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		sub := placeholder.FindStringSubmatch(m)
		id, key := sub[1], sub[2]
		if id == "env" {
			if v, ok := req.Env[key]; ok && v != nil {
				return fmt.Sprint(v)
			}
			return m
		}
		var src *task.Task
		if req.Relay != nil {
			src = req.Relay[id]
		}
		if v, ok := src.Param(key); ok {
			return v
		}
		return m
	})
}
