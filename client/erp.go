// Package client 封装与外部 ERP（OData 协议）的交互。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

//go:generate mockgen -destination=../mocks/mock_erp.go -package=mocks github.com/mengeric/finsync/client ERP

// ERP 定义对 ERP OData 接口的访问，便于 gomock 打桩。
type ERP interface {
	// Count 返回实体在过滤条件下的记录数。
	Count(ctx context.Context, entity, filter string) (int, error)
	// Fetch 分页读取记录。
	Fetch(ctx context.Context, entity, filter string, skip, top int) ([]Record, error)
}

// Config HTTP 客户端参数。
type Config struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// httpERP 实现 ERP。
type httpERP struct {
	base string
	user string
	pass string
	hc   *http.Client
}

// maxErrBody 错误响应体保留的最大字节数。
const maxErrBody = 512

const bom = "\ufeff"

// NewHTTPERP 构造 HTTP 实现，Timeout<=0 时使用 60s。
func NewHTTPERP(cfg Config) ERP {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &httpERP{
		base: strings.TrimRight(cfg.BaseURL, "/"),
		user: cfg.Username,
		pass: cfg.Password,
		hc:   &http.Client{Timeout: cfg.Timeout},
	}
}

// Count 请求 {base}/{entity}/$count。
// 返回：记录数；响应体为纯文本数字（可能带 BOM）。
func (h *httpERP) Count(ctx context.Context, entity, filter string) (int, error) {
	u := h.base + "/" + url.PathEscape(entity) + "/$count"
	if filter != "" {
		u += "?$filter=" + escapeFilter(filter)
	}
	body, err := h.get(ctx, u)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(strings.TrimPrefix(string(body), bom))
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("count %s: unexpected body %q", entity, text)
	}
	return n, nil
}

// Fetch 请求 {base}/{entity}?$format=json&$skip=&$top=&$filter=，返回 value 数组。
// 数值保持为 json.Number，由调用方决定精度。
func (h *httpERP) Fetch(ctx context.Context, entity, filter string, skip, top int) ([]Record, error) {
	u := fmt.Sprintf("%s/%s?$format=json&$skip=%d&$top=%d", h.base, url.PathEscape(entity), skip, top)
	if filter != "" {
		u += "&$filter=" + escapeFilter(filter)
	}
	body, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var p page
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(body, []byte(bom))))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode %s page: %w", entity, err)
	}
	return p.Value, nil
}

// get 执行带 Basic 认证的 GET 请求并读取响应体。
func (h *httpERP) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if h.user != "" {
		req.SetBasicAuth(h.user, h.pass)
	}
	req.Header.Set("Accept", "application/json")
	res, err := h.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, maxErrBody))
		return nil, &StatusError{Method: http.MethodGet, URL: u, Code: res.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return io.ReadAll(res.Body)
}

// escapeFilter 按查询串转义，空格编码为 %20。
func escapeFilter(f string) string { return strings.ReplaceAll(url.QueryEscape(f), "+", "%20") }
