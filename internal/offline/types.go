package offline

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Destination 对应请求的目标类型提示（image/document/script...），空值表示未知。
type Destination string

const (
	DestinationNone     Destination = ""
	DestinationDocument Destination = "document"
	DestinationImage    Destination = "image"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
)

// Mode 描述请求模式，navigate 表示用户正在加载顶层页面。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
	ModeSameOrigin Mode = "same-origin"
)

// Request 是拦截层看到的请求描述。
type Request struct {
	Method      string
	URL         *url.URL
	Header      http.Header
	Body        []byte
	Destination Destination
	Mode        Mode
}

// NewRequest 解析 rawURL 并构造 Request，method 为空时视为 GET。
func NewRequest(method, rawURL string) (*Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse request url: %w", err)
	}
	if method == "" {
		method = http.MethodGet
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    parsed,
		Header: http.Header{},
	}, nil
}

// Key 返回缓存键：METHOD + 空格 + 去掉 fragment 的 URL。
func (r *Request) Key() string {
	if r == nil || r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return strings.ToUpper(r.method()) + " " + u.String()
}

// IsNavigation 表示请求是否为顶层页面加载。
func (r *Request) IsNavigation() bool {
	return r != nil && r.Mode == ModeNavigate
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

// Response 是缓存与网络之间传递的响应快照。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK 对应 2xx 状态。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Clone 深拷贝响应，写入缓存与返回调用方的副本互不影响。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	clone := &Response{
		Status: r.Status,
		Header: r.Header.Clone(),
	}
	if clone.Header == nil {
		clone.Header = http.Header{}
	}
	if r.Body != nil {
		clone.Body = append([]byte(nil), r.Body...)
	}
	return clone
}

// syntheticResponse 构造无正文的合成响应（离线占位、服务不可用等）。
func syntheticResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// Entry 是批量写入时的一条请求/响应对。
type Entry struct {
	Request  *Request
	Response *Response
}
