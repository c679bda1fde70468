// Package media 封装照片与视频的托管服务：上传、按标签列举、更新上下文与删除。
package media

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// 资源类型，与托管服务的 resource_type 对应。
const (
	ResourceImage = "image"
	ResourceVideo = "video"
)

// 上下文字段，journal 后端用它们保存标题、上传者与行程天数。
const (
	ContextCaption    = "caption"
	ContextUploadedBy = "uploaded_by"
	ContextDayNumber  = "day_number"
)

var (
	// ErrNotFound 表示托管服务中不存在对应资源。
	ErrNotFound = errors.New("media asset not found")
	// ErrNotConfigured 表示缺少调用托管服务所需的凭证。
	ErrNotConfigured = errors.New("media host not configured")
)

// Asset 是托管服务上的一个资源。
type Asset struct {
	PublicID     string
	URL          string
	ResourceType string
	Context      map[string]string
	Tags         []string
	CreatedAt    time.Time
}

// UploadInput 描述一次上传；Body 只读取一次。
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
	Context     map[string]string
	Tags        []string
}

// Host 是媒体托管服务的最小能力集合。
type Host interface {
	Upload(ctx context.Context, in UploadInput) (*Asset, error)
	ListByTag(ctx context.Context, tag string, max int) ([]Asset, error)
	UpdateContext(ctx context.Context, publicID, resourceType string, values map[string]string) error
	Destroy(ctx context.Context, publicID, resourceType string) error
}

// ResourceTypeFor 按 MIME 类型决定资源类型：video/* 为 video，其余为 image。
func ResourceTypeFor(contentType string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "video/") {
		return ResourceVideo
	}
	return ResourceImage
}

// baseName 去掉扩展名，得到上传文件的基础名。
func baseName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	return strings.TrimSuffix(name, path.Ext(name))
}
