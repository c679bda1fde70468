package media

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig 描述 S3 兼容存储的位置与凭证。
type MinIOConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Folder    string
	// PublicURL 为空时使用 endpoint/bucket 拼接对象地址。
	PublicURL string
	// Client 非空时直接使用，便于注入自定义 transport。
	Client *minio.Client
}

// MinIO 把对象存储当作媒体托管：上下文写入用户元数据，标签写入对象标签。
type MinIO struct {
	client    *minio.Client
	bucket    string
	folder    string
	publicURL string
}

var _ Host = (*MinIO)(nil)

const metaResourceType = "resource-type"

// NewMinIO 创建客户端，不会立即连接服务端。
func NewMinIO(cfg MinIOConfig) (*MinIO, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("minio bucket required")
	}
	client := cfg.Client
	if client == nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("minio endpoint required")
		}
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create minio client: %w", err)
		}
	}
	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	if publicURL == "" {
		endpoint := client.EndpointURL()
		publicURL = strings.TrimRight(endpoint.String(), "/") + "/" + url.PathEscape(cfg.Bucket)
	}
	return &MinIO{
		client:    client,
		bucket:    cfg.Bucket,
		folder:    strings.Trim(cfg.Folder, "/"),
		publicURL: publicURL,
	}, nil
}

// Upload 以对象形式写入文件，Size 未知时传 -1 由客户端分片上传。
func (m *MinIO) Upload(ctx context.Context, in UploadInput) (*Asset, error) {
	if in.Body == nil {
		return nil, fmt.Errorf("upload body required")
	}
	resourceType := ResourceTypeFor(in.ContentType)
	key := m.objectKey(in.Filename)
	size := in.Size
	if size <= 0 {
		size = -1
	}

	meta := encodeMetadata(in.Context)
	meta[metaResourceType] = resourceType
	tags := make(map[string]string, len(in.Tags))
	for _, tag := range in.Tags {
		tags[tag] = "true"
	}

	info, err := m.client.PutObject(ctx, m.bucket, key, in.Body, size, minio.PutObjectOptions{
		ContentType:  in.ContentType,
		UserMetadata: meta,
		UserTags:     tags,
	})
	if err != nil {
		return nil, fmt.Errorf("minio upload %s: %w", key, err)
	}
	return &Asset{
		PublicID:     key,
		URL:          m.objectURL(key),
		ResourceType: resourceType,
		Context:      copyContext(in.Context),
		Tags:         append([]string(nil), in.Tags...),
		CreatedAt:    info.LastModified,
	}, nil
}

// ListByTag 列出目录下带指定标签的对象，按最后修改时间倒序，最多 max 条。
func (m *MinIO) ListByTag(ctx context.Context, tag string, max int) ([]Asset, error) {
	var assets []Asset
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:       m.prefix(),
		Recursive:    true,
		WithMetadata: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("minio list: %w", object.Err)
		}
		if _, ok := object.UserTags[tag]; !ok {
			continue
		}
		values := decodeMetadata(object.UserMetadata)
		resourceType := values[metaResourceType]
		delete(values, metaResourceType)
		if resourceType == "" {
			resourceType = ResourceTypeFor(object.ContentType)
		}
		tags := make([]string, 0, len(object.UserTags))
		for name := range object.UserTags {
			tags = append(tags, name)
		}
		sort.Strings(tags)
		assets = append(assets, Asset{
			PublicID:     object.Key,
			URL:          m.objectURL(object.Key),
			ResourceType: resourceType,
			Context:      values,
			Tags:         tags,
			CreatedAt:    object.LastModified,
		})
	}
	sort.SliceStable(assets, func(i, j int) bool {
		return assets[i].CreatedAt.After(assets[j].CreatedAt)
	})
	if max > 0 && len(assets) > max {
		assets = assets[:max]
	}
	return assets, nil
}

// UpdateContext 通过自拷贝替换用户元数据，已有字段被同名新值覆盖。
func (m *MinIO) UpdateContext(ctx context.Context, publicID, _ string, values map[string]string) error {
	info, err := m.client.StatObject(ctx, m.bucket, publicID, minio.StatObjectOptions{})
	if err != nil {
		return m.translate("stat", publicID, err)
	}
	merged := decodeMetadata(info.UserMetadata)
	for k, v := range values {
		merged[k] = v
	}
	meta := encodeMetadata(merged)

	src := minio.CopySrcOptions{Bucket: m.bucket, Object: publicID}
	dst := minio.CopyDestOptions{
		Bucket:          m.bucket,
		Object:          publicID,
		ReplaceMetadata: true,
		UserMetadata:    meta,
	}
	if _, err := m.client.CopyObject(ctx, dst, src); err != nil {
		return m.translate("update context", publicID, err)
	}
	return nil
}

// Destroy 删除对象；不存在时返回 ErrNotFound。
func (m *MinIO) Destroy(ctx context.Context, publicID, _ string) error {
	if _, err := m.client.StatObject(ctx, m.bucket, publicID, minio.StatObjectOptions{}); err != nil {
		return m.translate("stat", publicID, err)
	}
	if err := m.client.RemoveObject(ctx, m.bucket, publicID, minio.RemoveObjectOptions{}); err != nil {
		return m.translate("remove", publicID, err)
	}
	return nil
}

func (m *MinIO) translate(op, key string, err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return fmt.Errorf("minio %s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("minio %s %s: %w", op, key, err)
}

func (m *MinIO) prefix() string {
	if m.folder == "" {
		return ""
	}
	return m.folder + "/"
}

func (m *MinIO) objectKey(filename string) string {
	name := uuid.NewString()
	if base := baseName(filename); base != "" && base != "." {
		name += "-" + base
	}
	name += strings.ToLower(path.Ext(filename))
	return m.prefix() + name
}

func (m *MinIO) objectURL(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return m.publicURL + "/" + strings.Join(parts, "/")
}

// encodeMetadata 把上下文转为 S3 用户元数据：键中的下划线换成连字符，值做 URL 转义以保持 ASCII。
func encodeMetadata(values map[string]string) map[string]string {
	meta := make(map[string]string, len(values)+1)
	for k, v := range values {
		meta[strings.ReplaceAll(k, "_", "-")] = url.QueryEscape(v)
	}
	return meta
}

// decodeMetadata 是 encodeMetadata 的逆过程，兼容带 x-amz-meta- 前缀的键。
func decodeMetadata[M ~map[string]string](meta M) map[string]string {
	values := make(map[string]string, len(meta))
	for k, v := range meta {
		key := strings.ToLower(k)
		key = strings.TrimPrefix(key, "x-amz-meta-")
		if key == metaResourceType {
			values[key] = v
			continue
		}
		if decoded, err := url.QueryUnescape(v); err == nil {
			v = decoded
		}
		values[strings.ReplaceAll(key, "-", "_")] = v
	}
	return values
}

func copyContext(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
