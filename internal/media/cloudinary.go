package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// imageTransformation 让图片以自动质量与自动格式交付。
const imageTransformation = "q_auto,f_auto"

// CloudinaryConfig 是 Cloudinary 账户信息。APIBase 为空时使用 SDK 默认地址，
// 可带或不带 /v1_1 后缀。
type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	APIBase   string
	Folder    string
}

// Cloudinary 基于 cloudinary-go SDK：上传、销毁与上下文走签名的 Upload API，
// 按标签列举走 Basic 认证的 Admin API。
type Cloudinary struct {
	cfg CloudinaryConfig
	cld *cloudinary.Cloudinary
}

var _ Host = (*Cloudinary)(nil)

// NewCloudinary 创建客户端；client 非空时 Upload 与 Admin API 共用它的超时与 Transport。
func NewCloudinary(cfg CloudinaryConfig, client *http.Client) (*Cloudinary, error) {
	if strings.TrimSpace(cfg.CloudName) == "" {
		return nil, fmt.Errorf("cloudinary cloud name required")
	}
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	if prefix := uploadPrefix(cfg.APIBase); prefix != "" {
		cld.Config.API.UploadPrefix = prefix
		cld.Upload.Config.API.UploadPrefix = prefix
		cld.Admin.Config.API.UploadPrefix = prefix
	}
	if client != nil {
		cld.Upload.Client = *client
		cld.Admin.Client = *client
	}
	return &Cloudinary{cfg: cfg, cld: cld}, nil
}

// uploadPrefix 把配置里的 API 基址转换为 SDK 需要的前缀，SDK 自己拼接 /v1_1。
func uploadPrefix(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	return strings.TrimSuffix(base, "/v1_1")
}

// cloudinaryResource 是上传与列举结果中用到的字段。context 在不同接口里形状一致，
// 都是 {"custom": {...}}。
type cloudinaryResource struct {
	PublicID     string   `json:"public_id"`
	SecureURL    string   `json:"secure_url"`
	URL          string   `json:"url"`
	ResourceType string   `json:"resource_type"`
	CreatedAt    string   `json:"created_at"`
	Tags         []string `json:"tags"`
	Context      struct {
		Custom map[string]string `json:"custom"`
	} `json:"context"`
}

// decodeResource 经 JSON 把 SDK 结果转换为 cloudinaryResource。
func decodeResource(result any) (cloudinaryResource, error) {
	var resource cloudinaryResource
	raw, err := json.Marshal(result)
	if err != nil {
		return resource, err
	}
	err = json.Unmarshal(raw, &resource)
	return resource, err
}

func (r cloudinaryResource) asset() Asset {
	link := r.SecureURL
	if link == "" {
		link = r.URL
	}
	created, _ := time.Parse(time.RFC3339, r.CreatedAt)
	values := make(map[string]string, len(r.Context.Custom))
	for k, v := range r.Context.Custom {
		values[k] = v
	}
	return Asset{
		PublicID:     r.PublicID,
		URL:          link,
		ResourceType: r.ResourceType,
		Context:      values,
		Tags:         r.Tags,
		CreatedAt:    created,
	}
}

// Upload 上传文件到配置的 Folder；图片附带自动质量与格式转换，视频原样保存。
func (c *Cloudinary) Upload(ctx context.Context, in UploadInput) (*Asset, error) {
	if !c.signed() {
		return nil, ErrNotConfigured
	}
	if in.Body == nil {
		return nil, fmt.Errorf("upload body required")
	}
	resourceType := ResourceTypeFor(in.ContentType)
	params := uploader.UploadParams{
		Folder:       c.cfg.Folder,
		Context:      in.Context,
		Tags:         in.Tags,
		ResourceType: resourceType,
	}
	if resourceType == ResourceImage {
		params.Transformation = imageTransformation
	}

	result, err := c.cld.Upload.Upload(ctx, in.Body, params)
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: %w", err)
	}
	if err := apiError("upload", result.Error); err != nil {
		return nil, err
	}
	resource, err := decodeResource(result)
	if err != nil {
		return nil, fmt.Errorf("cloudinary upload: decode response: %w", err)
	}
	asset := resource.asset()
	if asset.ResourceType == "" {
		asset.ResourceType = resourceType
	}
	if len(asset.Context) == 0 && len(in.Context) > 0 {
		asset.Context = copyContext(in.Context)
	}
	return &asset, nil
}

// ListByTag 使用 Admin API 列出带指定标签的图片，最多 max 条并附带上下文。
func (c *Cloudinary) ListByTag(ctx context.Context, tag string, max int) ([]Asset, error) {
	if !c.signed() {
		return nil, ErrNotConfigured
	}
	result, err := c.cld.Admin.AssetsByTag(ctx, admin.AssetsByTagParams{
		AssetType:  api.AssetType(ResourceImage),
		Tag:        tag,
		Context:    api.Bool(true),
		Tags:       api.Bool(true),
		MaxResults: max,
	})
	if err != nil {
		return nil, fmt.Errorf("cloudinary list: %w", err)
	}
	if err := apiError("list", result.Error); err != nil {
		return nil, err
	}

	assets := make([]Asset, 0, len(result.Assets))
	for _, item := range result.Assets {
		resource, err := decodeResource(item)
		if err != nil {
			return nil, fmt.Errorf("cloudinary list: decode asset: %w", err)
		}
		assets = append(assets, resource.asset())
	}
	if max > 0 && len(assets) > max {
		assets = assets[:max]
	}
	return assets, nil
}

// UpdateContext 覆盖资源上的同名上下文字段。
func (c *Cloudinary) UpdateContext(ctx context.Context, publicID, resourceType string, values map[string]string) error {
	if !c.signed() {
		return ErrNotConfigured
	}
	result, err := c.cld.Upload.AddContext(ctx, uploader.AddContextParams{
		Context:      values,
		PublicIDs:    []string{publicID},
		ResourceType: orImage(resourceType),
	})
	if err != nil {
		return fmt.Errorf("cloudinary context: %w", err)
	}
	return apiError("context", result.Error)
}

// Destroy 删除资源并失效 CDN 缓存；托管服务返回 not found 时映射为 ErrNotFound。
func (c *Cloudinary) Destroy(ctx context.Context, publicID, resourceType string) error {
	if !c.signed() {
		return ErrNotConfigured
	}
	result, err := c.cld.Upload.Destroy(ctx, uploader.DestroyParams{
		PublicID:     publicID,
		ResourceType: orImage(resourceType),
		Invalidate:   api.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("cloudinary destroy: %w", err)
	}
	if err := apiError("destroy", result.Error); err != nil {
		return err
	}
	if result.Result == "not found" {
		return fmt.Errorf("%s: %w", publicID, ErrNotFound)
	}
	return nil
}

// apiError 把 SDK 结果中的 error.message 转为 error；SDK 对 4xx/5xx 不返回 err。
func apiError(action string, resp api.ErrorResp) error {
	if resp.Message == "" {
		return nil
	}
	if strings.Contains(strings.ToLower(resp.Message), "not found") {
		return fmt.Errorf("cloudinary %s: %s: %w", action, resp.Message, ErrNotFound)
	}
	return fmt.Errorf("cloudinary %s: %s", action, resp.Message)
}

func orImage(resourceType string) string {
	if resourceType == "" {
		return ResourceImage
	}
	return resourceType
}

func (c *Cloudinary) signed() bool {
	return c.cfg.APIKey != "" && c.cfg.APISecret != ""
}
