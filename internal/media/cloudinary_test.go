package media

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestCloudinary(t *testing.T, handler http.HandlerFunc) *Cloudinary {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewCloudinary(CloudinaryConfig{
		CloudName: "donnelly",
		APIKey:    "key",
		APISecret: "secret",
		APIBase:   srv.URL + "/v1_1",
		Folder:    "donnelly-adventures",
	}, srv.Client())
	require.NoError(t, err)
	return c
}

func TestUploadPrefixStripsVersionSuffix(t *testing.T) {
	require.Equal(t, "https://api.cloudinary.com", uploadPrefix("https://api.cloudinary.com/v1_1/"))
	require.Equal(t, "http://127.0.0.1:9000", uploadPrefix("http://127.0.0.1:9000"))
	require.Empty(t, uploadPrefix(""))
}

func TestCloudinaryUploadSendsSignedMultipart(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1_1/donnelly/video/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		require.Equal(t, "donnelly-adventures", r.FormValue("folder"))
		require.Equal(t, "key", r.FormValue("api_key"))
		require.NotEmpty(t, r.FormValue("signature"))
		require.NotEmpty(t, r.FormValue("timestamp"))
		require.Contains(t, r.FormValue("tags"), "california2026")
		require.Contains(t, r.FormValue("context"), "caption=Big Sur")
		require.Empty(t, r.FormValue("transformation"), "视频不做转换")

		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		body, _ := io.ReadAll(file)
		require.Equal(t, "movie-bytes", string(body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"public_id":"donnelly-adventures/clip","secure_url":"https://res.test/clip.mov","resource_type":"video","created_at":"2026-03-01T10:00:00Z"}`)
	})

	asset, err := c.Upload(context.Background(), UploadInput{
		Filename:    "clip.mov",
		ContentType: "video/quicktime",
		Body:        strings.NewReader("movie-bytes"),
		Context:     map[string]string{ContextCaption: "Big Sur"},
		Tags:        []string{"california2026"},
	})
	require.NoError(t, err)
	require.Equal(t, "donnelly-adventures/clip", asset.PublicID)
	require.Equal(t, "https://res.test/clip.mov", asset.URL)
	require.Equal(t, ResourceVideo, asset.ResourceType)
	require.Equal(t, "Big Sur", asset.Context[ContextCaption])
	require.Equal(t, 2026, asset.CreatedAt.Year())
}

func TestCloudinaryImageUploadRequestsAutoQualityAndFormat(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1_1/donnelly/image/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "q_auto,f_auto", r.FormValue("transformation"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"public_id":"donnelly-adventures/beach","secure_url":"https://res.test/beach.jpg","resource_type":"image","created_at":"2026-03-01T10:00:00Z"}`)
	})

	asset, err := c.Upload(context.Background(), UploadInput{
		Filename:    "beach.jpg",
		ContentType: "image/jpeg",
		Body:        strings.NewReader("jpeg-bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, ResourceImage, asset.ResourceType)
}

func TestCloudinaryListByTagUsesBasicAuth(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "key", user)
		require.Equal(t, "secret", pass)
		require.Equal(t, "/v1_1/donnelly/resources/image/tags/california2026", r.URL.Path)
		require.Equal(t, "100", r.URL.Query().Get("max_results"))
		_, _ = io.WriteString(w, `{"resources":[
			{"public_id":"p1","secure_url":"https://res.test/p1.jpg","resource_type":"image","created_at":"2026-03-02T08:00:00Z","context":{"custom":{"caption":"Yosemite","uploaded_by":"Dad","day_number":"3"}}},
			{"public_id":"p2","url":"http://res.test/p2.jpg","resource_type":"image","created_at":"2026-03-01T08:00:00Z"}
		]}`)
	})

	assets, err := c.ListByTag(context.Background(), "california2026", 100)
	require.NoError(t, err)
	require.Len(t, assets, 2)
	require.Equal(t, "Yosemite", assets[0].Context[ContextCaption])
	require.Equal(t, "3", assets[0].Context[ContextDayNumber])
	require.Equal(t, "http://res.test/p2.jpg", assets[1].URL, "secure_url 缺失时回退 url")
	require.Empty(t, assets[1].Context)
}

func TestCloudinaryDestroyMapsNotFound(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1_1/donnelly/image/destroy", r.URL.Path)
		require.Equal(t, "gone", r.FormValue("public_id"))
		require.NotEmpty(t, r.FormValue("signature"))
		_, _ = io.WriteString(w, `{"result":"not found"}`)
	})

	err := c.Destroy(context.Background(), "gone", ResourceImage)
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestCloudinaryUpdateContext(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1_1/donnelly/image/context", r.URL.Path)
		require.Equal(t, "add", r.FormValue("command"))
		require.Contains(t, r.FormValue("context"), "caption=Golden Gate")
		_, _ = io.WriteString(w, `{"public_ids":["p1"]}`)
	})

	require.NoError(t, c.UpdateContext(context.Background(), "p1", ResourceImage, map[string]string{ContextCaption: "Golden Gate"}))
}

func TestCloudinaryReportsAPIErrors(t *testing.T) {
	c := newTestCloudinary(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid Signature"}}`)
	})

	err := c.UpdateContext(context.Background(), "p1", "", map[string]string{ContextCaption: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Invalid Signature")
}

func TestCloudinaryRequiresCredentials(t *testing.T) {
	c, err := NewCloudinary(CloudinaryConfig{CloudName: "donnelly"}, nil)
	require.NoError(t, err)
	_, err = c.Upload(context.Background(), UploadInput{Body: strings.NewReader("x")})
	require.True(t, errors.Is(err, ErrNotConfigured))
	_, err = c.ListByTag(context.Background(), "california2026", 10)
	require.True(t, errors.Is(err, ErrNotConfigured))
}
