package llamacpp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	tests := []struct {
		name     string
		response string
		status   int
		want     string
		wantErr  bool
	}{
		{
			name:     "string content",
			response: `{"choices":[{"index":0,"message":{"role":"assistant","content":"{\"objects\":[]}"}}]}`,
			status:   http.StatusOK,
			want:     `{"objects":[]}`,
		},
		{
			name:     "array content",
			response: `{"choices":[{"index":0,"message":{"role":"assistant","content":[{"type":"text","text":"hello"}]}}]}`,
			status:   http.StatusOK,
			want:     "hello",
		},
		{
			name:     "no choices",
			response: `{"choices":[]}`,
			status:   http.StatusOK,
			wantErr:  true,
		},
		{
			name:     "empty content",
			response: `{"choices":[{"index":0,"message":{"role":"assistant","content":""}}]}`,
			status:   http.StatusOK,
			wantErr:  true,
		},
		{
			name:     "server error",
			response: `boom`,
			status:   http.StatusBadGateway,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ChatCompletionRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/chat/completions", r.URL.Path)
				body, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(body, &req)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			c, err := NewClient(srv.URL + "/")
			require.NoError(t, err)

			got, err := c.Query(context.Background(), "grounder", "find car.", "QUJD")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			assert.Equal(t, "grounder", req.Model)
			require.NotNil(t, req.ResponseFormat)
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
			parts, ok := req.Messages[0].Content.([]interface{})
			require.True(t, ok)
			require.Len(t, parts, 2)
			img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
			assert.Equal(t, "data:image/jpeg;base64,QUJD", img["url"])
		})
	}
}

func TestNewClientDefaultURL(t *testing.T) {
	c, err := NewClient("")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", c.baseURL)
}

func TestDataURLSniffsImageType(t *testing.T) {
	png := base64.StdEncoding.EncodeToString([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	assert.True(t, strings.HasPrefix(dataURL(png), "data:image/png;base64,"))

	jpeg := base64.StdEncoding.EncodeToString([]byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00"))
	assert.True(t, strings.HasPrefix(dataURL(jpeg), "data:image/jpeg;base64,"))

	assert.Equal(t, "data:image/jpeg;base64,QUJD", dataURL("QUJD"))
	assert.Equal(t, "data:image/jpeg;base64,!!", dataURL("!!"))
}
