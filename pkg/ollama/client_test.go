package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("localhost")
	assert.Error(t, err)

	c, err := NewClient("http://localhost:11434/api/chat")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestQuery(t *testing.T) {
	imgBytes := []byte("fake-jpeg-bytes")
	var got map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"grounder","message":{"role":"assistant","content":"{\"objects\":[]}"},"done":true}`+"\n")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL + "/api/chat")
	require.NoError(t, err)

	out, err := c.Query(context.Background(), "grounder", "find people.", base64.StdEncoding.EncodeToString(imgBytes))
	require.NoError(t, err)
	assert.Equal(t, `{"objects":[]}`, out)

	assert.Equal(t, "grounder", got["model"])
	assert.Equal(t, "json", got["format"])
	assert.Equal(t, false, got["stream"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "find people.", msg["content"])
	images := msg["images"].([]any)
	require.Len(t, images, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(imgBytes), images[0])
}

func TestQueryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"model not loaded"}`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	_, err = c.Query(context.Background(), "grounder", "x", base64.StdEncoding.EncodeToString([]byte("a")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestQueryRejectsBadBase64(t *testing.T) {
	c, err := NewClient("http://127.0.0.1:1")
	require.NoError(t, err)
	_, err = c.Query(context.Background(), "m", "p", "%%%")
	assert.Error(t, err)
}
