package storage

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStorage(t *testing.T) *FileStorage {
	t.Helper()
	fs, err := NewFileStorage(t.TempDir(), "http://localhost:8080/files", []byte("test-signing-key"), zap.NewNop())
	require.NoError(t, err)
	return fs
}

func TestFileStorage_PutAndGet(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	url, err := fs.Put(ctx, "documents/ab/invoice.pdf", []byte("content"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/documents/ab/invoice.pdf", url)

	got, err := fs.Get(ctx, "documents/ab/invoice.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("content"), got)
}

func TestFileStorage_PutOverwrites(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	_, err := fs.Put(ctx, "documents/a.pdf", []byte("first"))
	require.NoError(t, err)
	_, err = fs.Put(ctx, "documents/a.pdf", []byte("second"))
	require.NoError(t, err)

	got, err := fs.Get(ctx, "documents/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), got)
}

func TestFileStorage_Exists(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	assert.False(t, fs.Exists(ctx, "documents/a.pdf"))

	_, err := fs.Put(ctx, "documents/a.pdf", []byte("x"))
	require.NoError(t, err)
	assert.True(t, fs.Exists(ctx, "documents/a.pdf"))
}

func TestFileStorage_Delete(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	_, err := fs.Put(ctx, "documents/a.pdf", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, fs.Delete(ctx, "documents/a.pdf"))
	assert.False(t, fs.Exists(ctx, "documents/a.pdf"))

	// Deleting a missing object is not an error
	assert.NoError(t, fs.Delete(ctx, "documents/a.pdf"))
}

func TestFileStorage_RejectsTraversal(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	for _, key := range []string{"../outside.txt", "/etc/passwd", "a/../../b", "."} {
		_, err := fs.Put(ctx, key, []byte("x"))
		assert.Error(t, err, "key %q should be rejected", key)
	}
}

func TestFileStorage_Presign(t *testing.T) {
	fs := newTestStorage(t)
	ctx := context.Background()

	_, err := fs.Put(ctx, "documents/a.pdf", []byte("x"))
	require.NoError(t, err)

	url, err := fs.Presign(ctx, "documents/a.pdf", time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "expires=")
	assert.Contains(t, url, "token=")

	// Pull the token and expiry back out of the URL and verify
	parts := strings.Split(url, "?")
	require.Len(t, parts, 2)
	var expires int64
	var token string
	for _, kv := range strings.Split(parts[1], "&") {
		pair := strings.SplitN(kv, "=", 2)
		require.Len(t, pair, 2)
		switch pair[0] {
		case "expires":
			var parseErr error
			expires, parseErr = strconv.ParseInt(pair[1], 10, 64)
			require.NoError(t, parseErr)
		case "token":
			token = pair[1]
		}
	}

	assert.True(t, fs.VerifyToken("documents/a.pdf", expires, token))
	assert.False(t, fs.VerifyToken("documents/other.pdf", expires, token))
	assert.False(t, fs.VerifyToken("documents/a.pdf", expires, "forged"))
}

func TestFileStorage_VerifyToken_Expired(t *testing.T) {
	fs := newTestStorage(t)

	expires := time.Now().Add(-time.Minute).Unix()
	token := fs.sign("documents/a.pdf", expires)
	assert.False(t, fs.VerifyToken("documents/a.pdf", expires, token))
}
