package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverKey(t *testing.T) {
	assert.Equal(t, "covers/abc.png", CoverKey("abc", ".png"))
	assert.Equal(t, "covers/abc.jpg", CoverKey("abc", "jpg"))
	assert.Equal(t, "covers/abc", CoverKey("abc", ""))
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("http://covers.local")

	require.NoError(t, store.Put(ctx, "covers/a.png", strings.NewReader("png-bytes"), 9, "image/png"))
	data, contentType, ok := store.Object("covers/a.png")
	require.True(t, ok)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", contentType)

	url, err := store.PresignGet(ctx, "covers/a.png", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http://covers.local/covers/a.png?expires=900", url)

	require.NoError(t, store.Delete(ctx, "covers/a.png"))
	_, err = store.PresignGet(ctx, "covers/a.png", time.Minute)
	assert.Error(t, err)
}
