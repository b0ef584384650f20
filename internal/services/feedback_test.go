package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ldc-construction/ldc-tools/internal/db/models"
)

var gifBytes = append([]byte("GIF89a"), bytes.Repeat([]byte{1}, 32)...)

func TestDecodeScreenshot(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString(gifBytes)

	shot, err := decodeScreenshot("data:image/gif;base64," + raw)
	require.NoError(t, err)
	assert.Equal(t, "image/gif", shot.mime)
	assert.Equal(t, gifBytes, shot.data)

	shot, err = decodeScreenshot("  " + raw + "\n")
	require.NoError(t, err)
	assert.Equal(t, "image/gif", shot.mime)

	// the declared data URL type is ignored in favour of the content
	_, err = decodeScreenshot("data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("<html></html>")))
	assert.True(t, IsValidation(err))

	big := append([]byte("GIF89a"), make([]byte, MaxScreenshotBytes)...)
	_, err = decodeScreenshot(base64.StdEncoding.EncodeToString(big))
	require.Error(t, err)
	assert.Equal(t, "Screenshots must be at most 5 MB", err.Error())
}

func TestFeedbackSubmit_ScreenshotsNeedStorage(t *testing.T) {
	db, _ := newMockDB(t)
	svc := NewFeedbackService(db, nil, nil)

	_, err := svc.Submit(context.Background(), &models.User{ID: "u-1"}, FeedbackInput{
		Type: "bug", Title: "t", Description: "d",
		Screenshots: []string{base64.StdEncoding.EncodeToString(gifBytes)},
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Equal(t, "Screenshot uploads are not available", err.Error())
}
