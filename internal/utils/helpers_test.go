package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/senyabanana/procurement-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 10, 30, 0, 123, time.UTC)
	encoded := EncodeCursor(Cursor{CreatedAt: createdAt, ID: "b1c2"})

	decoded, err := ParseCursor(encoded)
	require.NoError(t, err)
	assert.True(t, decoded.CreatedAt.Equal(createdAt))
	assert.Equal(t, "b1c2", decoded.ID)

	empty, err := ParseCursor("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseCursor("not-base64!!")
	assert.True(t, models.IsKind(err, models.ValidationError))
}

func TestCursorBefore(t *testing.T) {
	now := time.Now()
	c := &Cursor{CreatedAt: now, ID: "m"}

	assert.True(t, c.Before(now.Add(-time.Second), "z"))
	assert.False(t, c.Before(now.Add(time.Second), "a"))
	assert.True(t, c.Before(now, "a"))
	assert.False(t, c.Before(now, "m"))

	var nilCursor *Cursor
	assert.True(t, nilCursor.Before(now, "a"))
}

func TestParseLimit(t *testing.T) {
	limit, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, limit)

	limit, err = ParseLimit("7")
	require.NoError(t, err)
	assert.Equal(t, 7, limit)

	for _, bad := range []string{"0", "-1", "abc", "101"} {
		_, err := ParseLimit(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, MaxLimit, NormalizeLimit(1000))
	assert.Equal(t, DefaultLimit, NormalizeLimit(0))
}

func TestSendErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, SendErrorResponse(rec, models.NewPermissionError("not your order")))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "permission", body["kind"])
	assert.Equal(t, "not your order", body["reason"])

	rec = httptest.NewRecorder()
	require.NoError(t, SendErrorResponse(rec, assert.AnError))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
