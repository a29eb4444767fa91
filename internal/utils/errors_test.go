package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, http.StatusForbidden, "insufficient permissions to control playback")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Forbidden", body.Error)
	assert.Equal(t, "insufficient permissions to control playback", body.Message)
	assert.Equal(t, http.StatusForbidden, body.Code)
}

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusOK, map[string]int{"sync_version": 7})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sync_version":7}`, rec.Body.String())
}
