package server

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, 201, map[string]string{"foo": "bar"})

	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bar", body["foo"])
}

func TestProcessStats_ReturnsNonNegativeValues(t *testing.T) {
	cpuPercent, memPercent := processStats(zerolog.Nop())
	assert.GreaterOrEqual(t, cpuPercent, 0.0)
	assert.GreaterOrEqual(t, memPercent, 0.0)
}
