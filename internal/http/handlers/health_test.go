package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediasift/mediasift/internal/testutil"
)

func TestHealthHandler_GetHealth(t *testing.T) {
	handler := NewHealthHandler("test-version")

	resp, err := handler.GetHealth(testutil.Ctx(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Body.Status)
	assert.Equal(t, "test-version", resp.Body.Version)
	assert.Greater(t, resp.Body.CPU.Cores, 0)
	assert.NotNil(t, resp.Body.Engines)
}

func TestHealthHandler_GetHealthWithDB(t *testing.T) {
	db := testutil.NewDB(t)
	handler := NewHealthHandler("test-version").WithDB(db)

	resp, err := handler.GetHealth(testutil.Ctx(), &HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "healthy", resp.Body.Status)
	assert.Equal(t, "ok", resp.Body.Database.Status)
}
