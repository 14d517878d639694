package e2e

import (
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castdeck/api/internal/model"
)

func TestDiagnosticsCommands(t *testing.T) {
	ta := setupApp(t, model.SequencePolicyLastWriterWins)
	ta.provision(t, "ch-1", 1)

	for _, typ := range []string{"clear_all", "clear_all"} {
		resp := ta.doAuthRequest(t, "POST", "/api/channels/ch-1/commands", map[string]interface{}{"type": typ})
		assertStatus(t, resp, fiber.StatusCreated)
		_ = readBody(t, resp)
	}

	var body struct {
		Commands []model.CommandLogEntry `json:"commands"`
	}
	require.Eventually(t, func() bool {
		resp := ta.doAuthRequest(t, "GET", "/api/diagnostics/channels/ch-1/commands", nil)
		if resp.StatusCode != fiber.StatusOK {
			return false
		}
		parseJSON(t, resp, &body)
		return len(body.Commands) == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(2), body.Commands[0].CommandSequence)
	assert.Equal(t, "op-1", body.Commands[0].OperatorID)

	resp := ta.doAuthRequest(t, "GET", "/api/diagnostics/channels/ch-1/commands?limit=1", nil)
	assertStatus(t, resp, fiber.StatusOK)
	parseJSON(t, resp, &body)
	require.Len(t, body.Commands, 1)
	assert.Equal(t, int64(2), body.Commands[0].CommandSequence)

	resp = ta.doAuthRequest(t, "GET", "/api/diagnostics/channels/other/commands", nil)
	assertStatus(t, resp, fiber.StatusOK)
	parseJSON(t, resp, &body)
	assert.Empty(t, body.Commands)
	assert.NotNil(t, body.Commands)

	assertError(t, ta.doAuthRequest(t, "GET", "/api/diagnostics/channels/ch-1/commands?limit=9999", nil),
		fiber.StatusBadRequest, "VALIDATION_ERROR")
}
