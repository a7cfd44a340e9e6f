package config

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSession() Session {
	c := SessionFromEnv()
	c.ServerURL = "wss://relay.example.com"
	c.Name = "Alice"
	return c
}

func TestValidSessionConfig(t *testing.T) {
	c := validSession()
	assert.NoError(t, c.Validate(false))
}

func TestServerURLRequired(t *testing.T) {
	c := validSession()
	c.ServerURL = ""
	err := c.Validate(false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server is required")
}

func TestServerURLScheme(t *testing.T) {
	c := validSession()
	c.ServerURL = "https://relay.example.com"
	assert.Error(t, c.Validate(false))
}

func TestNameValidated(t *testing.T) {
	c := validSession()
	c.Name = ""
	assert.Error(t, c.Validate(false))

	c.Name = string(make([]byte, 51))
	assert.Error(t, c.Validate(false))
}

func TestJoinRequiresSessionID(t *testing.T) {
	c := validSession()
	err := c.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--session-id is required")

	c.SessionID = uuid.New()
	assert.NoError(t, c.Validate(true))
}

func TestTurnCredentialsTravelTogether(t *testing.T) {
	c := validSession()
	c.TurnServer = "turn:turn.example.com"
	assert.Error(t, c.Validate(false))

	c.TurnUsername = "user"
	c.TurnCredential = "secret"
	assert.NoError(t, c.Validate(false))

	c = validSession()
	c.TurnUsername = "user"
	assert.Error(t, c.Validate(false))
}

func TestTickIntervalBounds(t *testing.T) {
	c := validSession()
	c.TickInterval = 5 * time.Millisecond
	assert.Error(t, c.Validate(false))

	c.TickInterval = 200 * time.Millisecond
	assert.Error(t, c.Validate(false))

	c.TickInterval = 100 * time.Millisecond
	assert.NoError(t, c.Validate(false))
}

func TestAllErrorsReportedAtOnce(t *testing.T) {
	c := SessionFromEnv()
	err := c.Validate(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server")
	assert.Contains(t, err.Error(), "--name")
	assert.Contains(t, err.Error(), "--session-id")
}

func TestICEServersDefaultToSTUN(t *testing.T) {
	c := validSession()
	servers := c.ICEServers()
	require.NotEmpty(t, servers)
	for _, s := range servers {
		assert.Empty(t, s.Credential)
	}
}

func TestICEServersPutTurnFirst(t *testing.T) {
	c := validSession()
	c.TurnServer = "turn:turn.example.com:3478"
	c.TurnUsername = "user"
	c.TurnCredential = "secret"

	servers := c.ICEServers()
	require.GreaterOrEqual(t, len(servers), 2)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, servers[0].URLs)
	assert.Equal(t, "user", servers[0].Username)
	assert.Equal(t, "secret", servers[0].Credential)
}

func TestRelayFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	cfg, err := RelayFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "60-M", cfg.RateLimitJoin)
}

func TestRelayRejectsBadPort(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	_, err := RelayFromEnv()
	assert.Error(t, err)
}
