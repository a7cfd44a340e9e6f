package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitRequiresCollectorAddr(t *testing.T) {
	_, err := Init(context.Background(), Config{ServiceName: "konnekt-session"})
	assert.Error(t, err)
}

func TestInitRequiresServiceName(t *testing.T) {
	_, err := Init(context.Background(), Config{CollectorAddr: "localhost:4317"})
	assert.Error(t, err)
}

func TestSamplerSelection(t *testing.T) {
	always := samplerFor(0)
	assert.Equal(t, sdktrace.AlwaysSample().Description(), always.Description())

	always = samplerFor(1)
	assert.Equal(t, sdktrace.AlwaysSample().Description(), always.Description())

	ratio := samplerFor(0.25)
	assert.Contains(t, ratio.Description(), "ParentBased")
}

func TestIdentityAttributes(t *testing.T) {
	assert.Equal(t, "konnekt.session.role", string(RoleAttr("host").Key))
	assert.Equal(t, "host", RoleAttr("host").Value.AsString())
	assert.Equal(t, "konnekt.session.id", string(SessionAttr("abc").Key))
	assert.Equal(t, "konnekt.relay.port", string(ListenAttr("8080").Key))
}
