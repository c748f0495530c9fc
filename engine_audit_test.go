package authcore

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditTrailOmitsSecrets(t *testing.T) {
	var buf bytes.Buffer
	h := newHarness(t, func(b *Builder, cfg *Config) {
		cfg.Audit.Enabled = true
		cfg.Audit.DropIfFull = false
		b.WithAuditSink(NewJSONWriterSink(&buf))
	})
	h.registerVerified(t, testEmail)

	_, err := h.engine.Login(ipContext("192.0.2.10"), LoginRequest{Email: testEmail, Password: "Wrong-password1"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	res, err := h.login(testEmail, testPassword)
	require.NoError(t, err)
	h.engine.Close()

	out := buf.String()
	require.NotContains(t, out, testPassword)
	require.NotContains(t, out, "Wrong-password1")
	require.NotContains(t, out, res.Token)

	var failure *AuditEvent
	types := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev AuditEvent
		require.NoError(t, json.Unmarshal([]byte(line), &ev))
		types[ev.EventType] = true
		if ev.EventType == auditEventLoginFailure {
			failure = &ev
		}
	}
	require.True(t, types[auditEventRegisterSuccess])
	require.True(t, types[auditEventLoginSuccess])
	require.NotNil(t, failure)
	require.Equal(t, "invalid_credentials", failure.Error)
	require.Equal(t, "192.0.2.10", failure.IP)
	require.False(t, failure.Success)
	require.Zero(t, h.engine.AuditDropped())
}
