package discovery_test

import (
	"testing"

	"github.com/jrsteele09/go-smart-auth/discovery"
	"github.com/stretchr/testify/require"
)

func TestBaseURLAllowed(t *testing.T) {
	const configured = "https://ehr.example.org/api/FHIR/R4"
	allowed := []string{"https://second.example.org/fhir/", "not a url"}

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{"configured", configured, true},
		{"configured with trailing slash", configured + "/", true},
		{"host case ignored", "https://EHR.example.org/api/FHIR/R4", true},
		{"listed", "https://second.example.org/fhir", true},
		{"path case matters", "https://ehr.example.org/api/fhir/r4", false},
		{"different path on same host", "https://ehr.example.org/internal/admin", false},
		{"scheme matters", "http://ehr.example.org/api/FHIR/R4", false},
		{"unlisted host", "https://evil.example.net/api/FHIR/R4", false},
		{"userinfo", "https://user@ehr.example.org/api/FHIR/R4", false},
		{"malformed", "ehr.example.org", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, discovery.BaseURLAllowed(tt.candidate, configured, allowed))
		})
	}
}

func TestBaseURLAllowed_NothingConfigured(t *testing.T) {
	require.False(t, discovery.BaseURLAllowed("https://ehr.example.org/fhir", "", nil))
}
