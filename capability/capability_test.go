package capability

import (
	"testing"

	"github.com/quiin/skip-key-provider/config"
	"github.com/stretchr/testify/assert"
)

func newTestRegistry(patterns []string) *Registry {
	return NewRegistry(&config.Config{
		LocalSystemID:   "KP_QuIIN_Server",
		RemoteSystemIDs: patterns,
		Algorithm:       config.DefaultAlgorithm,
	})
}

func TestAuthorize(t *testing.T) {
	reg := newTestRegistry([]string{
		"KP_QuIIN_Client",
		"KP_*_Test",
		"KP_Development_*",
		"KP_Node_?",
		"KP_[AB]_Lab",
	})

	tests := []struct {
		candidate string
		want      bool
	}{
		{"KP_QuIIN_Client", true},
		{"KP_Alpha_Test", true},
		{"KP_Alpha_Prod", false},
		{"KP_Development_Box12", true},
		{"KP_Node_7", true},
		{"KP_Node_42", false},
		{"KP_A_Lab", true},
		{"KP_C_Lab", false},
		{"kp_quiin_client", false}, // case-sensitive
		{"", false},
		{"KP_QuIIN_ClientX", false},
	}

	for _, tt := range tests {
		t.Run(tt.candidate, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Authorize(tt.candidate))
		})
	}
}

func TestAuthorize_MalformedPattern(t *testing.T) {
	// An unterminated character class must never match, and must not
	// prevent later patterns from matching.
	reg := newTestRegistry([]string{"KP_[Broken", "KP_Good"})

	assert.False(t, reg.Authorize("KP_[Broken"))
	assert.True(t, reg.Authorize("KP_Good"))
}

func TestDescribe(t *testing.T) {
	reg := newTestRegistry([]string{"KP_*_Test"})

	desc := reg.Describe()
	assert.True(t, desc.Entropy)
	assert.True(t, desc.Key)
	assert.Equal(t, config.DefaultAlgorithm, desc.Algorithm)
	assert.Equal(t, "KP_QuIIN_Server", desc.LocalSystemID)
	assert.Equal(t, []string{"KP_*_Test"}, desc.RemoteSystemIDs)
}
