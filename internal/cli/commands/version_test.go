package commands

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewVersionCommand(t *testing.T) {
	tests := []struct {
		name    string
		info    BuildInfo
		wantOut []string
		notOut  []string
	}{
		{
			name:    "release",
			info:    BuildInfo{Version: "0.1.0", Commit: "abc123", Date: "2026-01-02"},
			wantOut: []string{"leapref v0.1.0", "commit abc123, built 2026-01-02", "ERMrest"},
		},
		{
			name:    "unknown commit",
			info:    BuildInfo{Version: "1.2.3", Commit: "unknown", Date: "unknown"},
			wantOut: []string{"leapref v1.2.3"},
			notOut:  []string{"commit"},
		},
		{
			name:    "dev version",
			info:    BuildInfo{Version: "dev"},
			wantOut: []string{"leapref vdev"},
			notOut:  []string{"commit"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewVersionCommand(tt.info)
			buf := new(bytes.Buffer)
			cmd.SetOut(buf)
			cmd.SetErr(buf)
			cmd.SetArgs([]string{})

			require.NoError(t, cmd.Execute())
			for _, want := range tt.wantOut {
				assert.Contains(t, buf.String(), want)
			}
			for _, unwanted := range tt.notOut {
				assert.NotContains(t, buf.String(), unwanted)
			}
		})
	}
}
