package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Endpoint
		wantErr bool
	}{
		{
			name: "tcp ipv4",
			in:   "tcp!0.0.0.0!564",
			want: Endpoint{Network: "tcp", Address: "0.0.0.0:564"},
		},
		{
			name: "tcp ipv6 literal gets bracketed",
			in:   "tcp!::1!564",
			want: Endpoint{Network: "tcp", Address: "[::1]:564"},
		},
		{
			name: "unix path with port suffix",
			in:   "unix!/tmp/l9p.sock!0",
			want: Endpoint{Network: "unix", Address: "/tmp/l9p.sock:0"},
		},
		{
			name:    "unknown scheme",
			in:      "udp!0.0.0.0!564",
			wantErr: true,
		},
		{
			name:    "too few parts",
			in:      "tcp!0.0.0.0",
			wantErr: true,
		},
		{
			name:    "empty address",
			in:      "tcp!!564",
			wantErr: true,
		},
		{
			name:    "empty port",
			in:      "unix!/tmp/l9p.sock!",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
