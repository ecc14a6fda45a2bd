package dns

import (
	"testing"

	"github.com/quarrystor/quarry/pkg/types"
)

// TestParseServiceQuery tests service discovery name parsing
func TestParseServiceQuery(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantRole types.ComponentType
		wantOK   bool
	}{
		{
			name:     "sds service",
			input:    "_sds._tcp",
			wantRole: types.ComponentSDS,
			wantOK:   true,
		},
		{
			name:     "mdm service",
			input:    "_mdm._tcp",
			wantRole: types.ComponentMDM,
			wantOK:   true,
		},
		{
			name:     "sdc service",
			input:    "_sdc._tcp",
			wantRole: types.ComponentSDC,
			wantOK:   true,
		},
		{
			name:   "unknown role",
			input:  "_gateway._tcp",
			wantOK: false,
		},
		{
			name:   "missing underscore",
			input:  "sds._tcp",
			wantOK: false,
		},
		{
			name:   "wrong protocol",
			input:  "_sds._udp",
			wantOK: false,
		},
		{
			name:   "bare role",
			input:  "_sds",
			wantOK: false,
		},
		{
			name:   "plain component id",
			input:  "sds-1",
			wantOK: false,
		},
		{
			name:   "empty string",
			input:  "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotRole, gotOK := parseServiceQuery(tt.input)

			if gotOK != tt.wantOK {
				t.Errorf("parseServiceQuery(%q) ok = %v, want %v", tt.input, gotOK, tt.wantOK)
				return
			}
			if tt.wantOK && gotRole != tt.wantRole {
				t.Errorf("parseServiceQuery(%q) role = %v, want %v", tt.input, gotRole, tt.wantRole)
			}
		})
	}
}

// TestMakeServiceQuery tests discovery name generation
func TestMakeServiceQuery(t *testing.T) {
	tests := []struct {
		name string
		role types.ComponentType
		want string
	}{
		{
			name: "sds",
			role: types.ComponentSDS,
			want: "_sds._tcp",
		},
		{
			name: "mdm",
			role: types.ComponentMDM,
			want: "_mdm._tcp",
		},
		{
			name: "sdc",
			role: types.ComponentSDC,
			want: "_sdc._tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := makeServiceQuery(tt.role)
			if got != tt.want {
				t.Errorf("makeServiceQuery(%v) = %q, want %q", tt.role, got, tt.want)
			}

			// Round-trip through the parser
			role, ok := parseServiceQuery(got)
			if !ok || role != tt.role {
				t.Errorf("parseServiceQuery(%q) = %v/%v, want %v/true", got, role, ok, tt.role)
			}
		})
	}
}
