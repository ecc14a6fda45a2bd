package dns

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"

	"github.com/quarrystor/quarry/pkg/storage"
	"github.com/quarrystor/quarry/pkg/types"
)

// newTestRegistry backs the resolver with a throwaway metadata store
func newTestRegistry(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "dns.db"))
	if err != nil {
		t.Fatalf("NewBoltStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func registerComponent(t *testing.T, store *storage.BoltStore, comp *types.Component) {
	t.Helper()
	if comp.Status == "" {
		comp.Status = types.NodeStatusActive
	}
	if err := store.UpsertComponent(comp); err != nil {
		t.Fatalf("UpsertComponent %s: %v", comp.ComponentID, err)
	}
}

// TestResolverStripDomain tests domain suffix removal
func TestResolverStripDomain(t *testing.T) {
	r := NewResolver(nil, "quarry")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "with domain suffix",
			input: "sds-1.quarry",
			want:  "sds-1",
		},
		{
			name:  "without domain suffix",
			input: "sds-1",
			want:  "sds-1",
		},
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "service query with domain",
			input: "_sds._tcp.quarry",
			want:  "_sds._tcp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.stripDomain(tt.input)
			if got != tt.want {
				t.Errorf("stripDomain(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestResolverMakeFQDN tests FQDN generation
func TestResolverMakeFQDN(t *testing.T) {
	r := NewResolver(nil, "quarry")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "without trailing dot",
			input: "sds-1",
			want:  "sds-1.",
		},
		{
			name:  "with trailing dot",
			input: "sds-1.",
			want:  "sds-1.",
		},
		{
			name:  "fqdn with domain",
			input: "sds-1.quarry",
			want:  "sds-1.quarry.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.makeFQDN(tt.input)
			if got != tt.want {
				t.Errorf("makeFQDN(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestServicePort tests SRV port selection
func TestServicePort(t *testing.T) {
	tests := []struct {
		name string
		comp *types.Component
		want int
	}{
		{
			name: "data port preferred",
			comp: &types.Component{ControlPort: 9101, DataPort: 9701},
			want: 9701,
		},
		{
			name: "control port fallback",
			comp: &types.Component{ControlPort: 9101},
			want: 9101,
		},
		{
			name: "no ports",
			comp: &types.Component{},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := servicePort(tt.comp); got != tt.want {
				t.Errorf("servicePort() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestResolveComponent tests component id to A record resolution
func TestResolveComponent(t *testing.T) {
	store := newTestRegistry(t)
	registerComponent(t, store, &types.Component{
		ComponentID: "sds-1",
		Type:        types.ComponentSDS,
		Address:     "10.0.0.5",
		ControlPort: 9101,
	})
	registerComponent(t, store, &types.Component{
		ComponentID: "sdc-down",
		Type:        types.ComponentSDC,
		Address:     "10.0.0.9",
		Status:      types.NodeStatusInactive,
	})
	registerComponent(t, store, &types.Component{
		ComponentID: "sds-hostname",
		Type:        types.ComponentSDS,
		Address:     "storage.internal",
	})

	r := NewResolver(store, "quarry")

	records, err := r.Resolve("sds-1.quarry.", dns.TypeA)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Resolve() returned %d records, want 1", len(records))
	}
	a, ok := records[0].(*dns.A)
	if !ok {
		t.Fatalf("Resolve() record type = %T, want *dns.A", records[0])
	}
	if !a.A.Equal(net.IPv4(10, 0, 0, 5)) {
		t.Errorf("Resolve() A = %v, want 10.0.0.5", a.A)
	}
	if a.Hdr.Name != "sds-1.quarry." {
		t.Errorf("Resolve() name = %q, want %q", a.Hdr.Name, "sds-1.quarry.")
	}
	if a.Hdr.Ttl != recordTTL {
		t.Errorf("Resolve() TTL = %d, want %d", a.Hdr.Ttl, recordTTL)
	}

	// Bare name without the domain suffix resolves too
	if _, err := r.Resolve("sds-1.", dns.TypeA); err != nil {
		t.Errorf("Resolve() bare name error = %v", err)
	}

	// INACTIVE components still resolve by id
	if _, err := r.Resolve("sdc-down.quarry.", dns.TypeA); err != nil {
		t.Errorf("Resolve() inactive component error = %v", err)
	}

	// Unknown names and non-IP addresses are not resolvable
	if _, err := r.Resolve("ghost.quarry.", dns.TypeA); err == nil {
		t.Error("Resolve() unknown component expected error")
	}
	if _, err := r.Resolve("sds-hostname.quarry.", dns.TypeA); err == nil {
		t.Error("Resolve() hostname address expected error")
	}
}

// TestResolveService tests _sds._tcp SRV resolution
func TestResolveService(t *testing.T) {
	store := newTestRegistry(t)
	registerComponent(t, store, &types.Component{
		ComponentID: "sds-1",
		Type:        types.ComponentSDS,
		Address:     "10.0.0.11",
		ControlPort: 9101,
		DataPort:    9701,
	})
	registerComponent(t, store, &types.Component{
		ComponentID: "sds-2",
		Type:        types.ComponentSDS,
		Address:     "10.0.0.12",
		ControlPort: 9102,
	})
	registerComponent(t, store, &types.Component{
		ComponentID: "sds-3",
		Type:        types.ComponentSDS,
		Address:     "10.0.0.13",
		DataPort:    9703,
		Status:      types.NodeStatusInactive,
	})
	registerComponent(t, store, &types.Component{
		ComponentID: "sdc-1",
		Type:        types.ComponentSDC,
		Address:     "10.0.0.20",
		ControlPort: 9120,
	})

	r := NewResolver(store, "quarry")

	records, err := r.Resolve("_sds._tcp.quarry.", dns.TypeSRV)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	var srvs []*dns.SRV
	var extras []*dns.A
	for _, rr := range records {
		switch v := rr.(type) {
		case *dns.SRV:
			srvs = append(srvs, v)
		case *dns.A:
			extras = append(extras, v)
		default:
			t.Fatalf("unexpected record type %T", rr)
		}
	}

	// Only the two ACTIVE SDS components answer; ordering is by id
	if len(srvs) != 2 {
		t.Fatalf("Resolve() returned %d SRV records, want 2", len(srvs))
	}
	if srvs[0].Target != "sds-1.quarry." || srvs[0].Port != 9701 {
		t.Errorf("SRV[0] = %s:%d, want sds-1.quarry.:9701", srvs[0].Target, srvs[0].Port)
	}
	if srvs[1].Target != "sds-2.quarry." || srvs[1].Port != 9102 {
		t.Errorf("SRV[1] = %s:%d, want sds-2.quarry.:9102 (control port fallback)", srvs[1].Target, srvs[1].Port)
	}

	// The additional section carries the target addresses
	if len(extras) != 2 {
		t.Fatalf("Resolve() returned %d additional A records, want 2", len(extras))
	}
	if !extras[0].A.Equal(net.IPv4(10, 0, 0, 11)) {
		t.Errorf("extra[0] = %v, want 10.0.0.11", extras[0].A)
	}

	// An A query on the service name answers with addresses only
	records, err = r.Resolve("_sds._tcp.quarry.", dns.TypeA)
	if err != nil {
		t.Fatalf("Resolve() A on service error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("Resolve() A on service returned %d records, want 2", len(records))
	}

	// Roles with no active components are not resolvable
	if _, err := r.Resolve("_mdm._tcp.quarry.", dns.TypeSRV); err == nil {
		t.Error("Resolve() expected error for role with no components")
	}

	// Unknown service labels are not resolvable
	if _, err := r.Resolve("_gateway._tcp.quarry.", dns.TypeSRV); err == nil {
		t.Error("Resolve() expected error for unknown service label")
	}
}

// TestResolveUnsupportedType tests rejection of unhandled query types
func TestResolveUnsupportedType(t *testing.T) {
	store := newTestRegistry(t)
	r := NewResolver(store, "quarry")

	if _, err := r.Resolve("sds-1.quarry.", dns.TypeMX); err == nil {
		t.Error("Resolve() expected error for MX query")
	}
}
