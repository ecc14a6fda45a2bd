package dns

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/log"
	"github.com/quarrystor/quarry/pkg/types"
)

// recordTTL keeps answers short-lived; the registry changes whenever
// components come and go
const recordTTL = 10

// Registry is the slice of the discovery store the resolver reads
type Registry interface {
	GetComponent(componentID string) (*types.Component, error)
	ListComponents() ([]*types.Component, error)
}

// Resolver answers queries from the component registry: component ids
// resolve to A records, _<role>._tcp service names resolve to SRV
// records of the ACTIVE components carrying that role.
type Resolver struct {
	registry Registry
	domain   string
	logger   zerolog.Logger
}

// NewResolver creates a resolver over the discovery registry
func NewResolver(registry Registry, domain string) *Resolver {
	return &Resolver{
		registry: registry,
		domain:   domain,
		logger:   log.WithComponent("dns"),
	}
}

// Resolve answers one question. Names the registry does not know are
// returned as errors so the server can forward them upstream.
func (r *Resolver) Resolve(queryName string, qtype uint16) ([]dns.RR, error) {
	name := strings.ToLower(strings.TrimSuffix(queryName, "."))

	switch qtype {
	case dns.TypeA:
		if role, ok := parseServiceQuery(r.stripDomain(name)); ok {
			// An A query against a service name answers with the
			// addresses the SRV targets would resolve to
			_, extra, err := r.resolveService(name, role)
			if err != nil {
				return nil, err
			}
			return extra, nil
		}
		record, err := r.resolveComponent(name)
		if err != nil {
			return nil, err
		}
		return []dns.RR{record}, nil
	case dns.TypeSRV:
		role, ok := parseServiceQuery(r.stripDomain(name))
		if !ok {
			return nil, fmt.Errorf("not a service query: %s", name)
		}
		answers, extra, err := r.resolveService(name, role)
		if err != nil {
			return nil, err
		}
		return append(answers, extra...), nil
	default:
		return nil, fmt.Errorf("unsupported query type %d", qtype)
	}
}

// resolveComponent maps <component_id>[.<domain>] to the registered
// address. Liveness does not matter here: operators resolve INACTIVE
// nodes too.
func (r *Resolver) resolveComponent(name string) (dns.RR, error) {
	componentID := r.stripDomain(name)

	comp, err := r.registry.GetComponent(componentID)
	if err != nil {
		return nil, fmt.Errorf("component not found: %s", componentID)
	}
	ip := net.ParseIP(comp.Address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("component %s has no IPv4 address", componentID)
	}

	r.logger.Debug().
		Str("query", name).
		Str("address", comp.Address).
		Msg("Resolved component")

	return &dns.A{
		Hdr: dns.RR_Header{
			Name:   r.makeFQDN(name),
			Rrtype: dns.TypeA,
			Class:  dns.ClassINET,
			Ttl:    recordTTL,
		},
		A: ip.To4(),
	}, nil
}

// resolveService maps _<role>._tcp[.<domain>] to SRV records for every
// ACTIVE component of that role, plus the matching A records for the
// additional section. SDS targets advertise their data port.
func (r *Resolver) resolveService(name string, role types.ComponentType) (answers, extra []dns.RR, err error) {
	components, err := r.registry.ListComponents()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list components: %w", err)
	}

	var matched []*types.Component
	for _, comp := range components {
		if comp.Type != role || comp.Status != types.NodeStatusActive {
			continue
		}
		if ip := net.ParseIP(comp.Address); ip == nil || ip.To4() == nil {
			continue
		}
		if servicePort(comp) <= 0 {
			continue
		}
		matched = append(matched, comp)
	}
	if len(matched) == 0 {
		return nil, nil, fmt.Errorf("no active %s components", role)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ComponentID < matched[j].ComponentID })

	r.logger.Debug().
		Str("query", name).
		Str("role", string(role)).
		Int("targets", len(matched)).
		Msg("Resolved service")

	fqdn := r.makeFQDN(name)
	for _, comp := range matched {
		target := r.makeFQDN(comp.ComponentID + "." + r.domain)
		answers = append(answers, &dns.SRV{
			Hdr: dns.RR_Header{
				Name:   fqdn,
				Rrtype: dns.TypeSRV,
				Class:  dns.ClassINET,
				Ttl:    recordTTL,
			},
			Priority: 0,
			Weight:   10,
			Port:     uint16(servicePort(comp)),
			Target:   target,
		})
		extra = append(extra, &dns.A{
			Hdr: dns.RR_Header{
				Name:   target,
				Rrtype: dns.TypeA,
				Class:  dns.ClassINET,
				Ttl:    recordTTL,
			},
			A: net.ParseIP(comp.Address).To4(),
		})
	}
	return answers, extra, nil
}

// servicePort picks the port an SRV target advertises: the data port
// when the component has one, the control port otherwise
func servicePort(comp *types.Component) int {
	if comp.DataPort > 0 {
		return comp.DataPort
	}
	return comp.ControlPort
}

// stripDomain removes the cluster domain suffix from a name:
// sds-1.quarry -> sds-1
func (r *Resolver) stripDomain(name string) string {
	return strings.TrimSuffix(name, "."+r.domain)
}

// makeFQDN ensures a name ends with a dot (fully qualified)
func (r *Resolver) makeFQDN(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}
