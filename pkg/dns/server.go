package dns

import (
	"context"
	"fmt"
	"sync"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/quarrystor/quarry/pkg/log"
)

const (
	// DefaultListenAddr avoids the privileged port 53; point clients
	// here explicitly or front it with a forwarder
	DefaultListenAddr = "127.0.0.1:9053"

	// DefaultDomain is the cluster search domain
	DefaultDomain = "quarry"

	// DefaultUpstream is the fallback DNS server for external queries
	DefaultUpstream = "8.8.8.8:53"
)

// Server answers discovery queries over UDP from the component
// registry and forwards everything else upstream
type Server struct {
	resolver   *Resolver
	dnsServer  *dns.Server
	listenAddr string
	upstream   []string
	logger     zerolog.Logger
	mu         sync.RWMutex
	running    bool
}

// Config holds DNS server configuration
type Config struct {
	ListenAddr string   // Address to listen on (default: 127.0.0.1:9053)
	Domain     string   // Cluster domain (default: "quarry")
	Upstream   []string // Upstream DNS servers (default: [8.8.8.8:53])
}

// NewServer creates a DNS server over the discovery registry
func NewServer(registry Registry, config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ListenAddr == "" {
		config.ListenAddr = DefaultListenAddr
	}
	if config.Domain == "" {
		config.Domain = DefaultDomain
	}
	if len(config.Upstream) == 0 {
		config.Upstream = []string{DefaultUpstream}
	}

	return &Server{
		resolver:   NewResolver(registry, config.Domain),
		listenAddr: config.ListenAddr,
		upstream:   config.Upstream,
		logger:     log.WithComponent("dns"),
	}
}

// Start starts the UDP listener
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("DNS server already running")
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info().Str("address", s.listenAddr).Msg("Starting DNS server")

	mux := dns.NewServeMux()
	mux.HandleFunc(".", s.handleDNSQuery)

	s.dnsServer = &dns.Server{
		Addr:    s.listenAddr,
		Net:     "udp",
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.dnsServer.ListenAndServe(); err != nil {
			s.logger.Error().Err(err).Msg("DNS server error")
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		return s.Stop()
	default:
		s.logger.Info().Str("address", s.listenAddr).Msg("DNS server started")
		return nil
	}
}

// Stop shuts the listener down
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	if s.dnsServer != nil {
		if err := s.dnsServer.Shutdown(); err != nil {
			s.logger.Error().Err(err).Msg("Error stopping DNS server")
			return err
		}
	}
	s.running = false
	s.logger.Info().Msg("DNS server stopped")
	return nil
}

// handleDNSQuery answers registry queries and forwards the rest
func (s *Server) handleDNSQuery(w dns.ResponseWriter, r *dns.Msg) {
	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Authoritative = true

	for _, q := range r.Question {
		if q.Qtype != dns.TypeA && q.Qtype != dns.TypeSRV {
			s.logger.Debug().
				Str("query", q.Name).
				Uint16("type", q.Qtype).
				Msg("Unsupported query type, forwarding upstream")
			s.forwardQuery(w, r)
			return
		}

		answers, err := s.resolver.Resolve(q.Name, q.Qtype)
		if err != nil {
			s.logger.Debug().
				Err(err).
				Str("query", q.Name).
				Msg("Not in registry, forwarding upstream")
			s.forwardQuery(w, r)
			return
		}

		// SRV answers carry their A records in the additional section
		for _, rr := range answers {
			if q.Qtype == dns.TypeSRV && rr.Header().Rrtype == dns.TypeA {
				msg.Extra = append(msg.Extra, rr)
				continue
			}
			msg.Answer = append(msg.Answer, rr)
		}
	}

	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write DNS response")
	}
}

// forwardQuery relays a query to the upstream servers in order
func (s *Server) forwardQuery(w dns.ResponseWriter, r *dns.Msg) {
	client := &dns.Client{Net: "udp"}

	for _, upstream := range s.upstream {
		resp, _, err := client.Exchange(r, upstream)
		if err != nil {
			s.logger.Debug().Err(err).Str("upstream", upstream).Msg("Upstream exchange failed")
			continue
		}
		if err := w.WriteMsg(resp); err != nil {
			s.logger.Error().Err(err).Msg("Failed to write forwarded DNS response")
		}
		return
	}

	msg := &dns.Msg{}
	msg.SetReply(r)
	msg.Rcode = dns.RcodeServerFailure
	if err := w.WriteMsg(msg); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write DNS error response")
	}
}

// IsRunning reports whether the listener is up
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
