package ratelimit

import (
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Verdict is the admission decision for an incoming call
type Verdict int

const (
	// Admit lets the call through
	Admit Verdict = iota
	// RateLimited rejects a source sending INVITEs too fast
	RateLimited
	// Blacklisted rejects a caller identity on the black list
	Blacklisted
)

// String returns the verdict name used in logs and metrics
func (v Verdict) String() string {
	switch v {
	case Admit:
		return "admit"
	case RateLimited:
		return "rate_limited"
	case Blacklisted:
		return "blacklisted"
	default:
		return "unknown"
	}
}

// SIPLimiter admits incoming calls. INVITEs are rate limited per source IP;
// caller identities can be black listed until a given time.
type SIPLimiter struct {
	invites         *Limiter
	blacklist       *Limiter
	logger          *logrus.Logger
	whitelistedIPs  map[string]bool
	whitelistedNets []*net.IPNet
}

// NewSIPLimiter creates the limiter. whitelist entries are IPs or CIDRs that
// bypass the INVITE rate limit.
func NewSIPLimiter(invitesPerSecond float64, burst int, whitelist []string, logger *logrus.Logger, opts ...Option) *SIPLimiter {
	s := &SIPLimiter{
		invites:        NewLimiter(invitesPerSecond, burst, logger, opts...),
		blacklist:      NewLimiter(0, 0, logger, opts...),
		logger:         logger,
		whitelistedIPs: make(map[string]bool),
	}

	for _, ip := range whitelist {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if strings.Contains(ip, "/") {
			if _, ipNet, err := net.ParseCIDR(ip); err == nil {
				s.whitelistedNets = append(s.whitelistedNets, ipNet)
			}
			continue
		}
		s.whitelistedIPs[ip] = true
	}

	logger.WithFields(logrus.Fields{
		"invite_rps":   invitesPerSecond,
		"invite_burst": burst,
		"whitelisted":  len(s.whitelistedIPs) + len(s.whitelistedNets),
	}).Debug("SIP call admission initialized")
	return s
}

// Admit decides whether an INVITE from sourceIP for caller may proceed
func (s *SIPLimiter) Admit(sourceIP, caller string) Verdict {
	if s.blacklist.IsBlocked(caller) {
		return Blacklisted
	}
	if s.isWhitelisted(sourceIP) {
		return Admit
	}
	if !s.invites.Allow(sourceIP) {
		s.logger.WithField("client_ip", sourceIP).Warn("SIP INVITE rate limit exceeded")
		return RateLimited
	}
	return Admit
}

// Blacklist rejects caller until expire
func (s *SIPLimiter) Blacklist(caller string, expire time.Time) {
	s.blacklist.BlockUntil(caller, expire)
}

// IsBlacklisted reports whether caller is black listed
func (s *SIPLimiter) IsBlacklisted(caller string) bool {
	return s.blacklist.IsBlocked(caller)
}

// Close stops the background cleanup
func (s *SIPLimiter) Close() error {
	s.invites.Close()
	return s.blacklist.Close()
}

func (s *SIPLimiter) isWhitelisted(ip string) bool {
	if s.whitelistedIPs[ip] {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range s.whitelistedNets {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}
