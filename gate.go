package goShield

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goShield/internal/csrf"
	"github.com/MrEthical07/goShield/internal/ratelimit"
	"github.com/MrEthical07/goShield/internal/scanner"
	"github.com/MrEthical07/goShield/internal/strikes"
)

// Gate produces one admission decision per inbound request. Build it through
// [Builder.Build]; after that every method is safe for concurrent use.
type Gate struct {
	config  Config
	trusted []*net.IPNet
	scanner *scanner.Scanner
	ledger  *strikes.Ledger
	limiter *ratelimit.Limiter
	csrf    *csrf.Manager
	audit   *auditDispatcher
	metrics *Metrics
	logger  *zap.Logger
}

// Close flushes the audit dispatcher. The gate must not be used afterward.
func (g *Gate) Close() {
	if g == nil {
		return
	}
	if g.audit != nil {
		g.audit.Close()
	}
}

// MetricsSnapshot copies the gate counters.
func (g *Gate) MetricsSnapshot() MetricsSnapshot {
	if g == nil || g.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return g.metrics.Snapshot()
}

// AuditDropped reports audit events lost to a full buffer.
func (g *Gate) AuditDropped() uint64 {
	if g == nil || g.audit == nil {
		return 0
	}
	return g.audit.Dropped()
}

// ResolveIdentity derives the accounting identity for a request without
// making an admission decision. Pure; no I/O.
func (g *Gate) ResolveIdentity(info RequestInfo) Identity {
	if g == nil {
		return ""
	}
	return resolveIdentity(info.Principal, info.RemoteAddr, info.ForwardedFor, g.trusted)
}

// Inspect runs the full admission sequence: resolve identity, block check,
// signature scan, rate limit, CSRF. The block check comes first so a request
// arriving during an active block is rejected without any further writes;
// the scan result, when malicious, is accounted against the ledger before
// the reject is returned.
func (g *Gate) Inspect(ctx context.Context, info RequestInfo) Decision {
	if g == nil {
		return Decision{Allow: false, Status: http.StatusServiceUnavailable}
	}

	requestID := info.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	identity := resolveIdentity(info.Principal, info.RemoteAddr, info.ForwardedFor, g.trusted)
	clientIP := g.anonymousIP(info)

	if g.ledger.IsBlocked(ctx, identity.String()) {
		g.metrics.Inc(MetricRequestsBlocked)
		g.emit(ctx, AuditEvent{
			EventType: auditEventBlockedRequest,
			Identity:  identity.String(),
			RequestID: requestID,
			Path:      info.Path,
		})
		return Decision{
			Allow:     false,
			Status:    http.StatusForbidden,
			Reason:    ReasonBlocked,
			Identity:  identity,
			RequestID: requestID,
			ClientIP:  clientIP,
		}
	}

	if g.scanner != nil {
		if decision, rejected := g.scan(ctx, identity, requestID, info); rejected {
			decision.ClientIP = clientIP
			return decision
		}
	}

	if g.limiter != nil {
		outcome := g.limiter.Check(ctx, info.Path, identity.String(), clientIP)
		if !outcome.Allowed {
			g.metrics.Inc(MetricRateLimited)
			g.emit(ctx, AuditEvent{
				EventType: auditEventRateLimited,
				Identity:  identity.String(),
				RequestID: requestID,
				Path:      info.Path,
				Tier:      outcome.Tier,
			})
			return Decision{
				Allow:      false,
				Status:     http.StatusTooManyRequests,
				Reason:     ReasonRateLimited,
				Identity:   identity,
				RequestID:  requestID,
				RetryAfter: outcome.RetryAfter,
				Tier:       outcome.Tier,
				ClientIP:   clientIP,
			}
		}
	}

	if g.csrf != nil && isStateChanging(info.Method) && !g.csrfExempt(info.Path) {
		if err := g.csrf.Verify(ctx, identity.String(), info.CSRFToken, info.CSRFCookie); err != nil {
			g.metrics.Inc(MetricCSRFRejected)
			g.emit(ctx, AuditEvent{
				EventType: auditEventCSRFRejected,
				Identity:  identity.String(),
				RequestID: requestID,
				Path:      info.Path,
				Error:     err.Error(),
			})
			return Decision{
				Allow:     false,
				Status:    http.StatusForbidden,
				Reason:    ReasonCSRF,
				Identity:  identity,
				RequestID: requestID,
				ClientIP:  clientIP,
			}
		}
	}

	g.metrics.Inc(MetricRequestsAdmitted)
	return Decision{
		Allow:     true,
		Status:    http.StatusOK,
		Reason:    ReasonAllowed,
		Identity:  identity,
		RequestID: requestID,
		ClientIP:  clientIP,
	}
}

// scan evaluates the signature library. Recon hits are observed and let
// through; the first malicious hit strikes the ledger and rejects.
func (g *Gate) scan(ctx context.Context, identity Identity, requestID string, info RequestInfo) (Decision, bool) {
	matches := g.scanner.Scan(info.Path, info.RawQuery, info.Header, info.Body, info.ContentType)

	for _, match := range matches {
		if match.Tier == scanner.TierRecon {
			g.metrics.Inc(MetricScannerReconHits)
			g.emit(ctx, AuditEvent{
				EventType: auditEventScannerRecon,
				Identity:  identity.String(),
				RequestID: requestID,
				Path:      info.Path,
				RuleID:    match.RuleID,
				Allowed:   true,
			})
			continue
		}

		g.metrics.Inc(MetricScannerMaliciousHits)
		g.emit(ctx, AuditEvent{
			EventType: auditEventScannerMalicious,
			Identity:  identity.String(),
			RequestID: requestID,
			Path:      info.Path,
			RuleID:    match.RuleID,
			Metadata:  map[string]string{"field": match.Field},
		})

		result, err := g.ledger.AddStrike(ctx, identity.String(), match.Severity)
		if err == nil {
			g.metrics.Inc(MetricStrikesRecorded)
			g.emit(ctx, AuditEvent{
				EventType: auditEventStrikeRecorded,
				Identity:  identity.String(),
				RequestID: requestID,
				RuleID:    match.RuleID,
			})
			if result.Blocked {
				g.metrics.Inc(MetricBlocksSet)
				g.emit(ctx, AuditEvent{
					EventType: auditEventBlockSet,
					Identity:  identity.String(),
					RequestID: requestID,
					Metadata: map[string]string{
						"block_until": result.BlockUntil.UTC().Format(time.RFC3339),
					},
				})
			}
		}

		// The reject stands whether or not the ledger write landed.
		return Decision{
			Allow:     false,
			Status:    http.StatusBadRequest,
			Reason:    ReasonMalicious,
			Identity:  identity,
			RequestID: requestID,
			RuleID:    match.RuleID,
		}, true
	}

	return Decision{}, false
}

// CSRFToken returns the identity's token, minting it lazily. Handlers use it
// to embed a token into form-bearing responses; the middleware mirrors it
// into the double-submit cookie.
func (g *Gate) CSRFToken(ctx context.Context, identity Identity) (string, error) {
	if g == nil || g.csrf == nil {
		return "", ErrGateNotReady
	}
	token, fresh, err := g.csrf.Token(ctx, identity.String())
	if err != nil {
		if errors.Is(err, csrf.ErrStoreUnavailable) {
			return "", ErrStoreUnavailable
		}
		return "", err
	}
	if fresh {
		g.metrics.Inc(MetricCSRFIssued)
	}
	return token, nil
}

// RecordFailure counts one failed attempt against a failures-only rate tier
// (password reset and the like). Called after the business outcome is known;
// the middleware does it automatically for responses with status >= 400.
// clientIP is the anonymous address from the matching Decision, so KeyByIP
// tiers account failures under the same key their budget was checked on.
func (g *Gate) RecordFailure(ctx context.Context, path string, identity Identity, clientIP string) {
	if g == nil || g.limiter == nil {
		return
	}
	if clientIP == "" {
		clientIP = identity.IP()
	}
	g.limiter.RecordFailure(ctx, path, identity.String(), clientIP)
}

// Config returns a copy of the effective configuration. The middleware uses
// it to agree with the gate on carrier names and scan limits.
func (g *Gate) Config() Config {
	if g == nil {
		return Config{}
	}
	return cloneConfig(g.config)
}

// anonymousIP is the address a KeyByIP tier falls back to: the IP form of
// the identity even when a principal is present.
func (g *Gate) anonymousIP(info RequestInfo) string {
	return resolveIdentity("", info.RemoteAddr, info.ForwardedFor, g.trusted).IP()
}

func (g *Gate) csrfExempt(path string) bool {
	for _, prefix := range g.config.CSRF.AllowListPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) emit(ctx context.Context, event AuditEvent) {
	if g.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	g.audit.Emit(ctx, event)
}

// isStateChanging reports whether the verb requires CSRF verification.
func isStateChanging(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
