package scanner

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Tier separates reconnaissance probes from malicious payloads.
type Tier int

const (
	// TierRecon signatures identify known scanner probes. Matches are
	// logged and never penalized.
	TierRecon Tier = iota
	// TierMalicious signatures identify attack payloads. Matches reject
	// the request and cost one strike.
	TierMalicious
)

// Spec is one uncompiled signature of the ordered library.
type Spec struct {
	ID       string
	Tier     Tier
	Severity int
	Pattern  string
}

// Rule is a compiled signature.
type Rule struct {
	ID       string
	Tier     Tier
	Severity int
	re       *regexp.Regexp
}

// Match is one signature hit.
type Match struct {
	RuleID   string
	Tier     Tier
	Severity int
	Field    string
}

// Config tunes the scanner. MaxScanBytes must be positive.
type Config struct {
	MaxScanBytes       int
	SensitiveHeaders   []string
	ExemptContentTypes []string
}

// Scanner evaluates the signature library against one request view.
type Scanner struct {
	rules     []Rule
	maxBytes  int
	sensitive map[string]bool
	exemptCT  []string
	logger    *zap.Logger
}

// New compiles the signature specs in order. A bad pattern fails
// construction; rules are never silently dropped.
func New(cfg Config, specs []Spec, logger *zap.Logger) (*Scanner, error) {
	if cfg.MaxScanBytes <= 0 {
		return nil, fmt.Errorf("scanner: MaxScanBytes must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("scanner: rule %q: %w", spec.ID, err)
		}
		severity := spec.Severity
		if severity <= 0 {
			severity = 1
		}
		rules = append(rules, Rule{
			ID:       spec.ID,
			Tier:     spec.Tier,
			Severity: severity,
			re:       re,
		})
	}

	sensitive := make(map[string]bool, len(cfg.SensitiveHeaders))
	for _, name := range cfg.SensitiveHeaders {
		sensitive[strings.ToLower(name)] = true
	}

	return &Scanner{
		rules:     rules,
		maxBytes:  cfg.MaxScanBytes,
		sensitive: sensitive,
		exemptCT:  append([]string(nil), cfg.ExemptContentTypes...),
		logger:    logger,
	}, nil
}

// Scan matches the library against the URL, non-sensitive headers, and a
// non-structured body. Recon hits are recorded without ending evaluation of
// the field — a probe-looking prefix must never shadow an attack payload
// carried in the same field. The scan stops at the first malicious match;
// nothing after the reject matters.
func (s *Scanner) Scan(path, rawQuery string, header http.Header, body []byte, contentType string) []Match {
	var matches []Match

	target := path
	if rawQuery != "" {
		target = path + "?" + rawQuery
	}
	if ms := s.scanField("url", target); len(ms) > 0 {
		matches = append(matches, ms...)
		if ms[len(ms)-1].Tier == TierMalicious {
			return matches
		}
	}

	for name, values := range header {
		if s.sensitive[strings.ToLower(name)] {
			continue
		}
		for _, value := range values {
			ms := s.scanField("header:"+name, value)
			if len(ms) == 0 {
				continue
			}
			matches = append(matches, ms...)
			if ms[len(ms)-1].Tier == TierMalicious {
				return matches
			}
		}
	}

	if len(body) > 0 && !s.exemptBody(contentType) {
		matches = append(matches, s.scanField("body", string(truncate(body, s.maxBytes)))...)
	}

	return matches
}

// scanField runs the library in order against one truncated field. It
// returns at most one recon match (the first) followed by at most one
// malicious match (the first). A recon hit keeps evaluating: only a
// malicious rule ends the field.
func (s *Scanner) scanField(field, value string) []Match {
	if value == "" {
		return nil
	}
	if len(value) > s.maxBytes {
		value = value[:s.maxBytes]
	}

	var matches []Match
	reconSeen := false
	for _, rule := range s.rules {
		if !rule.re.MatchString(value) {
			continue
		}
		match := Match{
			RuleID:   rule.ID,
			Tier:     rule.Tier,
			Severity: rule.Severity,
			Field:    field,
		}
		if rule.Tier == TierRecon {
			if reconSeen {
				continue
			}
			reconSeen = true
			s.logger.Info("reconnaissance probe",
				zap.String("rule", rule.ID),
				zap.String("field", field),
			)
			matches = append(matches, match)
			continue
		}
		matches = append(matches, match)
		break
	}

	return matches
}

func (s *Scanner) exemptBody(contentType string) bool {
	if contentType == "" {
		return false
	}
	ct := strings.ToLower(contentType)
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	for _, exempt := range s.exemptCT {
		if ct == exempt {
			return true
		}
	}
	return false
}

func truncate(b []byte, max int) []byte {
	if len(b) > max {
		return b[:max]
	}
	return b
}
