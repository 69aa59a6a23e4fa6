package scanner

// DefaultSpecs is the stock signature library. Order matters: recon probes
// sit first so a plain scanner sweep is logged without burning regex time on
// the payload rules, and payload rules are grouped by attack class.
//
// Every pattern is RE2-safe; none can backtrack.
func DefaultSpecs() []Spec {
	return []Spec{
		// Reconnaissance: known scanner paths and tooling. Logged only.
		{
			ID:      "recon-cms-probe",
			Tier:    TierRecon,
			Pattern: `(?i)/(wp-login\.php|wp-admin|xmlrpc\.php|phpmyadmin|admin\.php)`,
		},
		{
			ID:      "recon-dotfile-probe",
			Tier:    TierRecon,
			Pattern: `/\.(env|git|svn|htaccess|aws/credentials)`,
		},
		{
			ID:      "recon-scanner-agent",
			Tier:    TierRecon,
			Pattern: `(?i)\b(sqlmap|nikto|masscan|nuclei|zgrab|gobuster)\b`,
		},

		// Path traversal.
		{
			ID:      "path-traversal",
			Tier:    TierMalicious,
			Pattern: `(?i)(\.\./|\.\.\\|%2e%2e%2f|%2e%2e/|\.\.%2f)`,
		},

		// SQL injection.
		{
			ID:      "sql-injection",
			Tier:    TierMalicious,
			Pattern: `(?i)(union[\s+]+select|or[\s+]+1[\s]*=[\s]*1|';[\s]*--|sleep\([0-9]+\)|benchmark[\s]*\(|information_schema)`,
		},

		// Command injection.
		{
			ID:      "command-injection",
			Tier:    TierMalicious,
			Pattern: "(?i)((;|\\|\\||&&|%0a)[\\s]*(cat|ls|rm|wget|curl|nc|bash|sh|powershell)\\b|`[^`]+`|\\$\\([^)]+\\))",
		},

		// XSS markup.
		{
			ID:      "xss-markup",
			Tier:    TierMalicious,
			Pattern: `(?i)(<script[\s>/]|<iframe[\s>/]|<svg[^>]*onload|onerror[\s]*=|onload[\s]*=|document\.cookie)`,
		},

		// Protocol-handler injection.
		{
			ID:      "protocol-handler",
			Tier:    TierMalicious,
			Pattern: `(?i)(javascript|vbscript)[\s]*:|data[\s]*:[^,]*(base64|text/html)`,
		},

		// XML external entities.
		{
			ID:      "xxe",
			Tier:    TierMalicious,
			Pattern: `(?i)(<!DOCTYPE[^>]+\[|<!ENTITY|SYSTEM[\s]+["'](file|http|ftp):)`,
		},
	}
}
