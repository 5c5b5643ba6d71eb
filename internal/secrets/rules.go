package secrets

// DefaultRules returns the default redaction rule set, covering the
// credential shapes most commonly surfaced by security tooling.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "private-key",
			Pattern:     `(?s)-----BEGIN [A-Z ]+ PRIVATE KEY-----.*?-----END [A-Z ]+ PRIVATE KEY-----`,
			Replacement: "[REDACTED-PRIVATE-KEY]",
		},
		{
			ID:          "keyvalue-secret",
			Pattern:     `(?i)(password|passwd|pwd|secret|token|api[_-]?key|auth[_-]?key)\s*[=:]\s*\S+`,
			Replacement: "$1=[REDACTED]",
		},
		{
			ID:          "authorization-header",
			Pattern:     `(?i)(Authorization:\s*(?:Bearer|Token|Basic|Digest|ApiKey)\s+)\S+`,
			Replacement: "$1[REDACTED]",
		},
		{
			ID:          "jwt",
			Pattern:     `\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\b`,
			Replacement: "[REDACTED-JWT]",
		},
		{
			ID:          "aws-access-key-id",
			Pattern:     `\bAKIA[0-9A-Z]{16}\b`,
			Replacement: "[REDACTED-AWS-KEY]",
		},
		{
			ID:          "github-token",
			Pattern:     `\bgh[psopu]_[A-Za-z0-9]{36,}\b`,
			Replacement: "[REDACTED-GITHUB-TOKEN]",
		},
		{
			ID:          "gitlab-token",
			Pattern:     `\bglpat-[A-Za-z0-9_\-]{20,}\b`,
			Replacement: "[REDACTED-GITLAB-TOKEN]",
		},
		{
			ID:          "slack-token",
			Pattern:     `\bxox[bpares]-[A-Za-z0-9\-]{10,}\b`,
			Replacement: "[REDACTED-SLACK-TOKEN]",
		},
		{
			ID:          "sk-api-key",
			Pattern:     `\bsk-[A-Za-z0-9\-_]{20,}\b`,
			Replacement: "[REDACTED-API-KEY]",
		},
		{
			ID:          "npm-token",
			Pattern:     `\bnpm_[A-Za-z0-9]{36,}\b`,
			Replacement: "[REDACTED-NPM-TOKEN]",
		},
		{
			ID:          "ssn",
			Pattern:     `\b\d{3}-\d{2}-\d{4}\b`,
			Replacement: "[REDACTED-SSN]",
		},
	}
}
