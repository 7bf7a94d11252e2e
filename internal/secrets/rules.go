package secrets

// DefaultRules covers credentials that commonly leak into uploaded
// business documents (pasted configs, onboarding guides, spreadsheets).
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`},
		{ID: "aws-secret-access-key", Pattern: `(?i)(?:aws_secret_access_key|aws_secret_key|secret_access_key)\s*[:=]\s*['"]?[A-Za-z0-9/+=]{40}['"]?`},
		{ID: "generic-api-key", Pattern: `(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`},
		{ID: "generic-password", Pattern: `(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`},
		{ID: "bearer-token", Pattern: `(?i)bearer\s+[A-Za-z0-9\-._~+/]{16,}=*`},
		{ID: "llm-api-key", Pattern: `\bsk-(?:ant-)?[A-Za-z0-9_\-]{20,}`},
		{ID: "github-token", Pattern: `\bgh[pousr]_[A-Za-z0-9]{36}\b`},
		{ID: "slack-token", Pattern: `\bxox[baprs]-[A-Za-z0-9-]{10,}`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`},
		{ID: "connection-string", Pattern: `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^\s:/]+:[^\s@/]+@[^\s]+`},
	}
}
