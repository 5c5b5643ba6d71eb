package model

// toolSchema is the provider-side tool definition.
type toolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// agentTools defines the tools offered to the model during execute turns.
// The names and shapes are part of the orchestrator contract: the toolbox
// dispatcher routes on them.
func agentTools() []toolSchema {
	return []toolSchema{
		{
			Name: "execute_tool",
			Description: "Execute a security testing tool. Available tools include: subfinder, " +
				"httpx, nuclei, naabu, nmap, katana, dnsx, tlsx, ffuf, waybackurls, whatweb, " +
				"wafw00f, sslscan, nikto, masscan, gobuster, sqlmap, hydra, wpscan, enum4linux, " +
				"dnsrecon, theharvester, amass, gau.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"tool": map[string]any{
						"type":        "string",
						"description": "Name of the tool to execute",
					},
					"parameters": map[string]any{
						"type":        "object",
						"description": "Tool-specific parameters as key-value pairs",
					},
				},
				"required": []string{"tool", "parameters"},
			},
		},
		{
			Name: "execute_bash",
			Description: "Execute a bash command for tool chaining, piping, or custom operations. " +
				"Use for complex commands that combine multiple tools.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "The bash command to execute",
					},
				},
				"required": []string{"command"},
			},
		},
		{
			Name:        "record_finding",
			Description: "Record a security finding discovered during testing.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"severity": map[string]any{
						"type":        "string",
						"enum":        []string{"critical", "high", "medium", "low", "info"},
						"description": "Severity level of the finding",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "Brief title of the finding",
					},
					"description": map[string]any{
						"type":        "string",
						"description": "Detailed description including impact and remediation",
					},
					"evidence": map[string]any{
						"type":        "string",
						"description": "Tool output or proof supporting the finding",
					},
				},
				"required": []string{"severity", "title", "description"},
			},
		},
		{
			Name:        "read_file",
			Description: "Read a file from the scan data directory.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path relative to the data directory",
					},
				},
				"required": []string{"path"},
			},
		},
	}
}
