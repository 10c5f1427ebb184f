// ABOUTME: Interactive "init" subcommand that writes a gateway config file
// ABOUTME: Prompts for server, database, auth, tailscale and logging settings

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func yes(answer string) bool {
	a := strings.ToLower(answer)
	return a == "yes" || a == "y"
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("sure-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultDbPath := filepath.Join(getDataPath(), "gateway.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	driver := prompt(reader, "Database driver (sqlite/postgres)", "sqlite")
	var dbPath, dsn string
	if driver == "postgres" {
		dsn = prompt(reader, "Postgres URL", "postgres://localhost:5432/sure?sslmode=disable")
	} else {
		dbPath = prompt(reader, "SQLite database path", defaultDbPath)
	}

	fmt.Println("\n--- Auth Configuration ---")
	contactSecret := prompt(reader, "Contact session secret (empty to generate)", "")
	if contactSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("generating contact secret: %w", err)
		}
		contactSecret = secret
	}
	operatorToken := prompt(reader, "Operator dashboard token (empty leaves dashboard open)", "")
	ingestToken := prompt(reader, "Event ingest token (empty leaves ingest open)", "")

	fmt.Println("\n--- Tailscale Configuration ---")
	tailscaleEnabled := yes(prompt(reader, "Enable Tailscale?", "no"))

	var tsHostname, tsAuthKey string
	var tsEphemeral, tsFunnel bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "sure-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty for interactive)", "")
		tsEphemeral = yes(prompt(reader, "Ephemeral node?", "no"))
		tsFunnel = yes(prompt(reader, "Enable Funnel (public HTTPS)?", "no"))
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# sure-gateway configuration\n")
	cfg.WriteString("# Generated by sure-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n", httpAddr)
	if grpcAddr != "" {
		fmt.Fprintf(&cfg, "  grpc_addr: %q\n", grpcAddr)
	}
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	if dsn != "" {
		fmt.Fprintf(&cfg, "  dsn: %q\n", dsn)
	} else {
		fmt.Fprintf(&cfg, "  path: %q\n", dbPath)
	}
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	fmt.Fprintf(&cfg, "  contact_secret: %q\n", contactSecret)
	if operatorToken != "" {
		fmt.Fprintf(&cfg, "  operator_token: %q\n", operatorToken)
	}
	cfg.WriteString("\n")

	cfg.WriteString("events:\n")
	cfg.WriteString("  keep_alive: \"25s\"\n")
	cfg.WriteString("  max_lifetime: \"30m\"\n")
	if ingestToken != "" {
		fmt.Fprintf(&cfg, "  ingest_token: %q\n", ingestToken)
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", tailscaleEnabled)
	if tailscaleEnabled {
		fmt.Fprintf(&cfg, "  hostname: %q\n", tsHostname)
		if tsAuthKey != "" {
			fmt.Fprintf(&cfg, "  auth_key: %q\n", tsAuthKey)
		}
		fmt.Fprintf(&cfg, "  ephemeral: %t\n", tsEphemeral)
		fmt.Fprintf(&cfg, "  funnel: %t\n", tsFunnel)
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfiguration written to %s\n", outputFile)
	fmt.Println("\nTo start the gateway:")
	fmt.Println("  sure-gateway serve")

	return nil
}

// prompt asks a question and returns the answer, or defaultVal when the
// answer is empty or stdin is closed.
func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
