package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tunechat/internal/i18n"
)

const sectionRule = "# -----------------------------------------------------------------------------\n"

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# tunechat Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n\n")

	writeSection(&content, cmd, "Chat Backend", "backend-url", "backend-timeout", "store-path")
	writeSection(&content, cmd, "Spotify Player", "spotify-api-url", "player-name", "initial-volume",
		"librespot-host", "librespot-port")
	writeSection(&content, cmd, "Playback", "play-retry-delay", "play-max-retries",
		"position-poll-interval", "command-timeout")
	writeSection(&content, cmd, "Recommendations", "recommend-enabled", "recommend-auto-play",
		"recommend-interval", "recommend-memory")
	writeSection(&content, cmd, "HTTP Server", "server-host", "server-port", "command-limit-per-minute")
	writeSection(&content, cmd, "Localization", "language")
	writeSection(&content, cmd, "Logging", "log-level", "log-format")

	content.WriteString("# Supported languages: ")
	content.WriteString(strings.Join(i18n.GetSupportedLanguages(), ", "))
	content.WriteString("\n")
	return content.String()
}

func writeSection(content *strings.Builder, cmd *cobra.Command, title string, flagNames ...string) {
	content.WriteString(sectionRule)
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString(sectionRule)
	fmt.Fprintf(content, "# CLI: --%s\n", strings.Join(flagNames, ", --"))

	for _, name := range flagNames {
		f := cmd.PersistentFlags().Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(content, "%s=%s  # %s (default: %s)\n",
			flagToEnvVar(name), f.DefValue, f.Usage, getDefaultValueString(cmd, name))
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}
