package commands

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

// buildEnvironmentMetadata describes the host for the system prompt.
func buildEnvironmentMetadata(version string) string {
	now := time.Now()
	zoneName, offset := now.Zone()
	if strings.TrimSpace(zoneName) == "" {
		zoneName = "Local"
	}
	lines := []string{
		fmt.Sprintf("- OS: %s (%s)", runtime.GOOS, runtime.GOARCH),
	}
	if shell := detectShell(); shell != "" {
		lines = append(lines, fmt.Sprintf("- Shell: %s", shell))
	}
	lines = append(lines, fmt.Sprintf("- Date: %s", now.Format("2006-01-02")))
	lines = append(lines, fmt.Sprintf("- Timezone: %s (UTC%s)", zoneName, formatUTCOffset(offset)))
	if locale := detectLocale(); locale != "" {
		lines = append(lines, fmt.Sprintf("- System Language: %s", locale))
	}
	if wd, err := os.Getwd(); err == nil {
		lines = append(lines, fmt.Sprintf("- Working Directory: %s", wd))
	}
	if isArchISO() {
		lines = append(lines, "- Running from the Arch Linux live ISO")
	}
	if version != "" {
		lines = append(lines, fmt.Sprintf("- gptterm Version: %s", version))
	}
	return strings.Join(lines, "\n")
}

func detectShell() string {
	if shell := strings.TrimSpace(os.Getenv("SHELL")); shell != "" {
		return shell
	}
	return ""
}

func detectLocale() string {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := strings.TrimSpace(os.Getenv(key)); val != "" {
			return val
		}
	}
	return ""
}

// isArchISO reports whether the live installation medium is running.
func isArchISO() bool {
	_, err := os.Stat("/run/archiso")
	return err == nil
}

func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	hours := offsetSeconds / 3600
	minutes := (offsetSeconds % 3600) / 60
	return fmt.Sprintf("%s%02d:%02d", sign, hours, minutes)
}
