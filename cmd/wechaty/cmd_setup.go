package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LinuxSuRen/wechaty/internal/config"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		scanner := bufio.NewScanner(os.Stdin)

		fmt.Println("Wechaty Setup Wizard")
		fmt.Println("Press Enter to accept the default value shown in brackets.")
		fmt.Println()

		cfg.Bridge.URL = prompt(scanner, "Browser bridge URL", cfg.Bridge.URL)
		cfg.Profile.Name = prompt(scanner, "Profile name", cfg.Profile.Name)
		cfg.Profile.Driver = prompt(scanner, "Profile storage (toml or sqlite)", cfg.Profile.Driver)
		cfg.Telegram.Token = prompt(scanner, "Telegram bot token (optional)", cfg.Telegram.Token)

		chatID := ""
		if cfg.Telegram.ChatID != 0 {
			chatID = strconv.FormatInt(cfg.Telegram.ChatID, 10)
		}
		if s := prompt(scanner, "Telegram operator chat id (optional)", chatID); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid chat id %q: %w", s, err)
			}
			cfg.Telegram.ChatID = n
		}

		enabled := prompt(scanner, "Enable admin HTTP server (y/n)", yesNo(cfg.HTTP.Enabled))
		cfg.HTTP.Enabled = strings.HasPrefix(strings.ToLower(enabled), "y")
		if cfg.HTTP.Enabled {
			cfg.HTTP.Listen = prompt(scanner, "Admin listen address", cfg.HTTP.Listen)
		}

		if cfg.Profile.Driver != "toml" && cfg.Profile.Driver != "sqlite" {
			return fmt.Errorf("unknown profile driver %q (want toml or sqlite)", cfg.Profile.Driver)
		}
		if err := config.Save(cfgPath, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}

		fmt.Println()
		fmt.Println("Configuration saved to", cfgPath)
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

// prompt displays a labeled prompt with a default value and reads user input.
// If the user enters nothing, the default is returned.
func prompt(scanner *bufio.Scanner, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("%s: ", label)
	}
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}
