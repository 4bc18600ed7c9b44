package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LinuxSuRen/wechaty/internal/config"
	"github.com/LinuxSuRen/wechaty/internal/profile"
	"github.com/LinuxSuRen/wechaty/internal/profile/sqlitestore"
	"github.com/LinuxSuRen/wechaty/internal/profile/tomlstore"
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileShowCmd, profileClearCmd)
}

// openProfileStore opens the cookie jar backend selected by profile.driver.
func openProfileStore(cfg *config.Config) (profile.Store, error) {
	switch cfg.Profile.Driver {
	case "", "toml":
		return tomlstore.New(cfg.ProfileDir())
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlitestore.Open(cfg.ProfileDB())
	default:
		return nil, fmt.Errorf("unknown profile driver %q (want toml or sqlite)", cfg.Profile.Driver)
	}
}

func profileName(cfg *config.Config, args []string) (string, error) {
	name := cfg.Profile.Name
	if len(args) > 0 {
		name = args[0]
	}
	return name, profile.ValidateName(name)
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved login profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "List the cookies saved for a profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		name, err := profileName(cfg, args)
		if err != nil {
			return err
		}
		store, err := openProfileStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		cookies, err := store.Load(context.Background(), name)
		if err != nil {
			return fmt.Errorf("load profile: %w", err)
		}
		if len(cookies) == 0 {
			fmt.Printf("Profile %s has no saved cookies.\n", name)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDOMAIN\tEXPIRES")
		for _, c := range cookies {
			expires := "session"
			if c.Expires > 0 {
				expires = time.Unix(int64(c.Expires), 0).Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, c.Domain, expires)
		}
		return w.Flush()
	},
}

var profileClearCmd = &cobra.Command{
	Use:   "clear [name]",
	Short: "Delete the cookies saved for a profile",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		name, err := profileName(cfg, args)
		if err != nil {
			return err
		}
		store, err := openProfileStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := profile.NewJar(store, name).Clear(context.Background()); err != nil {
			return fmt.Errorf("clear profile: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Profile %s cleared.\n", name)
		return nil
	},
}
