package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/maltedev/company-scraper/internal/accounts"
)

var addFlags struct {
	name  string
	email string
	token string
}

var settingsFlags struct {
	locations   bool
	jobLocation string
	raiseHood   bool
}

func init() {
	addCmd.Flags().StringVar(&addFlags.name, "name", "", "Display name of the account.")
	addCmd.Flags().StringVar(&addFlags.email, "email", "", "Login email, informational only.")
	addCmd.Flags().StringVar(&addFlags.token, "token", "", "Session cookie value.")
	_ = addCmd.MarkFlagRequired("name")
	_ = addCmd.MarkFlagRequired("token")

	settingsCmd.Flags().BoolVar(&settingsFlags.locations, "locations", false, "Collect employees per country by default.")
	settingsCmd.Flags().StringVar(&settingsFlags.jobLocation, "job-location", "", "Default location filter for job searches.")
	settingsCmd.Flags().BoolVar(&settingsFlags.raiseHood, "raise-the-hood", false, "Show the browser window while scraping.")

	accountsCmd.AddCommand(listCmd, addCmd, selectCmd, removeCmd, tokenCmd, settingsCmd)
	rootCmd.AddCommand(accountsCmd)
}

func openStore() (*accounts.Store, error) {
	store, err := accounts.NewStore(cfg.Accounts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts store: %w", err)
	}
	return store, nil
}

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manages the accounts whose sessions are used for scraping.",
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the stored accounts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"", "ID", "Name", "Email", "Type", "Token"})
		for _, acc := range store.Accounts() {
			selected := ""
			if acc.Selected {
				selected = "*"
			}
			token := "missing"
			if acc.HasToken() {
				token = "ok"
			}
			t.AppendRow(table.Row{selected, acc.ID, acc.Name, acc.Email, acc.Type, token})
		}
		t.Render()

		s := store.Settings()
		fmt.Printf("locations=%t job-location=%q raise-the-hood=%t\n", s.GetLocations, s.JobLocation, s.RaiseTheHood)
		return nil
	},
}

var addCmd = &cobra.Command{
	Use:   "add --name <name> --token <token> [--email <email>]",
	Short: "Stores a new account. The first account becomes the selected one.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		token := addFlags.token
		acc, err := store.Add(accounts.Account{
			Name:  addFlags.name,
			Email: addFlags.email,
			Token: &token,
			Type:  accounts.TypeManual,
		})
		if err != nil {
			return err
		}
		fmt.Printf("added %s (%s)\n", acc.Name, acc.ID)
		return nil
	},
}

var selectCmd = &cobra.Command{
	Use:   "select <id>",
	Short: "Makes the account the one used by default.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.Select(args[0])
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Deletes the account.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.Remove(args[0])
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <id> <token>",
	Short: "Replaces the session token of a reconnected account.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		return store.SetToken(args[0], args[1])
	},
}

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Updates the default scrape settings.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		return store.UpdateSettings(func(s *accounts.Settings) {
			if flags.Changed("locations") {
				s.GetLocations = settingsFlags.locations
			}
			if flags.Changed("job-location") {
				s.JobLocation = settingsFlags.jobLocation
			}
			if flags.Changed("raise-the-hood") {
				s.RaiseTheHood = settingsFlags.raiseHood
			}
		})
	},
}
