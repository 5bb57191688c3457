package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/oran3030/samply/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the samply config file",
	Long:    paragraph(fmt.Sprintf("\n%s the samply config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("samply config\nsamply config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// An invalid config must not stop the user from editing it.
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if err := loadConfig(); err != nil {
			log.Warn("Current configuration is invalid", "err", err)
		}
		return nil
	},
	RunE: func(*cobra.Command, []string) error {
		if err := config.EnsureFile(configFile); err != nil {
			return err
		}

		c, err := editor.Cmd("samply", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}
