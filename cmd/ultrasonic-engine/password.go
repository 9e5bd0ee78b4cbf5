package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ultrasonic/ultrasonic-sub000/internal/config"
	"github.com/ultrasonic/ultrasonic-sub000/internal/security"
)

var setPasswordCmd = &cobra.Command{
	Use:   "set-password",
	Short: "Store the server password encrypted in the settings file",
	Long:  "Reads the password from standard input and saves it encrypted with the machine key.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password := strings.TrimRight(line, "\r\n")
		if password == "" {
			return fmt.Errorf("password cannot be empty")
		}

		encrypted, err := security.NewPasswordEncryptor(config.GetDataDir()).EncryptPassword(password)
		if err != nil {
			return err
		}
		cfg.Server.Password = encrypted
		if err := cfg.Save(resolvedConfigPath()); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}
		fmt.Fprintln(os.Stderr, "password saved")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(setPasswordCmd)
}
