package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "Read an API key from stdin and print its bcrypt hash",
	Long: `Read an API key from stdin and print a bcrypt hash suitable for
security.api_key_hash, so the plain key need not be stored in the config.

Example:
  echo -n 'my-key' | engiero hash-key`,
	RunE: runHashKey,
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
	hashKeyCmd.Flags().Int("cost", bcrypt.DefaultCost, "bcrypt cost")
}

func runHashKey(cmd *cobra.Command, args []string) error {
	cost, _ := cmd.Flags().GetInt("cost")

	key, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	key = strings.TrimSpace(key)
	if key == "" {
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		return fmt.Errorf("empty key")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return fmt.Errorf("failed to hash key: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(hash))
	return nil
}
