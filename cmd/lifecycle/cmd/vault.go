package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/jrsteele09/go-auth-lifecycle/vault"
	"github.com/spf13/cobra"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Generate keys and seal/unseal values",
}

var vaultKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a random vault key",
	Long: `Generate a random 256-bit vault key as 64 hex characters, for use in
vault.key or LIFECYCLE_VAULT_KEY. Store it somewhere safe: sealed data cannot be
recovered without it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := vault.GenerateKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key.Hex())
		return nil
	},
}

var vaultSealCmd = &cobra.Command{
	Use:   "seal [plaintext|-]",
	Short: "Seal a value with the configured key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSealer(cmd, args[0], (*vault.Sealer).Seal)
	},
}

var vaultUnsealCmd = &cobra.Command{
	Use:   "unseal [envelope|-]",
	Short: "Unseal an envelope with the configured key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSealer(cmd, args[0], (*vault.Sealer).Unseal)
	},
}

func withSealer(cmd *cobra.Command, arg string, op func(*vault.Sealer, string) (string, error)) error {
	key, err := cfg.GetVaultKey()
	if err != nil {
		return err
	}
	if arg == "-" {
		if arg, err = readLine(cmd); err != nil {
			return err
		}
	}
	out, err := op(vault.NewSealer(vault.New(), key), arg)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func readLine(cmd *cobra.Command) (string, error) {
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	line = strings.TrimRight(line, "\r\n")
	if line == "" && err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return line, nil
}

func init() {
	vaultCmd.AddCommand(vaultKeygenCmd, vaultSealCmd, vaultUnsealCmd)
	rootCmd.AddCommand(vaultCmd)
}
