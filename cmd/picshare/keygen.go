package main

import (
	"fmt"

	"github.com/jmerrifield20/picshare/internal/identity"
	"github.com/spf13/cobra"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the session token signing key",
	Long: `keygen creates the RSA key that signs session tokens in identity.key_dir.

Replacing an existing key invalidates every session token issued with it, so
an existing key is only overwritten with --force.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		km := identity.NewKeyManager(cfg.Identity.KeyDir)
		if err := km.Load(); err == nil && !keygenForce {
			return fmt.Errorf("signing key already exists in %s (use --force to replace it)", cfg.Identity.KeyDir)
		}
		if err := km.Create(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created signing key %s in %s\n",
			identity.KeyID(&km.Key().PublicKey), cfg.Identity.KeyDir)
		return nil
	},
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenForce, "force", false, "replace an existing signing key")
}
