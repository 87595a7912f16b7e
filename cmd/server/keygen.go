package main

import (
	"fmt"

	"github.com/jrsteele09/go-smart-auth/token/keys"
	"github.com/spf13/cobra"
)

func keygenCmd() *cobra.Command {
	var (
		bits  int
		keyID string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RSA signing key for the backend services flow",
		Long: "Generate an RSA signing key and print it as a PKCS#8 PEM block, ready for SMART_PRIVATE_KEY " +
			"or SMART_ROTATION_PRIVATE_KEY. The kid is printed on stderr.",
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := keys.GenerateRSAKeyPair(keyID, bits)
			if err != nil {
				return err
			}
			pemData, err := kp.ExportPrivateKeyPEM()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "kid: %s (%d bits)\n", kp.KeyID, kp.Bits())
			_, err = fmt.Fprint(cmd.OutOrStdout(), pemData)
			return err
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 2048, "RSA key size; values below 2048 are raised to 2048")
	cmd.Flags().StringVar(&keyID, "kid", "", "key ID; derived from the public key when empty")
	return cmd
}
