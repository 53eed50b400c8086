package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/courtres/internal/crypto"
)

func newSealCmd() *cobra.Command {
	var key string
	c := &cobra.Command{
		Use:   "seal",
		Short: "Seal the portal password read from stdin into PORTAL_PASSWORD_SEALED",
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("CRED_ENC_KEY")
			}
			if key == "" {
				return errors.New("CRED_ENC_KEY is required (run `courtres keys`)")
			}
			s, err := crypto.NewFromString(key)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			pw := strings.TrimRight(line, "\r\n")
			if pw == "" {
				return errors.New("empty password")
			}
			sealed, err := s.SealString(pw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export PORTAL_PASSWORD_SEALED=%s\n", sealed)
			return nil
		},
	}
	c.Flags().StringVar(&key, "key", "", "base64 key (defaults to $CRED_ENC_KEY)")
	return c
}
