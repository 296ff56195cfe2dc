package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tokenbank/pkg/domain"
)

// GenerateKey writes a new private key to path and returns its identity.
// An existing key is never overwritten.
func GenerateKey(path string) (domain.Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return domain.Identity{}, err
	}
	identity, err := domain.IdentityFromPublicKey(pub)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return domain.Identity{}, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.Identity{}, fmt.Errorf("key %s already exists", path)
		}
		return domain.Identity{}, err
	}
	defer f.Close()
	if _, err := f.WriteString(hex.EncodeToString(priv) + "\n"); err != nil {
		return domain.Identity{}, err
	}
	return identity, nil
}

func LoadKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil || len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("key %s is not a hex encoded ed25519 private key", path)
	}
	return ed25519.PrivateKey(key), nil
}

func (a *app) keygenCommand() *cobra.Command {
	var show bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key, or print the identity of the existing one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.v.GetString(flagKey)
			if show {
				key, err := LoadKey(path)
				if err != nil {
					return err
				}
				identity, err := domain.IdentityFromPublicKey(key.Public().(ed25519.PublicKey))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), identity)
				return nil
			}
			identity, err := GenerateKey(path)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), identity)
			return nil
		},
	}
	cmd.Flags().BoolVar(&show, "show", false, "print the identity of the existing key")
	return cmd
}
