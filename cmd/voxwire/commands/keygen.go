package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxwire/voxwire/crypto"
)

// keygen: generate a long-term identity key pair.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Printf("public:  %s\n", hex.EncodeToString(kp.Public[:]))
			fmt.Printf("private: %s\n", hex.EncodeToString(kp.Private[:]))
			return nil
		},
	}
}
