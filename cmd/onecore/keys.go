package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/nacl/box"

	"onecore/core"
	"onecore/core/microdata"
	"onecore/core/object"
	"onecore/core/recipe"
	"onecore/core/versiongraph"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate or rotate a Person/Instance's Keys object",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate <owner>",
	Short: "Generate a new Keys object and import its secret material",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysGenerate,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <keys-hash-hex> <old-password> <new-password>",
	Short: "Re-encrypt a Keys object's secret material under a new password",
	Args:  cobra.ExactArgs(3),
	RunE:  runKeysRotate,
}

func init() {
	keysGenerateCmd.Flags().String("password", "", "password guarding the new secret material (required)")
	keysCmd.AddCommand(keysGenerateCmd, keysRotateCmd)
}

// newKeysObject builds the versioned Keys object (§3) for owner, hex-encoding
// the two public keys as its encryptionKey/signKey fields. The matching
// secret halves never pass through this object; callers hand them straight
// to internal/keychain.
func newKeysObject(owner string, encryptionPublicKey, signPublicKey []byte) *object.Object {
	obj := object.NewObject(keysRecipeName)
	obj.Fields["owner"] = object.Value{Kind: recipe.KindString, Str: owner}
	obj.Fields["encryptionKey"] = object.Value{Kind: recipe.KindString, Str: hex.EncodeToString(encryptionPublicKey)}
	obj.Fields["signKey"] = object.Value{Kind: recipe.KindString, Str: hex.EncodeToString(signPublicKey)}
	return obj
}

func runKeysGenerate(cmd *cobra.Command, args []string) error {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		return fmt.Errorf("onecore: --password is required")
	}
	owner := args[0]

	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}

	encPub, encSecret, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("onecore: generate encryption keypair: %w", err)
	}
	signPub, signSecret, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("onecore: generate signing keypair: %w", err)
	}

	obj := newKeysObject(owner, encPub[:], signPub)

	persist := &storePersister{store: inst.store, index: inst.index}
	keysHash, err := persist.PersistObject(obj, keysRecipe())
	if err != nil {
		return fmt.Errorf("onecore: persist Keys object: %w", err)
	}

	idHash, _, err := microdata.IdObjectHash(obj, keysRecipe())
	if err != nil {
		return fmt.Errorf("onecore: compute id-hash: %w", err)
	}
	root := &versiongraph.Node{
		Kind:         versiongraph.KindRoot,
		Data:         keysHash,
		CreationTime: time.Now().Unix(),
		Depth:        0,
	}
	nodeHash, err := persist.PersistMergeNode(root)
	if err != nil {
		return fmt.Errorf("onecore: persist root version-node: %w", err)
	}
	if err := inst.store.WriteVHead(idHash, nodeHash); err != nil {
		return fmt.Errorf("onecore: write vhead: %w", err)
	}

	if err := inst.keychain.Import(keysHash, password, encSecret[:], signSecret); err != nil {
		return fmt.Errorf("onecore: import secret material: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "owner=%s keysHash=%s idHash=%s\n", owner, keysHash.String(), idHash.String())
	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	keysHash, err := core.HashFromHex(args[0])
	if err != nil {
		return fmt.Errorf("onecore: invalid keys hash: %w", err)
	}
	inst, err := loadInstance(cmd)
	if err != nil {
		return err
	}
	if err := inst.keychain.Rewrite(keysHash, args[1], args[2]); err != nil {
		return fmt.Errorf("onecore: rotate keys: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "rotated secret material for %s\n", keysHash.String())
	return nil
}
