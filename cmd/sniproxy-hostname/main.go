// Command sniproxy-hostname prints the canonical on-disk name sniproxy
// expects for a given hostname: IDNA-to-ASCII (strict profile) with
// any single trailing dot stripped. Built with the hashed tag, it
// instead prints an unpadded base64url blake2s-256 hash of that ASCII
// form, so backend directory names never reveal the hostnames they
// serve.
//
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/net/idna"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sniproxy-hostname <hostname>",
		Short: "Print the hostname in the form sniproxy expects to find on disk",
		Long: "Prints the hostname in the format that sniproxy expects to find. The\n" +
			"hostname may be Unicode, in which case it will be encoded to Punycode." + hashedLongSuffix(),
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := canonicalHostname(args[0])
			if err != nil {
				return fmt.Errorf("invalid hostname: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}
	return cmd
}

// canonicalHostname converts raw to strict ASCII IDNA, strips a
// single trailing dot, then applies the build's name transform (the
// identity in the default build, a blake2s-256 hash in the hashed build).
func canonicalHostname(raw string) (string, error) {
	ascii, err := idna.New(
		idna.ValidateLabels(true),
		idna.VerifyDNSLength(true),
		idna.BidiRule(),
	).ToASCII(raw)
	if err != nil {
		return "", err
	}
	if len(ascii) > 0 && ascii[len(ascii)-1] == '.' {
		ascii = ascii[:len(ascii)-1]
	}
	return transformName(ascii), nil
}
