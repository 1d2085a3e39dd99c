package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (c *cli) keysCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage the signing keystore",
	}

	var secret string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Store a key from a mnemonic, hex seed or dev URI (read from stdin unless --secret)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(c.cfg)
			if err != nil {
				return err
			}
			if secret == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no secret on stdin")
				}
				secret = strings.TrimSpace(line)
			}
			key, err := ks.Add(args[0], secret)
			if err != nil {
				return err
			}
			c.log.Info("Key added", zap.String("name", key.Name), zap.String("address", key.Address))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render(key.Name), key.Address)
			return nil
		},
	}
	add.Flags().StringVar(&secret, "secret", "", "Secret URI; prefer stdin so it stays out of shell history")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored keys and granted origins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(c.cfg)
			if err != nil {
				return err
			}
			all, err := ks.List()
			if err != nil {
				return err
			}
			origins, err := ks.Origins()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(all) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("no keys"))
			}
			for _, k := range all {
				fmt.Fprintf(out, "%-16s %s\n", k.Name, k.Address)
			}
			for _, o := range origins {
				fmt.Fprintf(out, "%s %s\n", mutedStyle.Render("origin"), o)
			}
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove NAME",
		Short: "Delete a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(c.cfg)
			if err != nil {
				return err
			}
			if err := ks.Remove(args[0]); err != nil {
				return err
			}
			c.log.Info("Key removed", zap.String("name", args[0]))
			return nil
		},
	}

	origin := func(args []string) string {
		if len(args) == 1 {
			return args[0]
		}
		return c.cfg.Wallet.Origin
	}
	grant := &cobra.Command{
		Use:   "grant [ORIGIN]",
		Short: "Let an origin use the stored keys (default: the configured origin)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(c.cfg)
			if err != nil {
				return err
			}
			o := origin(args)
			if err := ks.Grant(o); err != nil {
				return err
			}
			c.log.Info("Origin granted", zap.String("origin", o))
			return nil
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke [ORIGIN]",
		Short: "Withdraw an origin's access to the stored keys",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := openKeystore(c.cfg)
			if err != nil {
				return err
			}
			o := origin(args)
			if err := ks.Revoke(o); err != nil {
				return err
			}
			c.log.Info("Origin revoked", zap.String("origin", o))
			return nil
		},
	}

	keys.AddCommand(add, list, remove, grant, revoke)
	return keys
}
