package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/cardgen/internal/keys"
)

var (
	flagKeyProvider string
	flagShowKey     bool
)

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}
	cmd.PersistentFlags().StringVar(&flagKeyProvider, "provider", providerName, "provider the key belongs to")

	set := &cobra.Command{
		Use:   "set [KEY]",
		Short: "Store an API key (prompts when KEY is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}

			var key string
			if len(args) == 1 {
				key = args[0]
			} else if key, err = app.ReadSecret(app.In, app.Err); err != nil {
				return err
			}

			if err := store.Set(flagKeyProvider, key); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Saved %s key %s to %s\n", flagKeyProvider, keys.MaskKey(key), store.Path())
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			key, err := store.Get(flagKeyProvider)
			if err != nil {
				return err
			}
			if !flagShowKey {
				key = keys.MaskKey(key)
			}
			fmt.Fprintln(app.Out, key)
			return nil
		},
	}
	get.Flags().BoolVar(&flagShowKey, "show", false, "print the key unmasked")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the stored API key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			if err := store.Delete(flagKeyProvider); err != nil {
				return err
			}
			fmt.Fprintf(app.Out, "Deleted %s key\n", flagKeyProvider)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List providers with stored keys",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.NewKeyStore()
			if err != nil {
				return err
			}
			providers, err := store.List()
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				fmt.Fprintln(app.Out, "No stored keys")
				return nil
			}
			for _, p := range providers {
				key, err := store.Get(p)
				if err != nil && !errors.Is(err, keys.ErrKeyNotFound) {
					return err
				}
				fmt.Fprintf(app.Out, "%s\t%s\n", p, keys.MaskKey(key))
			}
			return nil
		},
	}

	cmd.AddCommand(set, get, del, list)
	return cmd
}
