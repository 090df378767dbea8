// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/iwantit/internal/cache"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the step cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete expired cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(ctx, func(s cache.Store) error {
				n, err := s.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d entries\n", n)
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [namespace]",
		Short: "Delete every cache entry, or those of one namespace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ns := ""
			if len(args) == 1 {
				ns = args[0]
			}
			return withStore(ctx, func(s cache.Store) error {
				n, err := s.Clear(cmd.Context(), ns)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d entries\n", n)
				return nil
			})
		},
	})
	return cmd
}

func withStore(ctx *commandContext, fn func(cache.Store) error) error {
	store, err := ctx.openCache(false)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("caching is disabled (cache.backend: none)")
	}
	defer store.Close()
	return fn(store)
}
