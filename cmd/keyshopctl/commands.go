package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
)

func keysCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage license key pools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [manifest.yaml]",
		Short: "Import AVAILABLE keys from a YAML manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			pools, err := parseManifest(f)
			if err != nil {
				return err
			}

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, p := range pools {
				n, err := a.keys.Import(ctx, p.TitleID, p.PlatformID, p.Codes)
				if err != nil {
					return fmt.Errorf("import %s/%s: %w", p.TitleID, p.PlatformID, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d keys into %s/%s\n", n, p.TitleID, p.PlatformID)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [key-id]",
		Short: "Delete an AVAILABLE key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("key id: %w", err)
			}

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := a.keys.Remove(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed key %s from %s/%s\n", key.ID, key.TitleID, key.PlatformID)
			return nil
		},
	})

	list := &cobra.Command{
		Use:   "list",
		Short: "List keys, optionally narrowed by pool, state or search text",
		RunE: func(cmd *cobra.Command, args []string) error {
			var f repo.KeyFilter
			for flag, dst := range map[string]*uuid.UUID{"title": &f.TitleID, "platform": &f.PlatformID} {
				raw, _ := cmd.Flags().GetString(flag)
				if raw == "" {
					continue
				}
				id, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("%s id: %w", flag, err)
				}
				*dst = id
			}
			state, _ := cmd.Flags().GetString("state")
			f.State = models.KeyState(strings.ToUpper(state))
			f.Search, _ = cmd.Flags().GetString("search")
			page, _ := cmd.Flags().GetInt("page")
			size, _ := cmd.Flags().GetInt("size")

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			total, keys, err := a.keys.List(ctx, f, page, size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, k := range keys {
				order := "-"
				if k.OrderID != nil {
					order = k.OrderID.String()
				}
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Code, k.State, k.TitleID, order)
			}
			fmt.Fprintf(out, "%d of %d keys\n", len(keys), total)
			return nil
		},
	}
	list.Flags().String("title", "", "title id")
	list.Flags().String("platform", "", "platform id")
	list.Flags().String("state", "", "AVAILABLE, RESERVED or SOLD")
	list.Flags().String("search", "", "substring of the code or title name")
	list.Flags().Int("page", 1, "page number")
	list.Flags().Int("size", 20, "page size")
	cmd.AddCommand(list)

	return cmd
}

func stockCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stock [title-id] [platform-id]",
		Short: "Print the number of AVAILABLE keys in a pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			titleID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("title id: %w", err)
			}
			platformID, err := uuid.Parse(args[1])
			if err != nil {
				return fmt.Errorf("platform id: %w", err)
			}

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.keys.AvailableCount(ctx, titleID, platformID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func ordersCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Resolve stuck orders",
	}

	expire := &cobra.Command{
		Use:   "expire",
		Short: "Fail PENDING orders older than --older-than and release their keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, err := cmd.Flags().GetDuration("older-than")
			if err != nil {
				return err
			}

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.orders.ExpirePending(ctx, olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d orders\n", n)
			return nil
		},
	}
	expire.Flags().Duration("older-than", 30*time.Minute, "age of PENDING orders to expire")
	cmd.AddCommand(expire)

	cmd.AddCommand(&cobra.Command{
		Use:   "cancel [order-id]",
		Short: "Fail a PENDING order and release its keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("order id: %w", err)
			}

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			order, err := a.orders.Cancel(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s is %s\n", order.ID, order.Status)
			return nil
		},
	})

	return cmd
}

func ratingsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ratings",
		Short: "Maintain title ratings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "recompute [title-id]",
		Short: "Recompute and store a title's average rating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("title id: %w", err)
			}

			ctx, a, err := openApp(cmd.Context(), v)
			if err != nil {
				return err
			}
			defer a.Close()

			avg, err := a.ratings.Recompute(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s average_rating=%.1f\n", id, avg)
			return nil
		},
	})

	return cmd
}
