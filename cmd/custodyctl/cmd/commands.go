package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

func (a *app) registryCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "registry", Short: "Manage whitelist registries"}
	cmd.AddCommand(
		a.post("init", "Create a registry administered by the signing key", cobra.NoArgs,
			func(_ []string) (string, any) { return "/registries", nil }),
		a.post("add-token REGISTRY_ID TOKEN", "Whitelist a token on a registry", cobra.ExactArgs(2),
			func(args []string) (string, any) {
				return "/registries/" + url.PathEscape(args[0]) + "/tokens", map[string]string{"token": args[1]}
			}),
		a.get("get REGISTRY_ID", "Show a registry and its whitelist", cobra.ExactArgs(1),
			func(args []string) string { return "/registries/" + url.PathEscape(args[0]) }),
		a.get("solvency REGISTRY_ID", "Compare vault holdings with ledger balances", cobra.ExactArgs(1),
			func(args []string) string { return "/registries/" + url.PathEscape(args[0]) + "/solvency" }),
		a.get("vault REGISTRY_ID TOKEN", "Show the custody vault for a token", cobra.ExactArgs(2),
			func(args []string) string {
				return "/registries/" + url.PathEscape(args[0]) + "/vaults/" + url.PathEscape(args[1])
			}),
	)
	return cmd
}

func (a *app) accountCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "account", Short: "Manage ledger accounts"}

	var limit int
	events := a.get("events ACCOUNT_ID", "List journal events for an account", cobra.ExactArgs(1),
		func(args []string) string {
			path := "/accounts/" + url.PathEscape(args[0]) + "/events"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			return path
		})
	events.Flags().IntVar(&limit, "limit", 0, "maximum number of events")

	cmd.AddCommand(
		a.post("init REGISTRY_ID", "Open an account owned by the signing key", cobra.ExactArgs(1),
			func(args []string) (string, any) {
				return "/registries/" + url.PathEscape(args[0]) + "/accounts", nil
			}),
		a.transferCommand("deposit", "deposits", "Move tokens from a holding into custody"),
		a.transferCommand("withdraw", "withdrawals", "Release tokens from custody to a holding"),
		a.get("get ACCOUNT_ID", "Show an account and its balances", cobra.ExactArgs(1),
			func(args []string) string { return "/accounts/" + url.PathEscape(args[0]) }),
		events,
	)
	return cmd
}

func (a *app) transferCommand(name, resource, short string) *cobra.Command {
	var (
		token   string
		amount  uint64
		holding string
	)
	cmd := a.post(name+" REGISTRY_ID ACCOUNT_ID", short, cobra.ExactArgs(2),
		func(args []string) (string, any) {
			path := "/registries/" + url.PathEscape(args[0]) + "/accounts/" + url.PathEscape(args[1]) + "/" + resource
			return path, map[string]any{"token": token, "amount": amount, "holding": holding}
		})
	cmd.Flags().StringVar(&token, "token", "", "token type")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount in base units")
	cmd.Flags().StringVar(&holding, "holding", "", "holding id")
	for _, f := range []string{"token", "amount", "holding"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func (a *app) mintCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "mint", Short: "Manage token mints"}

	var decimals uint8
	create := a.post("create TOKEN", "Create a mint with the signing key as authority", cobra.ExactArgs(1),
		func(args []string) (string, any) {
			return "/mints", map[string]any{"token": args[0], "decimals": decimals}
		})
	create.Flags().Uint8Var(&decimals, "decimals", 0, "decimal places")

	var (
		holding string
		amount  uint64
	)
	issue := a.post("issue TOKEN", "Issue new units into a holding", cobra.ExactArgs(1),
		func(args []string) (string, any) {
			return "/mints/" + url.PathEscape(args[0]) + "/issue", map[string]any{"holding": holding, "amount": amount}
		})
	issue.Flags().StringVar(&holding, "holding", "", "destination holding id")
	issue.Flags().Uint64Var(&amount, "amount", 0, "amount in base units")
	_ = issue.MarkFlagRequired("holding")
	_ = issue.MarkFlagRequired("amount")

	cmd.AddCommand(create, issue,
		a.get("get TOKEN", "Show a mint", cobra.ExactArgs(1),
			func(args []string) string { return "/mints/" + url.PathEscape(args[0]) }),
	)
	return cmd
}

func (a *app) holdingCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "holding", Short: "Manage token holdings"}
	cmd.AddCommand(
		a.post("create TOKEN", "Open a holding owned by the signing key", cobra.ExactArgs(1),
			func(args []string) (string, any) { return "/holdings", map[string]string{"token": args[0]} }),
		a.get("get HOLDING_ID", "Show a holding", cobra.ExactArgs(1),
			func(args []string) string { return "/holdings/" + url.PathEscape(args[0]) }),
	)
	return cmd
}

func (a *app) post(use, short string, args cobra.PositionalArgs, build func([]string) (string, any)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(true)
			if err != nil {
				return err
			}
			path, body := build(args)
			out, err := c.Post(cmd.Context(), path, body)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func (a *app) get(use, short string, args cobra.PositionalArgs, path func([]string) string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client(false)
			if err != nil {
				return err
			}
			out, err := c.Get(cmd.Context(), path(args))
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func printJSON(cmd *cobra.Command, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(cmd.OutOrStdout())
	return err
}
