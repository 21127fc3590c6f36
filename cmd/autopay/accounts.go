package main

import (
	"fmt"
	"strings"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/spf13/cobra"
)

func accountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "Show the bank accounts visible to the payment API",
		Long: `Check the bank connection and list the accounts payments can be made from.

Use one of the listed aliases as payments.main_account.`,
		RunE: runAccounts,
	}
}

func runAccounts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	api, err := newPaymentAPI(ctx, cfg)
	if err != nil {
		return err
	}

	ok, err := api.IsAuthenticated(ctx)
	if err != nil {
		return fmt.Errorf("failed to check authentication: %w", err)
	}
	if !ok {
		return common.NewUserError("the bank rejected the configured credentials", common.ErrPaymentsUnauthenticated)
	}

	accounts, err := api.ListAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	if len(accounts) == 0 {
		fmt.Println(cli.InfoStyle.Render("The bank returned no accounts.")) //nolint:forbidigo // User-facing output
		return nil
	}

	rows := make([][]string, 0, len(accounts))
	for _, acct := range accounts {
		aliases := make([]string, 0, len(acct.Aliases))
		for _, alias := range acct.Aliases {
			aliases = append(aliases, alias.Value)
		}
		marker := ""
		if cfg.Payments.MainAccount != "" && acct.HasAlias(cfg.Payments.MainAccount) {
			marker = cli.CheckIcon
		}
		rows = append(rows, []string{
			acct.ID,
			acct.Description,
			strings.Join(aliases, ", "),
			cli.FormatAmount(acct.Balance, cfg.Payments.Currency),
			marker,
		})
	}

	table := cli.RenderTable([]string{"ID", "Description", "Aliases", "Balance", "Main"}, rows)
	fmt.Println(cli.FormatTitle(fmt.Sprintf("Accounts (%s)", cfg.Bank.Provider))) //nolint:forbidigo // User-facing output
	fmt.Println(table)                                                            //nolint:forbidigo // User-facing output

	return nil
}
