package main

import (
	"fmt"

	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/spf13/cobra"
)

func payCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Make a single payment",
		Long: `Make one payment through the same checks as rule-driven payments.

The reference doubles as the idempotency key: paying the same reference twice
is refused. Without --reference, one is derived from today's date, the amount
and the description.

Examples:
  autopay pay --to NL91ABNA0417164300 --to-name "Landlord" --amount 950 --description rent
  autopay pay --to friend@example.com --amount 12.50 --description pizza --draft`,
		RunE: runPay,
	}

	cmd.Flags().String("to", "", "Counterparty IBAN, email address or phone number (required)")
	cmd.Flags().String("to-name", "", "Counterparty name")
	cmd.Flags().Float64("amount", 0, "Amount to pay (required)")
	cmd.Flags().String("description", "", "Payment description (required)")
	cmd.Flags().String("currency", "", "Currency (default: payments.currency)")
	cmd.Flags().String("from", "", "Source account alias (default: payments.main_account)")
	cmd.Flags().String("reference", "", "Idempotency reference")
	cmd.Flags().Bool("draft", false, "Create a draft payment that needs approval in the bank")
	cmd.Flags().BoolP("dry-run", "d", false, "Check the payment against a copy of the database without submitting it")

	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}

func runPay(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()

	intent := model.PaymentIntent{}
	intent.ToAlias, _ = flags.GetString("to")
	intent.ToName, _ = flags.GetString("to-name")
	intent.Amount, _ = flags.GetFloat64("amount")
	intent.Description, _ = flags.GetString("description")
	intent.Currency, _ = flags.GetString("currency")
	intent.FromAlias, _ = flags.GetString("from")
	intent.Reference, _ = flags.GetString("reference")
	if flags.Changed("draft") {
		draft, _ := flags.GetBool("draft")
		intent.Draft = &draft
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dryRun, _ := flags.GetBool("dry-run"); dryRun {
		cleanup, err := usePreviewDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	rec, err := a.gateway.MakePayment(ctx, intent)
	if err != nil {
		if common.IsDuplicate(err) {
			return common.NewUserError("this payment was already made; pass a different --reference to pay again", err)
		}
		if common.PhaseOf(err) == common.PhaseProcessing {
			fmt.Println(cli.FormatWarning("The payment may have reached the bank. Check your account before retrying.")) //nolint:forbidigo // User-facing output
		}
		return err
	}

	status := "Payment sent"
	if rec.DryRun {
		status = "Payment simulated"
	}
	table := cli.RenderTable(
		[]string{"ID", "Amount", "To", "Reference"},
		[][]string{{
			rec.ID,
			cli.FormatAmount(-rec.Amount, rec.Currency),
			rec.ToAlias,
			rec.Reference,
		}},
	)
	fmt.Println(cli.FormatSuccess(status)) //nolint:forbidigo // User-facing output
	fmt.Println(table)                     //nolint:forbidigo // User-facing output

	return nil
}
