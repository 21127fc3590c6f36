package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/autopay/internal/actions"
	"github.com/Veraticus/autopay/internal/cli"
	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/config"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/rules"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Show the effective rules",
		Long: `Print every configured rule merged with its action defaults, in the order
rules are evaluated. Rules without a from, subject or body matcher are listed
separately; they never run.`,
		RunE: runRules,
	}

	cmd.AddCommand(rulesTestCmd())

	return cmd
}

func newMatcher(cfg *config.Config) (*rules.Matcher, *actions.Registry) {
	registry := actions.NewRegistry(actions.Deps{})
	return rules.NewMatcher(cfg.Rules, registry, rules.WithMinSecurityScore(cfg.Security.MinScore)), registry
}

func runRules(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	matcher, registry := newMatcher(cfg)

	fmt.Println(cli.SubtleStyle.Render("Actions: " + strings.Join(registry.IDs(), ", "))) //nolint:forbidigo // User-facing output

	out, err := yaml.Marshal(map[string][]model.Rule{"rules": matcher.Rules()})
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}
	fmt.Print(string(out)) //nolint:forbidigo // User-facing output

	if rejected := matcher.Rejected(); len(rejected) > 0 {
		out, err := yaml.Marshal(map[string][]model.Rule{"rejected": rejected})
		if err != nil {
			return fmt.Errorf("failed to encode rejected rules: %w", err)
		}
		fmt.Println()                                                                   //nolint:forbidigo // User-facing output
		fmt.Println(cli.FormatWarning("These rules have no matchers and are ignored:")) //nolint:forbidigo // User-facing output
		fmt.Print(string(out))                                                          //nolint:forbidigo // User-facing output
	}

	return nil
}

func rulesTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test FILE.eml",
		Short: "Show which rules a saved message would trigger",
		Long: `Parse a saved message and list the rules that match it, without running
any action. Useful for checking sender and subject patterns before going live.`,
		Args: cobra.ExactArgs(1),
		RunE: runRulesTest,
	}
}

func runRulesTest(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	msg, err := readMessageFile(args[0])
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("From: %s\nMessage-ID: %s\nSecurity score: %d of %d",
		msg.From, msg.NormalizedID(), rules.SecurityScore(msg), rules.MaxSecurityScore)
	fmt.Println(cli.RenderBox(msg.Subject, summary)) //nolint:forbidigo // User-facing output

	matcher, _ := newMatcher(cfg)
	matches, err := matcher.Match(msg)
	if errors.Is(err, common.ErrSecurityCheckFailed) {
		fmt.Println(cli.FormatError("Dropped: " + err.Error())) //nolint:forbidigo // User-facing output
		return nil
	}
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println(cli.InfoStyle.Render("No rule matches this message.")) //nolint:forbidigo // User-facing output
		return nil
	}

	rows := make([][]string, 0, len(matches))
	for _, match := range matches {
		known := cli.SuccessIcon
		if !match.Known {
			known = cli.ErrorIcon + " unknown action"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", match.Index),
			match.Rule.Label(),
			match.Rule.Action,
			known,
		})
	}
	fmt.Println(cli.RenderTable([]string{"#", "Rule", "Action", "Handler"}, rows)) //nolint:forbidigo // User-facing output

	return nil
}
