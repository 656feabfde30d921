package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/finscope/profiler-cli/internal/model"
)

var accountCredentialRef string

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage source accounts used for fetching",
}

var accountsAddCmd = &cobra.Command{
	Use:   "add <account-id>",
	Short: "Register a source account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		account := &model.SourceAccount{
			ID:            args[0],
			CredentialRef: accountCredentialRef,
			CreatedAt:     time.Now().UTC(),
		}
		if err := env.Store.SaveAccount(cmd.Context(), account); err != nil {
			return err
		}
		zap.L().Info("account registered", zap.String("account_id", account.ID))
		return nil
	},
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List source accounts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		accounts, err := env.Store.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(accounts)
	},
}

var accountsBlockCmd = &cobra.Command{
	Use:   "block <account-id>",
	Short: "Mark an account blocked so the pacer stops using it",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setBlocked(cmd, args[0], true) },
}

var accountsUnblockCmd = &cobra.Command{
	Use:   "unblock <account-id>",
	Short: "Clear an account's blocked flag",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setBlocked(cmd, args[0], false) },
}

func setBlocked(cmd *cobra.Command, id string, blocked bool) error {
	env, err := initEnv(cmd.Context())
	if err != nil {
		return err
	}
	defer env.Close()

	account, err := env.Store.GetAccount(cmd.Context(), id)
	if err != nil {
		return err
	}
	account.Blocked = blocked
	if err := env.Store.SaveAccount(cmd.Context(), account); err != nil {
		return err
	}
	zap.L().Info("account updated",
		zap.String("account_id", id),
		zap.Bool("blocked", blocked))
	return nil
}

func init() {
	accountsAddCmd.Flags().StringVar(&accountCredentialRef, "credential-ref", "", "opaque reference the gate resolves to credentials")
	accountsCmd.AddCommand(accountsAddCmd, accountsListCmd, accountsBlockCmd, accountsUnblockCmd)
	rootCmd.AddCommand(accountsCmd)
}
