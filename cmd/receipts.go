package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	receiptsUser string
	receiptsID   string
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Inspect and manage receipt records",
}

var receiptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List receipts for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		receipts, err := st.ListReceipts(ctx, receiptsUser)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(receipts)
	},
}

var receiptsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one receipt",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		receipt, err := st.GetReceipt(ctx, receiptsID, receiptsUser)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(receipt)
	},
}

var receiptsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a receipt and its stored file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Files.Bucket == "" {
			return eris.New("files.bucket is required (RECEIPTS_FILES_BUCKET)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		files, err := initFileStore(ctx)
		if err != nil {
			return err
		}

		if err := deleteReceipt(ctx, st, files, receiptsID, receiptsUser); err != nil {
			return err
		}

		zap.L().Info("receipt deleted", zap.String("receipt_id", receiptsID))
		return nil
	},
}

func init() {
	receiptsCmd.PersistentFlags().StringVar(&receiptsUser, "user", "", "acting user id (required)")
	_ = receiptsCmd.MarkPersistentFlagRequired("user")

	receiptsGetCmd.Flags().StringVar(&receiptsID, "id", "", "receipt id (required)")
	_ = receiptsGetCmd.MarkFlagRequired("id")
	receiptsDeleteCmd.Flags().StringVar(&receiptsID, "id", "", "receipt id (required)")
	_ = receiptsDeleteCmd.MarkFlagRequired("id")

	receiptsCmd.AddCommand(receiptsListCmd, receiptsGetCmd, receiptsDeleteCmd)
	rootCmd.AddCommand(receiptsCmd)
}
