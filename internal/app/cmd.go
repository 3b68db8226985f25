package app

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hitoshi/resultwatch/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は同期・通知・クリーンアップを常駐実行することを示す。
	CommandWorker Command = "worker"
	// CommandSync は同期を1回だけ実行することを示す。
	CommandSync Command = "sync"
	// CommandNotify は未通知の変更履歴を1回だけ配信することを示す。
	CommandNotify Command = "notify"
	// CommandCleanup は古いデバイストークンの削除を1回だけ実行することを示す。
	CommandCleanup Command = "cleanup"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はresultwatchのルートコマンドを生成する。
// サブコマンドなしで起動した場合はserveとして動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "resultwatch",
		Short: "大学の結果公開ページを監視し、変更を記録して通知する",
		Long: `resultwatch は結果一覧ページを定期的に取得し、前回との差分を
PostgreSQLに記録したうえでWebhookとプッシュ通知で配信する。`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandServe, func(cfg *config.Config) error {
				return runServe(cmd.Context(), cfg)
			})
		},
	}

	var notifyAfterSync bool
	syncCmd := &cobra.Command{
		Use:   string(CommandSync),
		Short: "結果一覧を1回取得して差分を反映する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandSync, func(cfg *config.Config) error {
				return runSync(cmd.Context(), cfg, notifyAfterSync)
			})
		},
	}
	syncCmd.Flags().BoolVar(&notifyAfterSync, "notify", false, "同期に成功したら続けて通知を配信する")

	notifyCmd := &cobra.Command{
		Use:   string(CommandNotify),
		Short: "未通知の変更履歴を1回配信する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandNotify, func(cfg *config.Config) error {
				return runNotify(cmd.Context(), cfg)
			})
		},
	}

	serveCmd := &cobra.Command{
		Use:   string(CommandServe),
		Short: "ダッシュボードAPIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandServe, func(cfg *config.Config) error {
				return runServe(cmd.Context(), cfg)
			})
		},
	}

	workerCmd := &cobra.Command{
		Use:   string(CommandWorker),
		Short: "同期・通知・トークン削除を定期実行する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandWorker, func(cfg *config.Config) error {
				return runWorker(cmd.Context(), cfg)
			})
		},
	}

	migrateCmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "未適用のデータベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandMigrate, runMigrate)
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   string(CommandCleanup),
		Short: "保持期間を過ぎたデバイストークンを削除する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(w, CommandCleanup, func(cfg *config.Config) error {
				return runCleanup(cmd.Context(), cfg)
			})
		},
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	var port string
	healthcheckCmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "稼働中のAPIサーバーの /health を確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(port)
		},
	}
	healthcheckCmd.Flags().StringVar(&port, "port", defaultPort(), "APIサーバーのポート")

	root.AddCommand(syncCmd, notifyCmd, serveCmd, workerCmd, migrateCmd, cleanupCmd, healthcheckCmd)
	return root
}

func defaultPort() string {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		return port
	}
	return "8080"
}
