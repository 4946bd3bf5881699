package app

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hitoshi/mermaidboard/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークンの定期削除ワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandPurge は期限切れトークンの削除を1回だけ実行することを示す。
	CommandPurge Command = "purge"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

const defaultPort = "5050"

// NewRootCommand はCLIのルートコマンドを生成する。
// ログはwに出力する。サブコマンドなしで実行した場合はserveとして動作する。
func NewRootCommand(w io.Writer) *cobra.Command {
	serve := newConfiguredCommand(w, CommandServe, "Start the API server", runServe)

	root := &cobra.Command{
		Use:           "mermaidboard",
		Short:         "Backend API for the Mermaid diagram editor",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          serve.RunE,
	}

	root.AddCommand(
		serve,
		newConfiguredCommand(w, CommandWorker, "Periodically purge expired sessions and refresh tokens", runWorker),
		newConfiguredCommand(w, CommandPurge, "Purge expired sessions and refresh tokens once", runPurge),
		newMigrateCommand(w),
		newHealthcheckCommand(),
	)
	return root
}

// newConfiguredCommand は設定読み込みとシグナルハンドリングを行ってからrunを呼ぶサブコマンドを生成する。
func newConfiguredCommand(w io.Writer, name Command, short string, run func(context.Context, *config.Config) error) *cobra.Command {
	return &cobra.Command{
		Use:   string(name),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   string(CommandMigrate),
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := Init(w)
			if err != nil {
				return err
			}
			return runMigrate(cfg, down)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back all migrations")
	return cmd
}

// newHealthcheckCommand は軽量サブコマンドのため、設定の読み込みを行わない。
func newHealthcheckCommand() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check that the API server on this host is healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(commandContext(cmd), baseURL)
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultHealthcheckURL(), "base URL of the API server")
	return cmd
}

func defaultHealthcheckURL() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}
	return "http://localhost:" + port
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
