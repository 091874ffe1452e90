package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/auth"
	"github.com/MarcoPoloResearchLab/notesync/internal/config"
	"github.com/MarcoPoloResearchLab/notesync/internal/logging"
	"github.com/MarcoPoloResearchLab/notesync/internal/server"
	"github.com/MarcoPoloResearchLab/notesync/internal/syncer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "notesync",
		Short:         "Synchronize RERUM annotation documents with the relational notes store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(newTokenCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "notesync:", err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("rerum-url", "", "RERUM API base URL")
	flags.String("rerum-token", "", "RERUM bearer token used for writes")
	flags.Int("rerum-page-size", defaults.GetInt("rerum.page_size"), "Documents requested per query page")
	flags.String("database-url", "", "PostgreSQL connection URL")
	flags.Int("database-max-conns", defaults.GetInt("database.max_conns"), "Maximum open relational connections")
	flags.Bool("apply", false, "Write changes (default is a dry run)")
	flags.Bool("full", false, "Ignore sync cursors and process every record")
	flags.Bool("watch", false, "Keep running and sync on an interval")
	flags.Duration("interval", defaults.GetDuration("sync.interval"), "Delay between watch runs")
	flags.String("direction", defaults.GetString("sync.direction"), "Sync direction (forward, reverse, both)")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("status-address", "", "Status server listen address (empty disables it)")
	flags.StringSlice("allowed-origins", nil, "Origins allowed to call the status server")
	flags.String("operator-secret", "", "Signing secret for operator tokens")
	flags.String("firebase-credentials", "", "Service account file for Firebase identity lookups")

	bindFlag(cmd, "rerum.base_url", "rerum-url")
	bindFlag(cmd, "rerum.token", "rerum-token")
	bindFlag(cmd, "rerum.page_size", "rerum-page-size")
	bindFlag(cmd, "database.url", "database-url")
	bindFlag(cmd, "database.max_conns", "database-max-conns")
	bindFlag(cmd, "sync.apply", "apply")
	bindFlag(cmd, "sync.full", "full")
	bindFlag(cmd, "sync.watch", "watch")
	bindFlag(cmd, "sync.interval", "interval")
	bindFlag(cmd, "sync.direction", "direction")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "status.address", "status-address")
	bindFlag(cmd, "status.allowed_origins", "allowed-origins")
	bindFlag(cmd, "operator.secret", "operator-secret")
	bindFlag(cmd, "firebase.credentials", "firebase-credentials")
}

func newTokenCommand() *cobra.Command {
	defaults := config.NewViper()
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator bearer token for the status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return issueToken(cmd.Context(), cmd)
		},
	}
	cmd.Flags().String("subject", defaults.GetString("operator.subject"), "Token subject")
	cmd.Flags().Duration("ttl", defaults.GetDuration("operator.token_ttl"), "Token lifetime")
	if err := viper.BindPFlag("operator.subject", cmd.Flags().Lookup("subject")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("operator.token_ttl", cmd.Flags().Lookup("ttl")); err != nil {
		panic(err)
	}
	return cmd
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("notesync")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func issueToken(ctx context.Context, cmd *cobra.Command) error {
	tokenConfig, err := config.LoadToken(viper.GetViper())
	if err != nil {
		return err
	}
	issuer, err := newOperatorTokens(tokenConfig.OperatorSecret, tokenConfig.OperatorTokenTTL)
	if err != nil {
		return err
	}
	token, expiresAt, err := issuer.IssueOperatorToken(ctx, tokenConfig.Subject, tokenConfig.OperatorTokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

func newOperatorTokens(secret string, ttl time.Duration) (*auth.TokenIssuer, error) {
	return auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(secret),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      ttl,
	})
}

func runSync(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := server.NewRunDispatcher()
	engine, err := buildEngine(signalCtx, appConfig, []syncer.Observer{dispatcher}, logger)
	if err != nil {
		logger.Error("sync engine setup failed", zap.Error(err))
		return err
	}
	defer engine.close()

	request := syncer.Request{Full: appConfig.Full, Direction: engine.direction}

	serveCtx, stopServing := context.WithCancel(signalCtx)
	defer stopServing()
	serveErr, err := startStatusServer(serveCtx, appConfig, engine.orchestrator, dispatcher, request, logger)
	if err != nil {
		return err
	}

	if appConfig.Watch {
		watchErr := make(chan error, 1)
		go func() {
			watchErr <- engine.orchestrator.Watch(signalCtx, request, appConfig.Interval)
		}()
		select {
		case err := <-watchErr:
			stopServing()
			<-serveErr
			return err
		case err := <-serveErr:
			stop()
			<-watchErr
			return err
		}
	}

	_, runErr := engine.orchestrator.Run(signalCtx, request)
	stopServing()
	if err := <-serveErr; err != nil {
		logger.Warn("status server stopped with error", zap.Error(err))
	}
	if runErr != nil {
		logger.Error("sync run failed", zap.Error(runErr))
		return runErr
	}
	return nil
}

// startStatusServer serves the status API when configured. The returned
// channel yields the server's exit error once serveCtx is done.
func startStatusServer(serveCtx context.Context, appConfig config.AppConfig, runner server.RunController, dispatcher *server.RunDispatcher, request syncer.Request, logger *zap.Logger) (<-chan error, error) {
	result := make(chan error, 1)
	if appConfig.StatusAddress == "" {
		go func() {
			<-serveCtx.Done()
			close(result)
		}()
		return result, nil
	}

	var tokens server.TokenValidator
	if appConfig.OperatorSecret != "" {
		issuer, err := newOperatorTokens(appConfig.OperatorSecret, appConfig.OperatorTokenTTL)
		if err != nil {
			return nil, err
		}
		tokens = issuer
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Runner:         runner,
		Tokens:         tokens,
		Events:         dispatcher,
		DefaultRequest: request,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		result <- server.Serve(serveCtx, appConfig.StatusAddress, handler, logger)
		close(result)
	}()
	return result, nil
}
