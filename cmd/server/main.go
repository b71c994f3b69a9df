package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/google/physical-web/internal/config"
	"github.com/google/physical-web/internal/httpapi"
	"github.com/google/physical-web/internal/resolution"
	"github.com/google/physical-web/internal/storage"
	"github.com/google/physical-web/internal/task"
)

const (
	commandUseName          = "server"
	commandShortDescription = "Run the Physical Web resolution server"
	commandLongDescription  = "Launch the Physical Web URL metadata resolution HTTP server"

	flagNameApplicationAddress     = "app-addr"
	flagNameDatabaseDataSourceName = "db-dsn"
	flagNameUserAgent              = "user-agent"
	flagNameDeploymentID           = "deployment-id"
	flagNameConfigFile             = "config-file"
	flagNameSecureOnly             = "secure-only"
	flagNameRefreshWorkers         = "refresh-workers"

	flagUsageApplicationAddress     = "address for the HTTP server to listen on"
	flagUsageDatabaseDataSourceName = "SQLite connection string"
	flagUsageUserAgent              = "User-Agent header sent on page fetches"
	flagUsageDeploymentID           = "deployment identifier; experimental routes require a -dev suffix"
	flagUsageConfigFile             = "path to the JSON credential file"
	flagUsageSecureOnly             = "default secureOnly policy for scan requests"
	flagUsageRefreshWorkers         = "number of background refresh workers"

	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyDatabaseDataSource = "DB_DSN"
	environmentKeyUserAgent          = "USER_AGENT"
	environmentKeyDeploymentID       = "DEPLOYMENT_ID"
	environmentKeyConfigFile         = "CONFIG_FILE"
	environmentKeySecureOnly         = "SECURE_ONLY"
	environmentKeyRefreshWorkers     = "REFRESH_WORKERS"

	defaultApplicationAddress = ":8080"
	defaultDataSourceName     = "physical-web.db"
	defaultUserAgent          = "PhysicalWeb-Resolver/1.0 (+https://physical-web.org)"
	defaultRefreshWorkerCount = 4

	experimentalDeploymentSuffix = "-dev"
	readHeaderTimeoutSeconds     = 5

	logEventListening            = "listening"
	logFieldAddress              = "addr"
	logEventCredentialsMissing   = "credentials_unavailable"
	loggerCreationErrorMessage   = "logger"
	unexpectedArgumentsMessage   = "unexpected command arguments"
	commandInitializationFailure = "failed to configure command"
	flagNotDefinedMessage        = "flag %s not defined"
	environmentConfigurationErr  = "failed to apply environment configuration"
)

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	DatabaseDataSourceName string
	UserAgent              string
	DeploymentID           string
	ConfigFilePath         string
	DefaultSecureOnly      bool
	RefreshWorkerCount     int
}

// ExperimentalEnabled reports whether experimental routes are active for
// this deployment.
func (serverConfig ServerConfig) ExperimentalEnabled() bool {
	return strings.HasSuffix(serverConfig.DeploymentID, experimentalDeploymentSuffix)
}

// DatabaseOpener opens a database connection using the provided data source name.
type DatabaseOpener func(string) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener: func(dataSourceName string) (*gorm.DB, error) {
			return storage.OpenDatabase(storage.Config{
				DriverName:     storage.DriverNameSQLite,
				DataSourceName: dataSourceName,
			})
		},
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyApplicationAddress, defaultApplicationAddress)
	application.configurationLoader.SetDefault(environmentKeyDatabaseDataSource, defaultDataSourceName)
	application.configurationLoader.SetDefault(environmentKeyUserAgent, defaultUserAgent)
	application.configurationLoader.SetDefault(environmentKeyDeploymentID, "")
	application.configurationLoader.SetDefault(environmentKeyConfigFile, "")
	application.configurationLoader.SetDefault(environmentKeySecureOnly, false)
	application.configurationLoader.SetDefault(environmentKeyRefreshWorkers, defaultRefreshWorkerCount)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, flagUsageApplicationAddress)
	commandFlags.String(flagNameDatabaseDataSourceName, defaultDataSourceName, flagUsageDatabaseDataSourceName)
	commandFlags.String(flagNameUserAgent, defaultUserAgent, flagUsageUserAgent)
	commandFlags.String(flagNameDeploymentID, "", flagUsageDeploymentID)
	commandFlags.String(flagNameConfigFile, "", flagUsageConfigFile)
	commandFlags.Bool(flagNameSecureOnly, false, flagUsageSecureOnly)
	commandFlags.Int(flagNameRefreshWorkers, defaultRefreshWorkerCount, flagUsageRefreshWorkers)

	flagBindings := map[string]string{
		environmentKeyApplicationAddress: flagNameApplicationAddress,
		environmentKeyDatabaseDataSource: flagNameDatabaseDataSourceName,
		environmentKeyUserAgent:          flagNameUserAgent,
		environmentKeyDeploymentID:       flagNameDeploymentID,
		environmentKeyConfigFile:         flagNameConfigFile,
		environmentKeySecureOnly:         flagNameSecureOnly,
		environmentKeyRefreshWorkers:     flagNameRefreshWorkers,
	}

	for environmentKey, flagName := range flagBindings {
		if bindErr := application.bindFlag(commandFlags, environmentKey, flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, environmentKey, flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationErr, setErr)
	}

	return nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := ServerConfig{
		ApplicationAddress:     application.configurationLoader.GetString(environmentKeyApplicationAddress),
		DatabaseDataSourceName: strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDataSource)),
		UserAgent:              strings.TrimSpace(application.configurationLoader.GetString(environmentKeyUserAgent)),
		DeploymentID:           strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDeploymentID)),
		ConfigFilePath:         strings.TrimSpace(application.configurationLoader.GetString(environmentKeyConfigFile)),
		DefaultSecureOnly:      application.configurationLoader.GetBool(environmentKeySecureOnly),
		RefreshWorkerCount:     application.configurationLoader.GetInt(environmentKeyRefreshWorkers),
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() { _ = logger.Sync() }()

	database, openErr := application.databaseOpener(serverConfig.DatabaseDataSourceName)
	if openErr != nil {
		return openErr
	}
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		return migrateErr
	}

	credentials, credentialsErr := config.Load(serverConfig.ConfigFilePath)
	if credentialsErr != nil {
		if !errors.Is(credentialsErr, config.ErrNoConfigFile) {
			return credentialsErr
		}
		logger.Warn(logEventCredentialsMissing)
	}

	store := storage.NewSiteRecordStore(database)
	fetcher := resolution.NewFetcher(nil, serverConfig.UserAgent, serverConfig.ExperimentalEnabled())
	resolver := resolution.NewResolver(store, fetcher, logger)
	refreshQueue := task.NewRefreshQueue(serverConfig.RefreshWorkerCount, resolver.RefreshOne, logger)
	resolver.WithRefreshEnqueuer(refreshQueue)

	refreshQueue.Start(context.Background())
	defer refreshQueue.Stop()

	scanHandlers := httpapi.NewScanHandlers(resolver, refreshQueue, logger, serverConfig.DefaultSecureOnly)
	faviconHandlers := httpapi.NewFaviconRelayHandlers(store, nil, logger)
	redirectHandlers := httpapi.NewRedirectHandlers()
	shortenerHandlers := httpapi.NewShortenerHandlers(nil, logger, credentials.ShortenerAPIKey)
	experimentalHandlers := httpapi.NewExperimentalHandlers(logger)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))

	registerRoutes(router, scanHandlers, faviconHandlers, redirectHandlers, shortenerHandlers, experimentalHandlers, serverConfig.ExperimentalEnabled())

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	return httpServer.ListenAndServe()
}

func main() {
	application := NewServerApplication()
	command, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}
	if executeErr := command.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
