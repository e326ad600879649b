package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/viraloab/viraloab/internal/httpapi"
	"github.com/viraloab/viraloab/internal/notifications"
	"github.com/viraloab/viraloab/internal/storage"
)

const (
	commandUseName          = "server"
	commandShortDescription = "Run the contact endpoint"
	commandLongDescription  = "Launch the HTTP server accepting contact-form submissions"

	flagNameApplicationAddress = "app-addr"
	flagNameDatabaseDriver     = "db-driver"
	flagNameDatabaseDSN        = "db-dsn"
	flagNameSMTPHost           = "smtp-host"
	flagNameSMTPPort           = "smtp-port"
	flagNameSMTPUser           = "smtp-user"
	flagNameSMTPPassword       = "smtp-pass"
	flagNameAdminRecipient     = "admin-email"
	flagNameAllowedOrigins     = "allowed-origins"
	flagNameRedisAddress       = "redis-addr"

	environmentKeyApplicationAddress = "APP_ADDR"
	environmentKeyDatabaseDriver     = "DB_DRIVER"
	environmentKeyDatabaseDSN        = "DB_DSN"
	environmentKeySMTPHost           = "SMTP_HOST"
	environmentKeySMTPPort           = "SMTP_PORT"
	environmentKeySMTPUser           = "SMTP_USER"
	environmentKeySMTPPassword       = "SMTP_PASS"
	environmentKeyAdminRecipient     = "ADMIN_EMAIL"
	environmentKeyAllowedOrigins     = "ALLOWED_ORIGINS"
	environmentKeyRedisAddress       = "REDIS_ADDR"

	defaultApplicationAddress = ":8080"
	defaultSMTPPort           = 587
	defaultAllowedOrigins     = "*"

	contactRoutePath = "/api/contact"
	healthRoutePath  = "/api/health"

	corsHeaderContentType       = "Content-Type"
	corsHeaderOfflineSubmission = "X-Offline-Submission"

	readHeaderTimeoutSeconds = 5

	logEventListening             = "listening"
	logEventPersistenceDisabled   = "persistence_disabled"
	logEventMailDisabled          = "mail_disabled"
	logEventRateLimitingDisabled  = "rate_limiting_disabled"
	logFieldAddress               = "addr"
	loggerContextOpenDatabase     = "open_db"
	loggerContextAutoMigrate      = "migrate"
	loggerContextMailConfig       = "mail_config"
	loggerContextServer           = "server"
	loggerCreationErrorMessage    = "logger"
	commandInitializationFailure  = "failed to configure command"
	unexpectedArgumentsMessage    = "unexpected command arguments"
	flagNotDefinedMessagePattern  = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
)

var corsAllowedMethods = []string{http.MethodPost, http.MethodGet, http.MethodOptions}

// ServerConfig captures configuration needed to run the contact endpoint.
type ServerConfig struct {
	ApplicationAddress string
	DatabaseDriver     string
	DatabaseDSN        string
	SMTPHost           string
	SMTPPort           int
	SMTPUser           string
	SMTPPassword       string
	AdminRecipient     string
	AllowedOrigins     string
	RedisAddress       string
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var serverFlagBindings = []flagBinding{
	{environmentKeyApplicationAddress, flagNameApplicationAddress},
	{environmentKeyDatabaseDriver, flagNameDatabaseDriver},
	{environmentKeyDatabaseDSN, flagNameDatabaseDSN},
	{environmentKeySMTPHost, flagNameSMTPHost},
	{environmentKeySMTPPort, flagNameSMTPPort},
	{environmentKeySMTPUser, flagNameSMTPUser},
	{environmentKeySMTPPassword, flagNameSMTPPassword},
	{environmentKeyAdminRecipient, flagNameAdminRecipient},
	{environmentKeyAllowedOrigins, flagNameAllowedOrigins},
	{environmentKeyRedisAddress, flagNameRedisAddress},
}

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{configurationLoader: viper.New()}
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
	application.configurationLoader.SetDefault(environmentKeySMTPPort, defaultSMTPPort)
	application.configurationLoader.SetDefault(environmentKeyAllowedOrigins, defaultAllowedOrigins)
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	commandFlags.String(flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on")
	commandFlags.String(flagNameDatabaseDriver, "", "database driver (sqlite or postgres); persistence is skipped when unset")
	commandFlags.String(flagNameDatabaseDSN, "", "database connection string")
	commandFlags.String(flagNameSMTPHost, "", "SMTP relay host; mail is disabled when unset")
	commandFlags.Int(flagNameSMTPPort, defaultSMTPPort, "SMTP relay port")
	commandFlags.String(flagNameSMTPUser, "", "SMTP relay username")
	commandFlags.String(flagNameSMTPPassword, "", "SMTP relay password")
	commandFlags.String(flagNameAdminRecipient, "", "administrator address receiving submission notifications")
	commandFlags.String(flagNameAllowedOrigins, defaultAllowedOrigins, "comma-separated allowed CORS origins")
	commandFlags.String(flagNameRedisAddress, "", "Redis address for rate limiting; disabled when unset")

	for _, binding := range serverFlagBindings {
		if bindErr := application.bindFlag(commandFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessagePattern, flagName)
	}
	return application.configurationLoader.BindPFlag(environmentKey, flag)
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}
	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}
	return nil
}

func (application *ServerApplication) loadConfiguration() ServerConfig {
	return ServerConfig{
		ApplicationAddress: application.configurationLoader.GetString(environmentKeyApplicationAddress),
		DatabaseDriver:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDriver)),
		DatabaseDSN:        strings.TrimSpace(application.configurationLoader.GetString(environmentKeyDatabaseDSN)),
		SMTPHost:           strings.TrimSpace(application.configurationLoader.GetString(environmentKeySMTPHost)),
		SMTPPort:           application.configurationLoader.GetInt(environmentKeySMTPPort),
		SMTPUser:           strings.TrimSpace(application.configurationLoader.GetString(environmentKeySMTPUser)),
		SMTPPassword:       application.configurationLoader.GetString(environmentKeySMTPPassword),
		AdminRecipient:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAdminRecipient)),
		AllowedOrigins:     strings.TrimSpace(application.configurationLoader.GetString(environmentKeyAllowedOrigins)),
		RedisAddress:       strings.TrimSpace(application.configurationLoader.GetString(environmentKeyRedisAddress)),
	}
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	serverConfig := application.loadConfiguration()

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database := openOptionalDatabase(logger, serverConfig)
	emailSender := buildEmailSender(logger, serverConfig)
	redisClient := buildOptionalRedisClient(logger, serverConfig)

	router := buildRouter(logger, database, emailSender, redisClient, serverConfig)

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
	if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		logger.Fatal(loggerContextServer, zap.Error(serveErr))
	}

	return nil
}

func openOptionalDatabase(logger *zap.Logger, serverConfig ServerConfig) *gorm.DB {
	if serverConfig.DatabaseDriver == "" {
		logger.Warn(logEventPersistenceDisabled)
		return nil
	}

	database, databaseErr := storage.OpenDatabase(storage.Config{
		DriverName:     serverConfig.DatabaseDriver,
		DataSourceName: serverConfig.DatabaseDSN,
	})
	if databaseErr != nil {
		logger.Fatal(loggerContextOpenDatabase, zap.Error(databaseErr))
	}
	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Fatal(loggerContextAutoMigrate, zap.Error(migrateErr))
	}
	return database
}

func buildEmailSender(logger *zap.Logger, serverConfig ServerConfig) httpapi.EmailSender {
	if serverConfig.SMTPHost == "" {
		logger.Warn(logEventMailDisabled)
		return nil
	}

	smtpSender, smtpErr := notifications.NewSMTPEmailSender(logger, notifications.SMTPConfig{
		Host:     serverConfig.SMTPHost,
		Port:     serverConfig.SMTPPort,
		Username: serverConfig.SMTPUser,
		Password: serverConfig.SMTPPassword,
	})
	if smtpErr != nil {
		logger.Fatal(loggerContextMailConfig, zap.Error(smtpErr))
	}
	return smtpSender
}

func buildOptionalRedisClient(logger *zap.Logger, serverConfig ServerConfig) *redis.Client {
	if serverConfig.RedisAddress == "" {
		logger.Warn(logEventRateLimitingDisabled)
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: serverConfig.RedisAddress})
}

func buildRouter(logger *zap.Logger, database *gorm.DB, emailSender httpapi.EmailSender, redisClient *redis.Client, serverConfig ServerConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(httpapi.RecoveryHandler(logger)))
	router.Use(httpapi.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     parseAllowedOrigins(serverConfig.AllowedOrigins),
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     []string{corsHeaderContentType, corsHeaderOfflineSubmission},
		ExposeHeaders:    []string{corsHeaderContentType},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	notifier := httpapi.NewContactNotifier(emailSender, serverConfig.AdminRecipient)
	contactHandlers := httpapi.NewContactHandlers(database, logger, notifier)

	router.POST(contactRoutePath,
		httpapi.RateLimitMiddleware(redisClient, httpapi.DefaultRateLimitCeiling, httpapi.DefaultRateLimitWindow, logger),
		contactHandlers.CreateContact,
	)
	router.GET(healthRoutePath, contactHandlers.Health)

	return router
}

func parseAllowedOrigins(allowedOrigins string) []string {
	separators := func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	}

	var origins []string
	seen := make(map[string]bool)
	for _, origin := range strings.FieldsFunc(allowedOrigins, separators) {
		trimmedOrigin := strings.TrimSpace(origin)
		if trimmedOrigin == "" || seen[trimmedOrigin] {
			continue
		}
		seen[trimmedOrigin] = true
		origins = append(origins, trimmedOrigin)
	}
	if len(origins) == 0 {
		origins = []string{defaultAllowedOrigins}
	}
	return origins
}

func main() {
	_ = godotenv.Load()

	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
