package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/viraloab/viraloab/internal/client"
	"github.com/viraloab/viraloab/internal/outbox"
	"github.com/viraloab/viraloab/internal/task"
)

const (
	commandUseName          = "agent"
	commandShortDescription = "Queue and sync contact submissions"
	commandLongDescription  = "Manage the local submission store and deliver queued submissions to the contact endpoint"

	runCommandUseName          = "run"
	runCommandShortDescription = "Run the background sync loop"

	submitCommandUseName          = "submit"
	submitCommandShortDescription = "Submit a contact form, queueing it when the endpoint is unreachable"

	flagNameEndpointURL  = "endpoint-url"
	flagNameQueuePath    = "queue-path"
	flagNameSyncInterval = "sync-interval"

	flagNameSubmissionName    = "name"
	flagNameSubmissionEmail   = "email"
	flagNameSubmissionMessage = "message"
	flagNameSubmissionCompany = "company"
	flagNameSubmissionPhone   = "phone"

	environmentKeyEndpointURL  = "ENDPOINT_URL"
	environmentKeyQueuePath    = "QUEUE_PATH"
	environmentKeySyncInterval = "SYNC_INTERVAL"

	defaultQueuePath    = "pending-submissions.db"
	defaultSyncInterval = time.Minute

	logEventAgentStarted       = "agent_started"
	logEventAgentStopping      = "agent_stopping"
	logEventSubmissionSynced   = "submission_synced"
	logEventSubmissionDropped  = "submission_dropped"
	logFieldEndpointURL        = "endpoint_url"
	logFieldQueuePath          = "queue_path"
	logFieldSyncInterval       = "sync_interval"
	logFieldQueueEntryID       = "entry_id"
	loggerCreationErrorMessage = "logger"

	outcomeQueuedMessage    = "Saved locally. It will be sent when the endpoint is reachable."
	outcomeDeliveredMessage = "Form submitted successfully"

	flagNotDefinedMessagePattern  = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
)

// ErrMissingEndpointURL reports an agent started without a delivery target.
var ErrMissingEndpointURL = errors.New("endpoint URL is required")

// AgentConfig captures configuration shared by the agent subcommands.
type AgentConfig struct {
	EndpointURL  string
	QueuePath    string
	SyncInterval time.Duration
}

// Validate reports whether the configuration can drive the agent.
func (configuration AgentConfig) Validate() error {
	if strings.TrimSpace(configuration.EndpointURL) == "" {
		return ErrMissingEndpointURL
	}
	return nil
}

type flagBinding struct {
	environmentKey string
	flagName       string
}

var agentFlagBindings = []flagBinding{
	{environmentKeyEndpointURL, flagNameEndpointURL},
	{environmentKeyQueuePath, flagNameQueuePath},
	{environmentKeySyncInterval, flagNameSyncInterval},
}

// AgentApplication constructs and executes the agent command tree.
type AgentApplication struct {
	configurationLoader *viper.Viper

	submissionName    string
	submissionEmail   string
	submissionMessage string
	submissionCompany string
	submissionPhone   string
}

// NewAgentApplication creates an AgentApplication with default dependencies.
func NewAgentApplication() *AgentApplication {
	return &AgentApplication{configurationLoader: viper.New()}
}

// Command builds the Cobra command tree for the agent.
func (application *AgentApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	runCommand := &cobra.Command{
		Use:   runCommandUseName,
		Short: runCommandShortDescription,
		RunE:  application.runSyncLoop,
	}

	submitCommand := &cobra.Command{
		Use:   submitCommandUseName,
		Short: submitCommandShortDescription,
		RunE:  application.runSubmit,
	}
	submitFlags := submitCommand.Flags()
	submitFlags.StringVar(&application.submissionName, flagNameSubmissionName, "", "submitter name")
	submitFlags.StringVar(&application.submissionEmail, flagNameSubmissionEmail, "", "submitter email address")
	submitFlags.StringVar(&application.submissionMessage, flagNameSubmissionMessage, "", "submission message")
	submitFlags.StringVar(&application.submissionCompany, flagNameSubmissionCompany, "", "submitter company")
	submitFlags.StringVar(&application.submissionPhone, flagNameSubmissionPhone, "", "submitter phone number")

	rootCommand.AddCommand(runCommand, submitCommand)

	return rootCommand, nil
}

func (application *AgentApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.SetDefault(environmentKeyQueuePath, defaultQueuePath)
	application.configurationLoader.SetDefault(environmentKeySyncInterval, defaultSyncInterval)
	application.configurationLoader.AutomaticEnv()

	persistentFlags := command.PersistentFlags()
	persistentFlags.String(flagNameEndpointURL, "", "base URL of the contact endpoint")
	persistentFlags.String(flagNameQueuePath, defaultQueuePath, "path of the local submission store")
	persistentFlags.Duration(flagNameSyncInterval, defaultSyncInterval, "interval between background sync runs")

	for _, binding := range agentFlagBindings {
		if bindErr := application.bindFlag(persistentFlags, binding.environmentKey, binding.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(persistentFlags, binding.environmentKey, binding.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *AgentApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessagePattern, flagName)
	}
	return application.configurationLoader.BindPFlag(environmentKey, flag)
}

func (application *AgentApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}
	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}
	return nil
}

func (application *AgentApplication) loadConfiguration() AgentConfig {
	return AgentConfig{
		EndpointURL:  strings.TrimSpace(application.configurationLoader.GetString(environmentKeyEndpointURL)),
		QueuePath:    strings.TrimSpace(application.configurationLoader.GetString(environmentKeyQueuePath)),
		SyncInterval: application.configurationLoader.GetDuration(environmentKeySyncInterval),
	}
}

func (application *AgentApplication) runSyncLoop(command *cobra.Command, arguments []string) error {
	agentConfig := application.loadConfiguration()
	if validationErr := agentConfig.Validate(); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	queue, queueErr := outbox.Open(agentConfig.QueuePath)
	if queueErr != nil {
		return queueErr
	}

	signalContext, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	completions := task.NewCompletionBroadcaster()
	defer completions.Close()

	subscription := completions.Subscribe()
	defer subscription.Close()
	go logCompletionEvents(logger, subscription)

	syncAgent := task.NewSyncAgent(queue, agentConfig.EndpointURL, logger, completions)
	scheduler := task.NewScheduler(agentConfig.SyncInterval, syncAgent.Runner())

	logger.Info(logEventAgentStarted,
		zap.String(logFieldEndpointURL, agentConfig.EndpointURL),
		zap.String(logFieldQueuePath, agentConfig.QueuePath),
		zap.Duration(logFieldSyncInterval, agentConfig.SyncInterval),
	)

	scheduler.Start(signalContext)
	scheduler.Trigger()

	<-signalContext.Done()
	logger.Info(logEventAgentStopping)
	scheduler.Stop()

	return nil
}

func logCompletionEvents(logger *zap.Logger, subscription *task.CompletionSubscription) {
	for completionEvent := range subscription.Events() {
		if completionEvent.Success {
			logger.Info(logEventSubmissionSynced, zap.Uint(logFieldQueueEntryID, completionEvent.EntryID))
			continue
		}
		logger.Warn(logEventSubmissionDropped, zap.Uint(logFieldQueueEntryID, completionEvent.EntryID))
	}
}

func (application *AgentApplication) runSubmit(command *cobra.Command, arguments []string) error {
	agentConfig := application.loadConfiguration()
	if validationErr := agentConfig.Validate(); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	queue, queueErr := outbox.Open(agentConfig.QueuePath)
	if queueErr != nil {
		return queueErr
	}

	tracker := client.NewTracker(logger)
	submissionClient := client.NewSubmissionClient(agentConfig.EndpointURL, queue, nil, nil, tracker, logger)
	submissionClient.UpdateField("name", application.submissionName)
	submissionClient.UpdateField("email", application.submissionEmail)
	submissionClient.UpdateField("message", application.submissionMessage)
	submissionClient.UpdateField("company", application.submissionCompany)
	submissionClient.UpdateField("phone", application.submissionPhone)

	submissionClient.Submit(command.Context())

	submitStatus := submissionClient.Status()
	switch {
	case submitStatus.Error != "":
		return errors.New(submitStatus.Error)
	case submitStatus.Offline:
		fmt.Fprintln(command.OutOrStdout(), outcomeQueuedMessage)
	default:
		fmt.Fprintln(command.OutOrStdout(), outcomeDeliveredMessage)
	}

	return nil
}

func main() {
	_ = godotenv.Load()

	application := NewAgentApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%v\n", commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.ExecuteContext(context.Background()); executeErr != nil {
		os.Exit(1)
	}
}
