package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/feedpoint/harvester/internal/configuration"
	"github.com/feedpoint/harvester/internal/dispatcher"
	"github.com/feedpoint/harvester/internal/pipeline"
	"github.com/feedpoint/harvester/internal/queue"
	"github.com/feedpoint/harvester/internal/router"
)

var (
	// Version is the binary version (tag) + build number (CI pipeline)
	Version string
	// BuildDate is the date of build
	BuildDate string
)

var (
	configPath string
	sourceID   int
	since      string
	logFile    string

	inputQueue       string
	outputQueue      string
	connectionString string
	namespace        string
	listenDuration   time.Duration
	maxWait          time.Duration
	monitoringPort   int
)

func main() {
	hostname, _ := os.Hostname()
	configuration.InitMetricLabels(hostname)
	configuration.InitializeConfig()
	configuration.InitLogger(viper.GetBool("LOGGER_PRODUCTION"))

	rootCmd := &cobra.Command{
		Use:   "harvester",
		Short: "Declarative HTTP feed harvester with a queue-driven dispatcher",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single ingestion job and print the fetched count",
		RunE:  runOnce,
	}
	runCmd.Flags().StringVar(&configPath, "config", "", "Path to the source configuration document")
	runCmd.Flags().IntVar(&sourceID, "source", 0, "Source id (per configuration)")
	runCmd.Flags().StringVar(&since, "since", "", "ISO date for incremental fetch")
	runCmd.Flags().StringVar(&logFile, "log-file", "", "Path to append request/response logs (JSONL)")
	runCmd.MarkFlagRequired("config")
	runCmd.MarkFlagRequired("source")

	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen on a queue and dispatch ingestion jobs",
		RunE:  listen,
	}
	listenCmd.Flags().StringVar(&inputQueue, "queue", "", "Queue name to listen to")
	listenCmd.Flags().StringVar(&outputQueue, "output-queue", "", "Default queue for job summaries")
	listenCmd.Flags().StringVar(&connectionString, "connection-string", "", "Service Bus connection string (overrides env)")
	listenCmd.Flags().StringVar(&namespace, "namespace", "", "Service Bus namespace for identity-based credentials (overrides env)")
	listenCmd.Flags().DurationVar(&listenDuration, "listen-duration", 0, "Stop listening after this duration (0 listens forever)")
	listenCmd.Flags().DurationVar(&maxWait, "max-wait", 0, "Maximum wait per queue poll")
	listenCmd.Flags().IntVar(&monitoringPort, "monitoring-port", 0, "Monitoring HTTP server port")
	listenCmd.MarkFlagRequired("queue")

	rootCmd.AddCommand(runCmd, listenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runOnce(cmd *cobra.Command, args []string) error {
	runCtx := map[string]interface{}{}
	if since != "" {
		runCtx["since"] = since
	}
	if logFile != "" {
		runCtx["log_file"] = logFile
	}

	result, err := pipeline.Run(configPath, sourceID, runCtx)
	if err != nil {
		return err
	}
	fmt.Printf("Fetched %d records.\n", result.Total)
	return nil
}

func listen(cmd *cobra.Command, args []string) error {
	zap.L().Info("Starting harvester listener...",
		zap.String("version", Version),
		zap.String("build_date", BuildDate),
	)

	if connectionString == "" {
		connectionString = viper.GetString("SERVICEBUS_CONNECTION_STRING")
	}
	if namespace == "" {
		namespace = viper.GetString("SERVICEBUS_NAMESPACE")
	}
	if maxWait <= 0 {
		maxWait = time.Duration(viper.GetInt("RECEIVE_MAX_WAIT_SEC")) * time.Second
	}
	if monitoringPort == 0 {
		monitoringPort = viper.GetInt("MONITORING_PORT")
	}

	queues, err := queue.NewServiceBusClient(queue.Credential{
		ConnectionString: connectionString,
		Namespace:        namespace,
	})
	if err != nil {
		return err
	}
	defer queues.Close(context.Background())

	srv := router.NewMonitoringServer(monitoringPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Error("Monitoring server listen", zap.Error(err))
		}
	}()
	zap.L().Info("Monitoring server started", zap.String("addr", srv.Addr))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-done
		cancel()
	}()

	d := dispatcher.NewDispatcher(queues, dispatcher.Options{
		InputQueue:     inputQueue,
		OutputQueue:    outputQueue,
		MaxWait:        maxWait,
		ListenDuration: listenDuration,
	})
	listenErr := d.Listen(ctx)

	ctxShutDown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutDown); err != nil {
		zap.L().Error("Monitoring server shutdown", zap.Error(err))
	}

	zap.L().Info("Listener stopped")
	return listenErr
}
