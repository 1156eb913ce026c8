package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cerrors "github.com/estuary/source-singlestore/go/connector-errors"
	schemagen "github.com/estuary/source-singlestore/go/schema-gen"
	"github.com/estuary/source-singlestore/observe"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	mysqlLog "github.com/siddontang/go-log/log"
)

func main() {
	configureLogging()
	fixMysqlLogging()

	if len(os.Args) > 1 && os.Args[1] == "spec" {
		if err := printSpec(); err != nil {
			cerrors.HandleFinalError(err)
		}
		return
	}

	var configFile = flag.String("config", "config.json", "Path to the connector configuration file")
	var stateFile = flag.String("state", "state.json", "Path to the persisted offset state file")
	flag.Parse()

	if err := run(*configFile, *stateFile); err != nil {
		cerrors.HandleFinalError(err)
	}
}

func configureLogging() {
	switch format := getEnvDefault("LOG_FORMAT", "color"); format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	default:
		log.WithField("format", format).Fatal("invalid LOG_FORMAT (expected 'json', 'text', or 'color')")
	}
	if lvl, err := log.ParseLevel(getEnvDefault("LOG_LEVEL", "info")); err != nil {
		log.WithFields(log.Fields{"level": lvl, "error": err}).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
	log.SetOutput(os.Stderr)
}

// fixMysqlLogging works around some unfortunate defaults in the go-log
// package used by go-mysql. This configures their logger to write to stderr
// instead of stdout (which carries output documents) and sets the level
// filter to match the level used by logrus.
func fixMysqlLogging() {
	var handler, err = mysqlLog.NewStreamHandler(os.Stderr)
	// NewStreamHandler never actually returns an error, so this is just a
	// bit of future proofing.
	if err != nil {
		panic(fmt.Sprintf("failed to initialize mysql logging: %v", err))
	}
	mysqlLog.SetDefaultLogger(mysqlLog.NewDefault(handler))
	mysqlLog.SetLevelByName(log.GetLevel().String())
}

func getEnvDefault(name, def string) string {
	var s = os.Getenv(name)
	if s == "" {
		return def
	}
	return s
}

func printSpec() error {
	var schema = schemagen.GenerateSchema("SingleStore Change Stream", &Config{})
	var bs, err = schema.MarshalJSON()
	if err != nil {
		return fmt.Errorf("error generating config schema: %w", err)
	}
	_, err = fmt.Println(string(bs))
	return err
}

func loadConfig(path string) (*Config, error) {
	var bs, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	var config Config
	if err := json.Unmarshal(bs, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	config.SetDefaults()
	return &config, nil
}

func loadState(path string) (*observe.OffsetContext, error) {
	var bs, err = os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("error reading state file: %w", err)
	}
	var state observe.OffsetContext
	if err := json.Unmarshal(bs, &state); err != nil {
		return nil, fmt.Errorf("error parsing state file: %w", err)
	}
	return &state, nil
}

func persistState(path string, state *observe.OffsetContext) error {
	var bs, err = json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("error serializing state: %w", err)
	}
	if err := os.WriteFile(path, append(bs, '\n'), 0644); err != nil {
		return fmt.Errorf("error writing state file: %w", err)
	}
	return nil
}

func run(configFile, stateFile string) error {
	var cfg, err = loadConfig(configFile)
	if err != nil {
		return err
	}
	state, err := loadState(stateFile)
	if err != nil {
		return err
	}

	control, err := connectSingleStore(cfg)
	if err != nil {
		return err
	}
	defer control.Close()
	if err := prerequisiteChecks(control, cfg); err != nil {
		return err
	}
	schema, err := discoverTableSchema(control, cfg)
	if err != nil {
		return err
	}

	if state == nil {
		state = observe.NewOffsetContext(schema.partitions)
	} else if state.PartitionCount() != schema.partitions {
		return fmt.Errorf("persisted state has %d partitions but database %q has %d: clear the state file to start over",
			state.PartitionCount(), cfg.Database, schema.partitions)
	}

	streamConn, err := connectStreaming(cfg)
	if err != nil {
		return err
	}
	defer streamConn.Close()

	var running = observe.NewRunState()
	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()
	go func() {
		<-ctx.Done()
		running.Stop()
	}()

	var output = newDocumentOutput(os.Stdout, schema.columns)
	var failures = new(failureSink)
	var stream = &observe.Stream{
		Source:             &streamRowSource{conn: streamConn},
		Canceler:           &queryCanceler{cfg: cfg, connID: streamConn.GetConnectionID()},
		Schema:             schema,
		Dispatcher:         output,
		Failures:           failures,
		State:              state,
		Running:            running,
		SnapshotMode:       observe.SnapshotMode(cfg.Advanced.SnapshotMode),
		PopulateInternalID: cfg.Advanced.PopulateInternalID,
		PollInterval:       cfg.pollInterval(),
	}

	log.WithFields(log.Fields{
		"session":    uuid.New().String(),
		"table":      cfg.tableID().String(),
		"partitions": schema.partitions,
	}).Info("starting change stream")

	var streamErr = stream.Execute(ctx)
	var flushErr = output.Flush()
	if err := persistState(stateFile, state); err != nil {
		return err
	}
	if streamErr != nil {
		return streamErr
	}
	if err := failures.Err(); err != nil {
		return err
	}
	return flushErr
}
