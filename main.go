package main

import (
	"context"
	"flag"
	"os"
	"time"

	"dtnd/commands"
	"dtnd/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func checkConfig(cfg string) {
	if cfg == "" {
		log.Fatal("Config file not specified")
	}
}

func loadConfig(path string) *config.Config {
	cfg, err := config.NewConfigFromFile(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	initCmd := flag.NewFlagSet("init", flag.ExitOnError)
	nodeEID := initCmd.String("eid", "", "Node EID, e.g. dtn://node1/")
	registerGlobalFlags(initCmd)

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	registerGlobalFlags(serveCmd)

	infoCmd := flag.NewFlagSet("info", flag.ExitOnError)
	registerGlobalFlags(infoCmd)

	sendCmd := flag.NewFlagSet("send", flag.ExitOnError)
	sendSrc := sendCmd.String("src", "", "Source EID (defaults to the node EID)")
	sendDst := sendCmd.String("dst", "", "Destination EID")
	sendLifetime := sendCmd.Duration("lifetime", 24*time.Hour, "Bundle lifetime")
	sendPayload := sendCmd.String("payload", "-", "Payload, - reads stdin")
	registerGlobalFlags(sendCmd)

	pollCmd := flag.NewFlagSet("poll", flag.ExitOnError)
	pollEID := pollCmd.String("eid", "", "Endpoint to poll")
	registerGlobalFlags(pollCmd)

	forgetCmd := flag.NewFlagSet("forget", flag.ExitOnError)
	forgetEID := forgetCmd.String("eid", "", "Peer node to forget")
	registerGlobalFlags(forgetCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand: init, serve, info, send, poll or forget")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "init":
		initCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		cfg := config.NewEmptyConfig(*configFile)
		if *nodeEID != "" {
			cfg.Node.EID = *nodeEID
			cfg.Node.Endpoints = nil
		}
		if err := cfg.Validate(); err != nil {
			log.Fatalf("Invalid settings: %v", err)
		}
		commands.RunInit(ctx, cfg)
	case "serve":
		serveCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunServe(ctx, loadConfig(*configFile))
	case "info":
		infoCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		commands.RunInfo(ctx, loadConfig(*configFile))
	case "send":
		sendCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *sendDst == "" {
			log.Fatal("send: -dst is required")
		}
		commands.RunSend(ctx, loadConfig(*configFile), *sendSrc, *sendDst, *sendLifetime, *sendPayload)
	case "poll":
		pollCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *pollEID == "" {
			log.Fatal("poll: -eid is required")
		}
		commands.RunPoll(ctx, loadConfig(*configFile), *pollEID)
	case "forget":
		forgetCmd.Parse(args)
		checkConfig(*configFile)
		setLogLevel(*logLevel)
		if *forgetEID == "" {
			log.Fatal("forget: -eid is required")
		}
		commands.RunForget(ctx, loadConfig(*configFile), *forgetEID)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
