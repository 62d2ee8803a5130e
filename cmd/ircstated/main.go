package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dalnet/ircstate/internal/config"
	"github.com/dalnet/ircstate/internal/irc"
)

// Set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

const daemonEnv = "IRCSTATED_DAEMON"

func main() {
	foreground := pflag.BoolP("foreground", "x", false, "Run in foreground (don't daemonize)")
	configPath := pflag.StringP("config", "c", "./config.yaml", "Path to configuration file")
	showVersion := pflag.BoolP("version", "v", false, "Show version information and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("ircstated version %s\n", version)
		fmt.Printf("Built: %s\n", buildDate)
		fmt.Printf("Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	irc.Version = version
	irc.BuildDate = buildDate
	irc.GitCommit = gitCommit

	if !*foreground {
		daemonize()
		return
	}

	if err := writePIDFile(); err != nil {
		log.Printf("Warning: could not write PID file: %v", err)
	}

	run(*configPath)
}

// daemonize re-executes the binary detached from the terminal, in two
// steps: the first child marks itself through the environment and starts
// the real bot with -x.
func daemonize() {
	if os.Getenv(daemonEnv) == "1" {
		fmt.Printf("Now becoming a daemon\nMy pid is %d\n", os.Getpid())

		args := append(os.Args, "-x")
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Env = os.Environ()

		if err := cmd.Start(); err != nil {
			log.Fatalf("Failed to start daemon: %v", err)
		}
		os.Exit(0)
	}

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonEnv+"=1")

	if err := cmd.Start(); err != nil {
		log.Fatalf("Failed to fork: %v", err)
	}

	os.Exit(0)
}

func writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile("pid.txt", []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

func run(configPath string) {
	if !filepath.IsAbs(configPath) {
		wd, _ := os.Getwd()
		configPath = filepath.Join(wd, configPath)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	client, err := irc.NewClient(cfg)
	if err != nil {
		log.Fatalf("Failed to create IRC client: %v", err)
	}

	client.OnShutdown = func() {
		client.Quit("Shutdown requested")
		os.Exit(0)
	}

	client.OnRestart = func() {
		client.Quit("Restarting")

		self, err := os.Executable()
		if err != nil {
			log.Fatalf("Failed to restart: %v", err)
		}
		// without --foreground the new process daemonizes again
		args := restartArgs(os.Args[0], pflag.CommandLine)
		if err := syscall.Exec(self, args, os.Environ()); err != nil {
			log.Fatalf("Failed to restart: %v", err)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		client.Quit("Received shutdown signal")
		os.Exit(0)
	}()

	log.Printf("Connecting to %s...", cfg.Address())
	if err := client.Connect(); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	log.Println("Connected, entering main loop...")
	client.Loop()
}

// restartArgs rebuilds the command line from the flags that were set,
// leaving out --foreground however it was spelled.
func restartArgs(argv0 string, fs *pflag.FlagSet) []string {
	args := []string{argv0}
	fs.Visit(func(f *pflag.Flag) {
		if f.Name == "foreground" {
			return
		}
		args = append(args, "--"+f.Name+"="+f.Value.String())
	})
	if fs.NArg() > 0 {
		args = append(append(args, "--"), fs.Args()...)
	}
	return args
}
