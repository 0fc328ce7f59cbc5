// Command pop3check connects to a configured POP3 account, reports the
// negotiated capabilities and authentication mechanism, and probes the
// session before attempting to open INBOX.
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/emx-mail/pop3/pkgs/config"
	"github.com/emx-mail/pop3/pkgs/pop3"
)

const version = "1.0.0"

func main() {
	account := flag.String("account", "", "Account name or email to use")
	verbose := flag.BoolP("verbose", "v", false, "Trace the protocol exchange")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("pop3check v%s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "init" {
		if err := handleInit(); err != nil {
			fatal("init: %v", err)
		}
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Run 'pop3check init' to create config instructions\n")
		os.Exit(1)
	}
	acc, err := cfg.GetAccount(*account)
	if err != nil {
		fatal("%v", err)
	}

	clientCfg := clientConfig(acc)
	if *verbose {
		clientCfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}

	client, err := pop3.Dial(clientCfg)
	if err != nil {
		fatal("connect: %v", err)
	}
	defer client.Close()

	fmt.Printf("Connected to %s:%d\n", acc.POP3.Host, acc.POP3.Port)
	fmt.Printf("Greeting:  %s\n", client.Banner())
	fmt.Printf("Mechanism: %s\n", client.Mechanism())

	caps := client.Capabilities()
	if len(caps) == 0 {
		fmt.Println("Capabilities: none advertised")
	} else {
		names := make([]string, 0, len(caps))
		for name := range caps {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Println("Capabilities:")
		for _, name := range names {
			if args := caps[name]; args != "" {
				fmt.Printf("  %s %s\n", name, args)
			} else {
				fmt.Printf("  %s\n", name)
			}
		}
	}

	folder := client.Folder("INBOX")
	if err := folder.Open(); err != nil {
		fatal("open INBOX: %v", err)
	}
	if folder.IsOpen() {
		fmt.Println("INBOX: open")
	} else {
		fmt.Println("INBOX: closed (server failed the liveness probe)")
	}
}

// clientConfig maps account settings onto the engine configuration.
func clientConfig(acc *config.AccountConfig) pop3.Config {
	return pop3.Config{
		Host:           acc.POP3.Host,
		Port:           acc.POP3.Port,
		Username:       acc.POP3.Username,
		Password:       acc.POP3.Password,
		SSL:            acc.POP3.SSL,
		EnableAPOP:     acc.POP3.APOPEnable,
		AuthMechanisms: acc.POP3.AuthMechanisms,
		Token:          acc.POP3.Token,
		DisableCapa:    acc.POP3.DisableCapa,
		SkipOpenProbe:  acc.POP3.SkipOpenProbe,
		Timeout:        time.Duration(acc.POP3.TimeoutSeconds) * time.Second,
	}
}

func handleInit() error {
	root := config.ExampleRootConfig()

	if config.HasEmxConfig() {
		data, err := json.MarshalIndent(root, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format example config: %w", err)
		}

		fmt.Println("emx-config detected. Configure pop3check using emx-config.")
		fmt.Println("Example JSON (keys under 'mail'):")
		fmt.Println(string(data))
		fmt.Println("Store this in your emx-config file (e.g., config.json).")
		fmt.Println("Then verify with: emx-config list --json")
		return nil
	}

	configPath, err := config.GetEnvConfigPath()
	if err != nil {
		return err
	}
	if err := config.SaveConfig(configPath, root); err != nil {
		return err
	}
	fmt.Printf("Created config file at: %s\n", configPath)
	fmt.Println("Please edit the file to add your email account credentials.")
	return nil
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `pop3check v%s - POP3 connection and authentication checker

Usage:
  pop3check [options] [init]

Commands:
  init       Initialize configuration file

Options:
  --account <name>   Account name or email to use
  -v, --verbose      Trace the protocol exchange (credentials redacted)
  --version          Show version information

Config Resolution:
  1) If emx-config exists: pop3check reads config via emx-config list --json.
  2) Otherwise: set env var %s to a JSON config file.

Examples:
  pop3check
  pop3check -v --account work
  pop3check init
`, version, config.EnvConfigJSONPath)
}
