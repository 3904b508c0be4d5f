package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/patch"
	"github.com/itiky/collaborate-doc/service/client"
)

const (
	FlagRemoteUrl     = "remote-url"
	FlagWebSocket     = "websocket"
	FlagIgnore        = "ignore"
	FlagIntervals     = "intervals"
	FlagMonitorPeriod = "monitor-period"
)

// GetClientCmd returns document client start command.
// Mutations are read from stdin: "key=<json>" sets a property, "-key" removes it, "print" dumps the document.
func GetClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Start a document client",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			remoteUrl, err := cmd.Flags().GetString(FlagRemoteUrl)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagRemoteUrl, err)
			}
			useWebSocket, err := cmd.Flags().GetBool(FlagWebSocket)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagWebSocket, err)
			}
			ignorePatterns, err := cmd.Flags().GetStringSlice(FlagIgnore)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagIgnore, err)
			}
			intervals, err := cmd.Flags().GetDurationSlice(FlagIntervals)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagIntervals, err)
			}
			monitorPeriod, err := cmd.Flags().GetDuration(FlagMonitorPeriod)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagMonitorPeriod, err)
			}

			ignoreRules, err := patch.ParseIgnoreRules(ignorePatterns...)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagIgnore, err)
			}

			// Init service
			cfg := client.DefaultConfig(remoteUrl)
			cfg.UseWebSocket = useWebSocket
			cfg.IgnoreRules = ignoreRules
			cfg.Intervals = intervals
			cfg.MonitorPeriod = monitorPeriod
			cfg.OnIncomingPatchValidationError = func(err *model.RangeError) {
				glog.Warningf("incoming patch: %v", err)
			}
			cfg.OnOutgoingPatchValidationError = func(err *model.RangeError) {
				glog.Warningf("outgoing patch: %v", err)
			}

			svc, err := client.NewClient(cfg)
			if err != nil {
				glog.Fatalf("service init: %v", err)
			}
			svc.AddEventListener(client.EventStateReset, func(ev client.Event) {
				glog.Infof("%s: document received (%d properties)", svc, len(ev.Document))
			})
			svc.AddEventListener(client.EventConnectionError, func(ev client.Event) {
				glog.Warningf("%s: connection error: %v", svc, ev.Err)
			})

			svc.Start()
			go readMutations(svc)

			// Wait for signal
			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
			<-signalCh

			svc.Stop()
		},
	}
	cmd.Flags().String(FlagRemoteUrl, "http://127.0.0.1:2412/doc", "(optional) document url")
	cmd.Flags().Bool(FlagWebSocket, false, "(optional) use a websocket instead of HTTP PATCH requests")
	cmd.Flags().StringSlice(FlagIgnore, nil, `(optional) regexp of paths excluded from outgoing patches (e.g. /\$.+)`)
	cmd.Flags().DurationSlice(FlagIntervals, client.DefaultIntervals, "(optional) mutation window followed by reconnection intervals")
	cmd.Flags().Duration(FlagMonitorPeriod, 0, "(optional) monitor report period (0 disables it)")

	return cmd
}

// readMutations applies stdin commands until EOF.
func readMutations(svc *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := handleCommand(svc, line); err != nil {
			glog.Warningf("%q: %v", line, err)
		}
	}
}

func handleCommand(svc *client.Client, line string) error {
	if line == "print" {
		data, err := svc.Document().Encode()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	if strings.HasPrefix(line, "-") {
		key := line[1:]
		return svc.Mutate(func(doc model.Document) {
			delete(doc, key)
		})
	}

	idx := strings.IndexByte(line, '=')
	if idx <= 0 {
		return fmt.Errorf("expected key=<json>, -key or print")
	}
	key, raw := line[:idx], line[idx+1:]

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return fmt.Errorf("value: %w", err)
	}

	return svc.Mutate(func(doc model.Document) {
		doc[key] = value
	})
}

func init() {
	rootCmd.AddCommand(GetClientCmd())
}

