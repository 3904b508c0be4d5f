package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/itiky/collaborate-doc/model"
	"github.com/itiky/collaborate-doc/service/server"
	"github.com/itiky/collaborate-doc/storage"
)

const (
	FlagPort       = "port"
	FlagDocPath    = "path"
	FlagStorePath  = "store"
	FlagSavePeriod = "save-period"
)

// GetServerCmd returns document server start command.
func GetServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the document server",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			port, err := cmd.Flags().GetInt(FlagPort)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagPort, err)
			}
			docPath, err := cmd.Flags().GetString(FlagDocPath)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagDocPath, err)
			}
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagFilePath, err)
			}
			storePath, err := cmd.Flags().GetString(FlagStorePath)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagStorePath, err)
			}
			savePeriod, err := cmd.Flags().GetDuration(FlagSavePeriod)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagSavePeriod, err)
			}

			// Init storage
			var store *storage.Store
			if storePath != "" {
				if store, err = storage.OpenStore(storePath); err != nil {
					glog.Fatalf("store init: %v", err)
				}
				defer store.Close()
			}

			docHistory, err := loadDocHistory(store, filePath)
			if err != nil {
				glog.Fatalf("document init: %v", err)
			}

			// Init service
			svc, err := server.NewDocumentService(docHistory, store, docPath, savePeriod)
			if err != nil {
				glog.Fatalf("service init: %v", err)
			}

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle(docPath, svc)
			if docPath != "/" {
				mux.Handle(docPath+"/", svc)
			}

			// Start server
			svc.Start()

			httpServer := &http.Server{
				Addr:    ":" + strconv.Itoa(port),
				Handler: mux,
			}
			go func() {
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					glog.Fatalf("HTTP server: listen: %v", err)
				}
			}()

			glog.Infof("HTTP server started: :%d%s", port, docPath)

			// Wait for signal
			signalCh := make(chan os.Signal, 1)
			signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
			<-signalCh

			svc.Stop()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(ctx); err != nil {
				glog.Errorf("HTTP server: shutdown: %v", err)
			}
		},
	}
	cmd.Flags().Int(FlagPort, 2412, "(optional) server port")
	cmd.Flags().String(FlagDocPath, "/doc", "(optional) document route")
	cmd.Flags().String(FlagFilePath, "", "(optional) path to the initial JSON document (see generate)")
	cmd.Flags().String(FlagStorePath, "", "(optional) bolt store path, the stored snapshot takes precedence over the file")
	cmd.Flags().Duration(FlagSavePeriod, 5*time.Second, "(optional) snapshot save period")

	return cmd
}

// loadDocHistory picks the stored snapshot, then the JSON file, then an empty document.
func loadDocHistory(store *storage.Store, filePath string) (*storage.DocumentHistory, error) {
	if store != nil {
		version, doc, err := store.Load()
		switch {
		case err == nil:
			glog.Infof("Stored snapshot v%d loaded", version)
			return storage.NewDocumentHistory(doc)
		case !errors.Is(err, storage.ErrNoSnapshot):
			return nil, err
		}
	}

	if filePath != "" {
		return storage.NewDocHistoryFromFile(filePath)
	}

	return storage.NewDocumentHistory(model.Document{})
}

func init() {
	rootCmd.AddCommand(GetServerCmd())
}
