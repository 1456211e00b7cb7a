// Package main provides the entry point for piesss-binder.
//
// piesss-binder owns the bandwidth ledger of every host in its inventory.
// It binds ports on piesss segments to the best-fit uplink and serves the
// binding API on a Unix socket for the CNI plugin and piesssctl.
//
// Port records come from one of three backends:
// - kubernetes: Pods; a Pod controller binds Pods carrying the
//   piesss.io/segments annotation and releases them on deletion
// - ovn: Logical Switch Ports in the OVN Northbound database
// - memory: process-local records, lost on restart
//
// Usage:
//
//	piesss-binder [flags]
//
// Flags:
//
//	--config string              Path to configuration file (default: uses env vars)
//	--kubeconfig string          Path to kubeconfig file (default: in-cluster config)
//	--backend string             Port record backend: memory, kubernetes or ovn
//	--socket string              Binding API socket path
//	--log-level string           Log level: debug, info, warn, error
//
// Environment Variables:
//
//	PIESSS_CONFIG_FILE           Path to configuration file
//	PIESSS_PORTS                 Uplink descriptors host|port|gbps|vlan|base, comma separated
//	PIESSS_REQUEST_GBPS          Bandwidth reserved per bound port (default: 8)
//	PIESSS_DELEGATED_ADDRESS     Default delegated address (default: 2003::10)
//	PIESSS_STORE_BACKEND         Port record backend (default: kubernetes)
//	PIESSS_NBDB_ADDRESS          OVN Northbound DB address (ovn backend)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/jiayi-1994/piesss-binder/pkg/binding"
	"github.com/jiayi-1994/piesss-binder/pkg/config"
	"github.com/jiayi-1994/piesss-binder/pkg/controller"
	"github.com/jiayi-1994/piesss-binder/pkg/events"
	"github.com/jiayi-1994/piesss-binder/pkg/logging"
	"github.com/jiayi-1994/piesss-binder/pkg/metrics"
	"github.com/jiayi-1994/piesss-binder/pkg/ovndb"
	"github.com/jiayi-1994/piesss-binder/pkg/portstore"
	"github.com/jiayi-1994/piesss-binder/pkg/server"
	"github.com/jiayi-1994/piesss-binder/pkg/types"
)

var (
	scheme = runtime.NewScheme()

	// Version information (set at build time)
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

// Options contains command-line options
type Options struct {
	ConfigFile   string
	Kubeconfig   string
	Backend      string
	SocketPath   string
	LogLevel     string
	PrintVersion bool
}

func main() {
	opts := parseFlags()
	if opts.PrintVersion {
		printVersion()
		os.Exit(0)
	}

	cfg, err := loadConfiguration(opts)
	if err != nil {
		klog.Fatalf("Failed to load configuration: %v", err)
	}

	if err := initLogging(cfg); err != nil {
		klog.Fatalf("Failed to initialize logging: %v", err)
	}
	log := logging.L().WithName("main")
	defer log.Sync()

	log.Info("Starting piesss-binder", "version", version, "commit", gitCommit, "built", buildDate)
	log.Info("Configuration loaded",
		"backend", cfg.Store.Backend,
		"uplinks", len(cfg.Piesss.Ports),
		"requestGbps", cfg.Binding.RequestGbps,
		"networkTypes", cfg.Binding.NetworkTypes)

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupSignalHandler(cancel)

	switch cfg.Store.Backend {
	case types.StoreBackendKubernetes:
		err = runWithManager(ctx, cfg)
	case types.StoreBackendOVN:
		err = runWithOVN(ctx, cfg)
	default:
		err = runStandalone(ctx, cfg, portstore.NewMemoryStore())
	}
	if err != nil {
		log.Error(err, "Binder failed")
		os.Exit(1)
	}
	log.Info("Binder stopped")
}

func parseFlags() *Options {
	opts := &Options{}

	flag.StringVar(&opts.ConfigFile, "config", "",
		"Path to configuration file (can also use PIESSS_CONFIG_FILE env var)")
	flag.StringVar(&opts.Kubeconfig, "kubeconfig", "",
		"Path to kubeconfig file (default: in-cluster config)")
	flag.StringVar(&opts.Backend, "backend", "",
		"Port record backend: memory, kubernetes or ovn")
	flag.StringVar(&opts.SocketPath, "socket", "",
		"Binding API socket path")
	flag.StringVar(&opts.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	flag.BoolVar(&opts.PrintVersion, "version", false,
		"Print version information and exit")

	klog.InitFlags(nil)
	flag.Parse()
	return opts
}

// loadConfiguration loads file and environment configuration, then applies
// command-line overrides and validates the result.
func loadConfiguration(opts *Options) (*config.Config, error) {
	path := opts.ConfigFile
	if path == "" {
		path = os.Getenv("PIESSS_CONFIG_FILE")
	}
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}

	if opts.Kubeconfig != "" {
		cfg.Kubernetes.Kubeconfig = opts.Kubeconfig
	}
	if opts.Backend != "" {
		cfg.Store.Backend = opts.Backend
	}
	if opts.SocketPath != "" {
		cfg.Server.SocketPath = opts.SocketPath
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogging installs the global zap logger and routes controller-runtime
// and klog through it.
func initLogging(cfg *config.Config) error {
	if err := logging.InitGlobalLogger(logging.OptionsFromConfig(cfg.Logging)); err != nil {
		return err
	}
	ctrl.SetLogger(logging.L().Logger())
	klog.SetLogger(logging.L().Logger())
	return nil
}

func setupSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		klog.Infof("Received signal %s, initiating shutdown...", sig)
		cancel()

		sig = <-sigCh
		klog.Infof("Received second signal %s, forcing exit", sig)
		os.Exit(1)
	}()
}

func printVersion() {
	fmt.Printf("piesss-binder\n")
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Git Commit: %s\n", gitCommit)
	fmt.Printf("  Build Date: %s\n", buildDate)
}

// runWithManager binds Pods. The Pod controller and the binding API share
// one driver, so both see the same ledger.
func runWithManager(ctx context.Context, cfg *config.Config) error {
	kubeconfig, err := kubeConfig(cfg)
	if err != nil {
		return err
	}

	mgr, err := ctrl.NewManager(kubeconfig, ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress: cfg.Metrics.BindAddress,
		},
		HealthProbeBindAddress:  cfg.Metrics.HealthProbeAddress,
		LeaderElection:          cfg.Kubernetes.LeaderElection,
		LeaderElectionID:        "piesss-binder-leader",
		LeaderElectionNamespace: cfg.Kubernetes.LeaderElectionNamespace,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	store := portstore.NewPodStore(mgr.GetClient(), "")
	driver, err := binding.NewDriverFromConfig(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to create binding driver: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(kubeconfig)
	if err != nil {
		return fmt.Errorf("failed to create clientset: %w", err)
	}
	recorder := events.NewRecorder(clientset, controller.PodControllerName, scheme)

	reconciler := controller.NewPodReconciler(mgr.GetClient(), recorder, driver, store)
	if err := reconciler.SetupWithManager(mgr); err != nil {
		return fmt.Errorf("failed to setup Pod controller: %w", err)
	}

	srv := server.NewServer(cfg.Server.SocketPath, server.NewAPI(driver, store.ByPortID()))
	if err := mgr.Add(manager.RunnableFunc(srv.Run)); err != nil {
		return fmt.Errorf("failed to add binding server: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("failed to add healthz check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("failed to add readyz check: %w", err)
	}

	klog.Info("Starting controller manager...")
	return mgr.Start(ctx)
}

func kubeConfig(cfg *config.Config) (*rest.Config, error) {
	if cfg.Kubernetes.Kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", cfg.Kubernetes.Kubeconfig)
	}
	return ctrl.GetConfig()
}

// runWithOVN binds Logical Switch Ports in the Northbound database.
func runWithOVN(ctx context.Context, cfg *config.Config) error {
	klog.Infof("Connecting to OVN Northbound database at %s", cfg.OVN.NBDBAddress)
	if cfg.OVN.SSL.Enabled {
		klog.Info("SSL enabled for OVN database connections")
	}

	nb, err := ovndb.NewClient(ovndb.ClientConfigFrom(cfg.OVN))
	if err != nil {
		return fmt.Errorf("failed to create OVN client: %w", err)
	}
	if err := nb.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to OVN database: %w", err)
	}
	defer nb.Close()

	return runStandalone(ctx, cfg, ovndb.NewPortStore(nb))
}

// runStandalone serves the binding API and metrics without a manager.
func runStandalone(ctx context.Context, cfg *config.Config, backend server.Backend) error {
	driver, err := binding.NewDriverFromConfig(cfg, backend)
	if err != nil {
		return fmt.Errorf("failed to create binding driver: %w", err)
	}

	if cfg.Metrics.BindAddress != "" && cfg.Metrics.BindAddress != "0" {
		metricsSrv := &http.Server{
			Addr:              cfg.Metrics.BindAddress,
			Handler:           promhttp.HandlerFor(ctrlmetrics.Registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				klog.Errorf("Metrics server error: %v", err)
			}
		}()
		defer metricsSrv.Close()
	}

	return server.NewServer(cfg.Server.SocketPath, server.NewAPI(driver, backend)).Run(ctx)
}
