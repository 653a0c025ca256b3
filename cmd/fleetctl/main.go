// Command fleetctl is the single-binary entrypoint for the cluster
// manager: it runs as a master-candidate daemon, a node daemon, or a thin
// job-submission client, with cluster/master/node subcommands.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fleetctl/pkg/allocator"
	"github.com/cuemby/fleetctl/pkg/blockdev"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/hypervisor"
	"github.com/cuemby/fleetctl/pkg/lock"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/lu"
	"github.com/cuemby/fleetctl/pkg/master"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/node"
	"github.com/cuemby/fleetctl/pkg/processor"
	"github.com/cuemby/fleetctl/pkg/rpc"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetctl",
	Short: "fleetctl - VM instance cluster manager",
	Long: `fleetctl orchestrates virtual-machine instances across a fleet of
Linux hypervisor hosts: a master election and config store, a hierarchical
lock manager, and a Logical Unit framework that dispatches create, start,
stop, migrate, failover, and disk-replace operations as jobs executed by
per-node daemons.`,
	Version:           Version,
	PersistentPreRunE: loadRootConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("fleetctl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML cluster config file")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(jobCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

// cfgFile holds the parsed --config document, populated once before any
// subcommand runs so master/node start-up can use it to fill in flags the
// operator left at their zero value.
var cfgFile *fileConfig

func loadRootConfig(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	fc, err := loadFileConfig(path)
	if err != nil {
		return err
	}
	cfgFile = fc
	return nil
}

// applyStringDefault overwrites flagName with cfgVal when the operator
// never set the flag explicitly and the config file supplied a value.
func applyStringDefault(cmd *cobra.Command, flagName, cfgVal string) {
	if cfgVal == "" || cmd.Flags().Changed(flagName) {
		return
	}
	_ = cmd.Flags().Set(flagName, cfgVal)
}

// fileConfig is the optional --config YAML document: a cluster config
// file read with gopkg.in/yaml.v3, providing defaults for flags the
// operator leaves unset.
type fileConfig struct {
	ClusterName   string   `yaml:"cluster_name"`
	DataDir       string   `yaml:"data_dir"`
	BindAddr      string   `yaml:"bind_addr"`
	RPCAddr       string   `yaml:"rpc_addr"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	AllocatorPath string   `yaml:"allocator_script"`
	VolumeGroup   string   `yaml:"volume_group"`
	PhysicalVols  []string `yaml:"physical_volumes"`
}

func loadFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return &fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ---- master ----

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run or administer a master-candidate node",
}

var masterInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap a new cluster with this node as the first master",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		rpcAddr, _ := cmd.Flags().GetString("rpc-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		allocScript, _ := cmd.Flags().GetString("allocator-script")
		clusterName, _ := cmd.Flags().GetString("cluster-name")

		applyStringDefault(cmd, "bind-addr", cfgFile.BindAddr)
		applyStringDefault(cmd, "rpc-addr", cfgFile.RPCAddr)
		applyStringDefault(cmd, "metrics-addr", cfgFile.MetricsAddr)
		applyStringDefault(cmd, "data-dir", cfgFile.DataDir)
		applyStringDefault(cmd, "allocator-script", cfgFile.AllocatorPath)
		applyStringDefault(cmd, "cluster-name", cfgFile.ClusterName)
		bindAddr, _ = cmd.Flags().GetString("bind-addr")
		rpcAddr, _ = cmd.Flags().GetString("rpc-addr")
		metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
		dataDir, _ = cmd.Flags().GetString("data-dir")
		allocScript, _ = cmd.Flags().GetString("allocator-script")
		clusterName, _ = cmd.Flags().GetString("cluster-name")

		m, err := master.NewMaster(&master.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir, ClusterName: clusterName})
		if err != nil {
			return fmt.Errorf("create master: %w", err)
		}
		if err := m.Bootstrap(); err != nil {
			return fmt.Errorf("bootstrap cluster: %w", err)
		}
		fmt.Printf("cluster bootstrapped: node=%s raft=%s\n", nodeID, bindAddr)

		locks := lock.NewManager()
		alloc := allocator.NewBridge(allocScript, 30*time.Second)

		caPEM := m.GetCACertPEM()
		block, _ := pem.Decode(caPEM)
		var caCert *x509.Certificate
		if block != nil {
			caCert, _ = x509.ParseCertificate(block.Bytes)
		}

		var rpcClient *rpc.Client
		if caCert != nil {
			if clientCert, err := m.IssueCertificate(nodeID, "master"); err == nil {
				rpcClient = rpc.NewClient(*clientCert, caCert, 5*time.Minute)
			}
		}

		proc := processor.New(processor.Config{Master: m, Locks: locks, RPC: rpcClient, Allocator: alloc})
		if err := proc.Start(); err != nil {
			return fmt.Errorf("start processor: %w", err)
		}

		var heartbeats *health.Monitor
		if rpcClient != nil {
			heartbeats = health.NewMonitor(rpcClient, lu.DefaultNodePort, health.DefaultConfig(), m.ListNodes, m.UpdateNode)
			heartbeats.Start()
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		httpSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
		fmt.Printf("metrics: http://%s/metrics   rpc: %s\n", metricsAddr, rpcAddr)

		fmt.Println("master running; press Ctrl+C to stop")
		waitForSignal()

		if heartbeats != nil {
			heartbeats.Stop()
		}
		proc.Stop()
		_ = httpSrv.Shutdown(context.Background())
		return m.Shutdown()
	},
}

var masterJoinTokenCmd = &cobra.Command{
	Use:   "join-token [master|node]",
	Short: "Generate a join token for a new master candidate or node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		nodeID, _ := cmd.Flags().GetString("node-id")
		m, err := master.NewMaster(&master.Config{NodeID: nodeID, DataDir: dataDir})
		if err != nil {
			return err
		}
		tok, err := m.GenerateJoinToken(args[0], 24*time.Hour)
		if err != nil {
			return err
		}
		fmt.Println(tok.Token)
		return nil
	},
}

func init() {
	masterCmd.AddCommand(masterInitCmd, masterJoinTokenCmd)

	masterInitCmd.Flags().String("node-id", "master-1", "Unique node ID")
	masterInitCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Raft bind address")
	masterInitCmd.Flags().String("rpc-addr", "127.0.0.1:1811", "Node RPC listen address used by the master's client")
	masterInitCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP listen address")
	masterInitCmd.Flags().String("data-dir", "./fleetctl-master-data", "Data directory for cluster state")
	masterInitCmd.Flags().String("allocator-script", "", "Path to the external IAllocator script")
	masterInitCmd.Flags().String("cluster-name", "", "Cluster name, used as the CA certificate Organization (defaults to \"fleetctl\")")

	masterJoinTokenCmd.Flags().String("node-id", "master-1", "Master node ID whose store issues the token")
	masterJoinTokenCmd.Flags().String("data-dir", "./fleetctl-master-data", "Data directory for cluster state")
}

// ---- node ----

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a node daemon",
}

var nodeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node RPC daemon (block-device + hypervisor backend)",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		queueDir, _ := cmd.Flags().GetString("queue-dir")
		vg, _ := cmd.Flags().GetString("volume-group")
		hvURI, _ := cmd.Flags().GetString("hypervisor-uri")
		caPath, _ := cmd.Flags().GetString("ca-cert")
		certPath, _ := cmd.Flags().GetString("cert")
		keyPath, _ := cmd.Flags().GetString("key")

		applyStringDefault(cmd, "data-dir", cfgFile.DataDir)
		applyStringDefault(cmd, "volume-group", cfgFile.VolumeGroup)
		dataDir, _ = cmd.Flags().GetString("data-dir")
		vg, _ = cmd.Flags().GetString("volume-group")

		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return fmt.Errorf("read CA cert: %w", err)
		}
		block, _ := pem.Decode(caPEM)
		if block == nil {
			return fmt.Errorf("invalid CA cert PEM at %s", caPath)
		}
		caCert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("parse CA cert: %w", err)
		}

		serverCert, err := loadKeyPair(certPath, keyPath)
		if err != nil {
			return err
		}

		srv := rpc.NewServer(listenAddr, serverCert, caCert)

		pvs := []blockdev.PhysicalVolume{{Name: vg, FreeMiB: 0}}
		disp := node.NewDispatcher(node.Config{
			NodeID:   nodeID,
			DataDir:  dataDir,
			QueueDir: queueDir,
			PVs:      pvs,
			HV:       hypervisor.NewKVM(hvURI),
		})
		disp.RegisterAll(srv)

		fmt.Printf("node daemon listening: node=%s addr=%s\n", nodeID, listenAddr)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigCh:
			fmt.Println("\nshutting down node daemon...")
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	},
}

func init() {
	nodeCmd.AddCommand(nodeStartCmd)
	nodeStartCmd.Flags().String("node-id", "node-1", "Unique node ID")
	nodeStartCmd.Flags().String("listen-addr", "0.0.0.0:1811", "RPC listen address")
	nodeStartCmd.Flags().String("data-dir", "/var/lib/fleetctl", "Node-local data directory (dev cache, uploads)")
	nodeStartCmd.Flags().String("queue-dir", "/var/lib/fleetctl/queue", "jobqueue_* confinement directory")
	nodeStartCmd.Flags().String("volume-group", "vg0", "LVM volume group for LV-backed disks")
	nodeStartCmd.Flags().String("hypervisor-uri", "qemu:///system", "libvirt connection URI for the KVM driver")
	nodeStartCmd.Flags().String("ca-cert", "/etc/fleetctl/ca.pem", "Cluster CA certificate (PEM)")
	nodeStartCmd.Flags().String("cert", "/etc/fleetctl/node.pem", "Node server certificate (PEM)")
	nodeStartCmd.Flags().String("key", "/etc/fleetctl/node-key.pem", "Node server private key (PEM)")
}

// ---- job ----

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Submit and inspect jobs against a running master",
}

var jobSubmitCmd = &cobra.Command{
	Use:   "submit <opcode-type> <fields.json>",
	Short: "Submit a single-opcode job built from a JSON fields document",
	Long: `Constructs a one-opcode Job from an opcode type (e.g. OP_CREATE_INSTANCE)
and a JSON object of its Fields, and submits it to the local master's
processor. It exists to give pkg/processor/pkg/lu a runnable entrypoint
for manual testing, outside of any scripted client.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		nodeID, _ := cmd.Flags().GetString("node-id")

		var fields map[string]interface{}
		if err := json.Unmarshal([]byte(args[1]), &fields); err != nil {
			return fmt.Errorf("parse fields JSON: %w", err)
		}

		m, err := master.NewMaster(&master.Config{NodeID: nodeID, DataDir: dataDir})
		if err != nil {
			return err
		}
		defer m.Shutdown()

		locks := lock.NewManager()
		proc := processor.New(processor.Config{Master: m, Locks: locks})
		if err := proc.Start(); err != nil {
			return err
		}
		defer proc.Stop()

		id, err := proc.Submit([]*types.Opcode{{Type: types.OpcodeType(args[0]), Fields: fields}})
		if err != nil {
			return fmt.Errorf("submit job: %w", err)
		}
		fmt.Printf("job %d submitted\n", id)
		return nil
	},
}

var jobStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Print a job's current status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		nodeID, _ := cmd.Flags().GetString("node-id")
		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}

		m, err := master.NewMaster(&master.Config{NodeID: nodeID, DataDir: dataDir})
		if err != nil {
			return err
		}
		defer m.Shutdown()

		job, err := m.GetJob(id)
		if err != nil {
			return err
		}
		out, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	jobCmd.AddCommand(jobSubmitCmd, jobStatusCmd)
	jobSubmitCmd.Flags().String("node-id", "master-1", "Master node ID to submit against")
	jobSubmitCmd.Flags().String("data-dir", "./fleetctl-master-data", "Master data directory")
	jobStatusCmd.Flags().String("node-id", "master-1", "Master node ID to query")
	jobStatusCmd.Flags().String("data-dir", "./fleetctl-master-data", "Master data directory")
}

func loadKeyPair(certPath, keyPath string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("load node key pair: %w", err)
	}
	return cert, nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}
