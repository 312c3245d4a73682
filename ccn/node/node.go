// Package node defines the life cycle of a ccn process: loading the
// configuration and the node identity, wiring the services of the selected
// subcommand, and shutting everything down on the first signal.
package node

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/aleph-im/go-ccn/ccn/chains"
	"github.com/aleph-im/go-ccn/ccn/chainsync"
	"github.com/aleph-im/go-ccn/ccn/db/postgres"
	"github.com/aleph-im/go-ccn/ccn/handlers"
	"github.com/aleph-im/go-ccn/ccn/mq"
	"github.com/aleph-im/go-ccn/ccn/processor"
	"github.com/aleph-im/go-ccn/ccn/publisher"
	"github.com/aleph-im/go-ccn/ccn/storage"
	"github.com/aleph-im/go-ccn/cmd"
	"github.com/aleph-im/go-ccn/config"
	"github.com/aleph-im/go-ccn/monitoring/prometheus"
	"github.com/aleph-im/go-ccn/runtime"
)

var log = logrus.WithField("prefix", "node")

// Kind selects the service set a ccn process runs. Every kind shares the
// same infrastructure wiring; only Postgres and RabbitMQ connect them.
type Kind string

const (
	// SyncTxs runs the pending tx expansion engine.
	SyncTxs Kind = "sync-txs"
	// ProcessMessages runs the pending message pipeline.
	ProcessMessages Kind = "process-messages"
	// API serves only the operational HTTP surface.
	API Kind = "api"
)

// Node handles the services running one ccn subcommand. It owns the shared
// infrastructure and registers every long-lived component on a service
// registry for lifecycle control.
type Node struct {
	cliCtx   *cli.Context
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Config
	kind     Kind
	services *runtime.ServiceRegistry
	lock     sync.RWMutex
	stop     chan struct{} // Channel to wait for termination notifications.

	nodeKey ed25519.PrivateKey
	store   *postgres.Store
	broker  *mq.Client
	storage *storage.Service
}

// New creates a node instance, loads its configuration and identity, and
// registers every service the kind requires. Infrastructure that cannot be
// reached is a bootstrap error, not a degraded start.
func New(cliCtx *cli.Context, kind Kind) (*Node, error) {
	cfg, err := config.Load(cliCtx.String(cmd.ConfigFileFlag.Name))
	if err != nil {
		return nil, err
	}
	if cliCtx.IsSet(cmd.MonitoringHostFlag.Name) {
		cfg.Monitoring.Host = cliCtx.String(cmd.MonitoringHostFlag.Name)
	}
	if cliCtx.IsSet(cmd.MonitoringPortFlag.Name) {
		cfg.Monitoring.Port = cliCtx.Int(cmd.MonitoringPortFlag.Name)
	}

	keyPath := cliCtx.String(cmd.KeyFileFlag.Name)
	if keyPath == "" {
		return nil, errors.New("a node key is required, pass --key")
	}
	nodeKey, err := config.LoadNodeKey(keyPath)
	if err != nil {
		return nil, err
	}
	log.WithField("identity", hex.EncodeToString(nodeKey.Public().(ed25519.PublicKey))).Info("Loaded node key")

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cliCtx:   cliCtx,
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		kind:     kind,
		services: runtime.NewServiceRegistry(),
		stop:     make(chan struct{}),
		nodeKey:  nodeKey,
	}

	if err := n.startInfrastructure(); err != nil {
		n.cancel()
		return nil, err
	}
	if err := n.registerServices(); err != nil {
		n.cancel()
		return nil, err
	}
	return n, nil
}

// startInfrastructure connects the backends every kind shares: the relational
// store, the broker with its topology, and the content-addressed storage.
func (n *Node) startInfrastructure() error {
	store, err := postgres.Open(n.ctx, n.cfg.Postgres.DSN())
	if err != nil {
		return err
	}
	n.store = store

	broker, err := mq.Dial(n.ctx, n.cfg.RabbitMQ.URL())
	if err != nil {
		return err
	}
	n.broker = broker
	if err := n.declareTopology(); err != nil {
		return err
	}

	ipfsAddr := ""
	if n.cfg.IPFS.Enabled {
		ipfsAddr = n.cfg.IPFS.Addr()
	}
	n.storage, err = storage.New(&storage.Config{
		Folder:     n.cfg.Storage.Folder,
		IPFSAddr:   ipfsAddr,
		PinTimeout: n.cfg.Aleph.PinTimeout,
	})
	return err
}

// declareTopology declares the durable exchanges and queues of the sync
// pipeline. Declaration is idempotent, so every process asserts the full
// topology it touches.
func (n *Node) declareTopology() error {
	rmq := n.cfg.RabbitMQ
	if err := n.broker.DeclareExchange(rmq.PendingTxExchange); err != nil {
		return err
	}
	if err := n.broker.DeclareQueue(rmq.PendingTxExchange, rmq.PendingTxExchange+"-queue"); err != nil {
		return err
	}
	if err := n.broker.DeclareExchange(rmq.PendingMessageExchange); err != nil {
		return err
	}
	if err := n.broker.DeclareQueue(rmq.PendingMessageExchange, rmq.PendingMessageExchange+"-queue"); err != nil {
		return err
	}
	// Downstream subscribers bind their own queues on the processed
	// exchange; the node only asserts it exists.
	return n.broker.DeclareExchange(rmq.ProcessedExchange)
}

func (n *Node) registerServices() error {
	switch n.kind {
	case SyncTxs:
		if err := n.registerChainSyncService(); err != nil {
			return err
		}
	case ProcessMessages:
		if err := n.registerProcessorService(); err != nil {
			return err
		}
	case API:
		// Nothing beyond the operational surface.
	default:
		return errors.Errorf("unknown node kind %q", n.kind)
	}
	if n.cfg.Monitoring.Enabled || n.kind == API {
		return n.registerPrometheusService()
	}
	return nil
}

func (n *Node) registerChainSyncService() error {
	admitter := publisher.New(&publisher.Config{
		PendingTxExchange:      n.cfg.RabbitMQ.PendingTxExchange,
		PendingMessageExchange: n.cfg.RabbitMQ.PendingMessageExchange,
	}, n.store, n.broker)

	svc, err := chainsync.NewService(n.ctx, &chainsync.Config{
		Store:        n.store,
		ChainData:    chainsync.NewChainData(n.store, n.storage),
		Admitter:     admitter,
		Consumer:     n.broker,
		Queue:        n.cfg.RabbitMQ.PendingTxExchange + "-queue",
		ScanInterval: n.cfg.Aleph.ScanInterval,
		SeenIDsSize:  n.cfg.Aleph.SeenIDsSize,
	})
	if err != nil {
		return err
	}
	return n.services.RegisterService(svc)
}

func (n *Node) registerProcessorService() error {
	registry := handlers.NewRegistry(&handlers.Config{
		Storage:         n.storage,
		StoreQuotaBytes: n.cfg.Aleph.StoreQuotaMib * 1024 * 1024,
	})

	svc, err := processor.NewService(n.ctx, &processor.Config{
		Store:             n.store,
		Storage:           n.storage,
		Verifier:          chains.NewRegistry(),
		Handlers:          registry,
		Consumer:          n.broker,
		Queue:             n.cfg.RabbitMQ.PendingMessageExchange + "-queue",
		Broker:            n.broker,
		ProcessedExchange: n.cfg.RabbitMQ.ProcessedExchange,
		MaxConcurrency:    n.cfg.Aleph.MaxConcurrency,
		TypeConcurrency:   n.cfg.Aleph.TypeConcurrency,
		MaxRetries:        n.cfg.Aleph.MaxRetries,
		BackoffBase:       n.cfg.Aleph.BackoffBase,
		BackoffCap:        n.cfg.Aleph.BackoffCap,
		FetchTimeout:      n.cfg.Aleph.FetchTimeout,
		ScanInterval:      n.cfg.Aleph.ScanInterval,
		SeenIDsSize:       n.cfg.Aleph.SeenIDsSize,
		PendingHighWater:  n.cfg.Aleph.PendingHighWater,
		ShutdownTimeout:   n.cfg.Aleph.ShutdownTimeout,
	})
	if err != nil {
		return err
	}
	return n.services.RegisterService(svc)
}

func (n *Node) registerPrometheusService() error {
	svc := prometheus.NewService(
		fmt.Sprintf("%s:%d", n.cfg.Monitoring.Host, n.cfg.Monitoring.Port),
		n.services,
	)
	logrus.AddHook(prometheus.NewLogrusCollector())
	return n.services.RegisterService(svc)
}

// Start kicks off every registered service and blocks until the node is
// told to shut down.
func (n *Node) Start() {
	n.lock.Lock()
	n.services.StartAll()
	n.lock.Unlock()

	log.WithField("kind", n.kind).Info("Node started")

	stop := n.stop
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		<-sigc
		log.Info("Got interrupt, shutting down...")
		go n.Close()
		for i := 10; i > 0; i-- {
			<-sigc
			if i > 1 {
				log.WithField("times", i-1).Info("Already shutting down, interrupt more to panic")
			}
		}
		panic("Panic closing the node")
	}()

	// Wait for stop channel to be closed.
	<-stop
}

// Close handles graceful shutdown of the system: services first, then the
// infrastructure they depend on.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()

	log.Info("Stopping node")
	n.services.StopAll()
	if err := n.broker.Close(); err != nil {
		log.WithError(err).Error("Could not close broker connection")
	}
	if err := n.store.Close(); err != nil {
		log.WithError(err).Error("Could not close database")
	}
	n.cancel()
	close(n.stop)
}
