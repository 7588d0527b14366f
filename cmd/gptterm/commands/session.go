package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"gptterm/internal/bridge"
	"gptterm/internal/classify"
	"gptterm/internal/compact"
	"gptterm/internal/config"
	"gptterm/internal/journal"
	"gptterm/internal/logging"
	"gptterm/internal/store"
)

// session owns everything a running terminal needs and closes it in
// reverse order.
type session struct {
	cfg        config.Config
	logger     *log.Logger
	events     *logging.StructuredLogger
	logFile    io.Closer
	store      *store.Store
	classifier *classify.Classifier
	watcher    *classify.Watcher
	compactor  *compact.Compactor
	journal    *journal.Journal
	bridge     *bridge.Client
}

// openSession prepares the data directory, logging, the context store, the
// classifier and compactor, the journal and, when wanted, the bridge. The
// journal and the bridge are optional: failures there are logged and the
// session continues without them.
func openSession(ctx context.Context, cfg config.Config, wantBridge bool) (*session, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &session{cfg: cfg}
	logFile, err := logging.OpenFile(cfg.LogPath(), cfg.Log.MaxSizeMB, cfg.Log.MaxBackups)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	s.logFile = logFile
	s.logger = logging.Init(logFile)
	s.events = logging.NewStructuredLogger(s.logger, "session", cfg.Log.JSON)

	if err := s.openContext(ctx); err != nil {
		s.Close()
		return nil, err
	}

	if j, err := journal.Open(cfg.JournalPath(), logging.Named("journal")); err != nil {
		s.logger.Printf("journal unavailable: %v", err)
	} else {
		s.journal = j
		s.events = s.events.WithSession(j.SessionID())
	}

	if wantBridge && cfg.Bridge.Enabled {
		s.connectBridge(ctx)
	}
	return s, nil
}

func (s *session) openContext(ctx context.Context) error {
	cfg := s.cfg

	var rules *classify.Rules
	if cfg.RulesPath != "" {
		r, err := classify.LoadRules(cfg.RulesPath)
		if err != nil {
			return err
		}
		rules = r
	}
	s.classifier = classify.New(rules)
	if cfg.RulesPath != "" && cfg.WatchRules {
		w, err := classify.WatchRules(ctx, cfg.RulesPath, s.classifier, logging.Named("rules"))
		if err != nil {
			s.logger.Printf("rules watcher unavailable: %v", err)
		} else {
			s.watcher = w
		}
	}

	s.store = store.New(cfg.ContextPath(), logging.Named("store"))
	if err := s.store.LoadOrCreate(); err != nil {
		return fmt.Errorf("open context: %w", err)
	}

	comp, err := compact.New(s.store, s.classifier, compact.Thresholds{
		EvictionThreshold: cfg.Compaction.EvictionThreshold,
		MaxCritical:       cfg.Compaction.MaxCritical,
		RetainCount:       cfg.Compaction.RetainCount,
	}, logging.Named("compact"))
	if err != nil {
		return err
	}
	s.compactor = comp
	return nil
}

// connectBridge starts the helper process. Without a configured command the
// running executable is started with the bridge subcommand.
func (s *session) connectBridge(ctx context.Context) {
	command, args := s.cfg.Bridge.Command, s.cfg.Bridge.Args
	if command == "" {
		exe, err := os.Executable()
		if err != nil {
			s.logger.Printf("bridge: cannot locate executable: %v", err)
			return
		}
		command, args = exe, []string{"bridge"}
	}

	client := bridge.NewClient(bridge.Options{
		Command:        command,
		Args:           args,
		RequestTimeout: s.cfg.BridgeTimeout(),
		ShutdownGrace:  s.cfg.BridgeGrace(),
		MaxLineBytes:   s.cfg.Bridge.MaxLineBytes,
		Logger:         logging.Named("bridge"),
	})
	if err := client.Connect(ctx); err != nil {
		s.events.Warn("bridge unavailable, commands run locally", map[string]interface{}{"error": err.Error()})
		fmt.Fprintf(os.Stderr, "warning: %v; commands will run locally\n", err)
		return
	}
	s.bridge = client
	s.events.Info("bridge connected", map[string]interface{}{"command": command})
}

// Close releases the session. It is safe on a partially opened session.
func (s *session) Close() {
	if s.bridge != nil {
		if err := s.bridge.Close(); err != nil {
			s.logger.Printf("bridge close: %v", err)
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Printf("journal close: %v", err)
		}
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.logFile != nil {
		logging.Init(nil)
		_ = s.logFile.Close()
	}
}
