package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	backend "github.com/fox-one/hodl"
	"github.com/fox-one/mixin-sdk-go/v2"
	"github.com/fox-one/mixin-sdk-go/v2/mixinnet"
	"golang.org/x/sync/errgroup"
)

var cfg struct {
	keystorePath string
	dbPath       string
	port         int
	asset        string
	decimals     int
	vault        string
	manager      string
	deposit      string
	operators    string
	issuer       string
	updatePath   string
}

func init() {
	flag.StringVar(&cfg.dbPath, "db", "hodl.db", "database path")
	flag.StringVar(&cfg.keystorePath, "key", "key.json", "keystore path")
	flag.IntVar(&cfg.port, "port", 8080, "http port")
	flag.StringVar(&cfg.asset, "asset", "", "lockup token asset id")
	flag.IntVar(&cfg.decimals, "decimals", 8, "lockup token decimals")
	flag.StringVar(&cfg.vault, "vault", "", "vault account id for revoked lockups")
	flag.StringVar(&cfg.manager, "manager", "", "manager account id")
	flag.StringVar(&cfg.deposit, "deposit-whitelist", "", "comma separated deposit whitelist")
	flag.StringVar(&cfg.operators, "draft-operators", "", "comma separated draft operators")
	flag.StringVar(&cfg.issuer, "issuer", "hodl", "jwt issuer")
	flag.StringVar(&cfg.updatePath, "update-path", "", "staging path for contract updates")

	flag.Parse()
}

type keystore struct {
	mixin.Keystore
	SpendKey string `json:"spend_key"`
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}

	return out
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	b, err := os.ReadFile(cfg.keystorePath)
	if err != nil {
		slog.Error("read keystore failed", slog.Any("err", err))
		return
	}

	var store keystore
	if err := json.Unmarshal(b, &store); err != nil {
		slog.Error("decode keystore failed", slog.Any("err", err))
		return
	}

	client, err := mixin.NewFromKeystore(&store.Keystore)
	if err != nil {
		slog.Error("init mixin client failed", slog.Any("err", err))
		return
	}

	spendKey, err := mixinnet.KeyFromString(store.SpendKey)
	if err != nil {
		slog.Error("decode spend key failed", slog.Any("err", err))
		return
	}

	db, err := badger.Open(badger.DefaultOptions(cfg.dbPath))
	if err != nil {
		slog.Error("open db failed", slog.Any("err", err))
		return
	}

	slog.Info("hodl launch", "ver", backend.Version)

	ledger := backend.NewLedger(backend.Config{
		TokenAccountID:   cfg.asset,
		VaultAccountID:   cfg.vault,
		Manager:          cfg.manager,
		DepositWhitelist: splitList(cfg.deposit),
		DraftOperators:   splitList(cfg.operators),
	})

	token := backend.NewMixinTokenService(client, spendKey, cfg.asset, int32(cfg.decimals))

	svr := backend.NewServer(db, ledger, token, backend.ServerConfig{
		Issuer:      cfg.issuer,
		VerifyToken: token.VerifyToken,
		UpdatePath:  cfg.updatePath,
	})

	if err := svr.Init(); err != nil {
		slog.Error("init failed", slog.Any("err", err))
		return
	}

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.port),
		Handler: svr.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http listen", slog.String("addr", s.Addr))
		return s.ListenAndServe()
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.Shutdown(ctx)
	})

	g.Go(func() error {
		return runGC(ctx, db, time.Minute)
	})

	g.Go(func() error {
		return svr.Run(ctx)
	})

	_ = g.Wait()
}

func runGC(ctx context.Context, db *badger.DB, dur time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dur):
			_ = db.RunValueLogGC(0.7)
		}
	}
}
