// lora-query je CLI nad daty LoRa backendu: výpis zařízení, readingů, statistik,
// CSV export, smazání dat a archivace do objektového úložiště.
//
// Data čte buď přímo z lokálního úložiště (podle stejné konfigurace jako server),
// nebo s --api z REST API běžícího backendu.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"lora-backend/internal/client"
	"lora-backend/internal/config"
	"lora-backend/internal/logging"
	"lora-backend/internal/query"
	"lora-backend/internal/store"
)

type options struct {
	node        string
	gateway     string
	limit       int
	output      string
	confirm     bool
	asJSON      bool
	apiURL      string
	dbPath      string
	format      string
	compression string
	local       bool
}

var commands = []struct{ name, help string }{
	{"devices", "registr zařízení"},
	{"readings", "poslední readingy (-n, -g, -l)"},
	{"stats", "souhrnné statistiky"},
	{"export", "CSV export (-n, -o; -o - = stdout)"},
	{"node", "detail jednoho nodu (-n povinné, -l)"},
	{"links", "kvalita rádiových spojů po nodech"},
	{"clear", "smaže všechna data (jen s --confirm, ne přes --api)"},
	{"archive", "Parquet/CSV archiv do MinIO, s --local jen do souboru -o"},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "[CHYBA] %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	var o options
	fs := pflag.NewFlagSet("lora-query", pflag.ContinueOnError)
	fs.SetOutput(stdout)
	fs.StringVarP(&o.node, "node", "n", "", "ID nodu pro filtrování")
	fs.StringVarP(&o.gateway, "gateway", "g", "", "ID gatewaye pro filtrování")
	fs.IntVarP(&o.limit, "limit", "l", 20, "maximální počet záznamů")
	fs.StringVarP(&o.output, "output", "o", "", "výstupní soubor pro export/archive")
	fs.BoolVar(&o.confirm, "confirm", false, "potvrzení destruktivní operace")
	fs.BoolVar(&o.asJSON, "json", false, "výstup jako JSON místo tabulky")
	fs.StringVar(&o.apiURL, "api", "", "URL běžícího backendu (např. http://localhost:8081)")
	fs.StringVar(&o.dbPath, "db", "", "cesta k SQLite databázi (přepíše STORE_DRIVER/SQLITE_PATH)")
	fs.StringVar(&o.format, "format", "parquet", "formát archivu: parquet, csv")
	fs.StringVar(&o.compression, "compression", "", "komprese archivu (SNAPPY, ZSTD, GZIP, NONE; u csv zstd)")
	fs.BoolVar(&o.local, "local", false, "archive: jen zapsat soubor -o, bez uploadu")
	fs.Usage = func() { printHelp(stdout, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		printHelp(stdout, fs)
		return errors.New("zadej právě jeden příkaz")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if o.dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLitePath = o.dbPath
	}

	a := &app{out: stdout, o: o, cfg: cfg, now: time.Now}

	cmd := fs.Arg(0)
	if o.apiURL != "" {
		if cmd == "clear" || cmd == "archive" {
			return fmt.Errorf("příkaz %s potřebuje přímý přístup k úložišti, nejde s --api", cmd)
		}
		a.b = client.NewAPIClient(o.apiURL, 30*time.Second)
	} else {
		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()
		a.st = st
		a.q = query.New(st)
		a.b = localBackend{q: a.q, now: a.now}
	}

	return a.dispatch(ctx, cmd)
}

// openStore otevře úložiště z konfigurace. Neexistující SQLite soubor se
// nezakládá: bez běžícího serveru nejsou žádná data.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Store.Driver == "sqlite" {
		if _, err := os.Stat(cfg.Store.SQLitePath); err != nil {
			return nil, fmt.Errorf("databáze nenalezena: %s (nejdřív spusť server)", cfg.Store.SQLitePath)
		}
	}
	return store.Open(ctx, store.Config{
		Driver:      cfg.Store.Driver,
		SQLitePath:  cfg.Store.SQLitePath,
		PostgresURL: cfg.Store.PostgresURL,
		Logger:      logging.New("warn", os.Stderr),
	})
}

func printHelp(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintf(w, "Dotazy nad daty LoRa backendu.\n\nPoužití:\n  lora-query <příkaz> [volby]\n\nPříkazy:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.help)
	}
	fmt.Fprintf(w, "\nVolby:\n%s", fs.FlagUsages())
	fmt.Fprintf(w, `
Příklady:
  lora-query stats
  lora-query readings -n NODE1 -l 50
  lora-query export -n NODE1 -o node1.csv
  lora-query devices --api http://localhost:8081
  lora-query clear --confirm
`)
}
