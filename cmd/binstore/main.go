package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/olivier-ls/binstore/internal/codec"
	"github.com/olivier-ls/binstore/internal/dump"
	"github.com/olivier-ls/binstore/internal/logx"
	"github.com/olivier-ls/binstore/internal/store"
)

const usage = `usage: binstore [flags] <store> <command> [args]

commands:
  set <key> <json> [ttl]   store a JSON value, optionally expiring after ttl (e.g. 30s, 1h)
  get <key>                print the value
  del <key>                delete a key
  ttl <key>                print the remaining TTL
  keys                     list keys in index order
  prefix <prefix>          list keys starting with prefix
  contains <pattern>...    list keys containing every pattern
  compact                  rewrite the value log without dead bytes
  cleanup                  delete expired keys
  prune                    free empty trie nodes
  stats                    print store statistics as JSON
  export <file>            write a zstd-compressed dump
  import <file>            load a dump
  drop                     delete the store's files

flags:
`

func main() {
	defaultDir := "./data"
	if envDir := os.Getenv("BINSTORE_DIR"); envDir != "" {
		defaultDir = envDir
	}

	var (
		dir          = flag.String("dir", defaultDir, "store directory (env BINSTORE_DIR)")
		codecName    = flag.String("codec", "json", "value codec: json, gob, raw, zstd, zstd+<codec>")
		logLevel     = flag.String("log-level", "warn", "log level: debug, info, warn, error")
		cacheEntries = flag.Int("cache", 0, "value cache entries per store (0=disabled)")
		syncWrites   = flag.Bool("sync", false, "fsync the value log after every write")
		dropExpired  = flag.Bool("compact-expired", false, "drop expired keys when compacting")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}
	name, cmd, rest := args[0], args[1], args[2:]

	logger := logx.NewLogger(os.Stderr, logx.ParseLevel(*logLevel))

	c, err := codec.ByName(*codecName)
	if err != nil {
		logger.Fatal().Err(err).Msg("select codec")
	}
	if zc, ok := c.(*codec.ZstdCodec); ok {
		defer zc.Close()
	}

	reg, err := store.NewRegistry(store.Config{
		Dir:                 *dir,
		Codec:               c,
		Logger:              logger,
		SyncWrites:          *syncWrites,
		CacheEntries:        *cacheEntries,
		CompactDropsExpired: *dropExpired,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("open registry")
	}

	if cmd == "drop" {
		if _, err := reg.DeleteStore(name); err != nil {
			logger.Fatal().Err(err).Msg("drop store")
		}
		fmt.Printf("dropped %s\n", name)
		return
	}

	s, err := reg.Open(name)
	if err != nil {
		logger.Fatal().Err(err).Str("store", name).Msg("open store")
	}

	runErr := run(s, cmd, rest, logger)
	if err := reg.CloseAll(); err != nil {
		logger.Error().Err(err).Msg("close stores")
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, runErr)
		os.Exit(1)
	}
}

func need(args []string, n int, what string) error {
	if len(args) < n {
		return fmt.Errorf("missing %s", what)
	}
	return nil
}

func run(s *store.Store, cmd string, args []string, logger zerolog.Logger) error {
	switch cmd {
	case "set":
		if err := need(args, 2, "<key> <json>"); err != nil {
			return err
		}
		var ttl time.Duration
		if len(args) > 2 {
			d, err := time.ParseDuration(args[2])
			if err != nil {
				return fmt.Errorf("parse ttl: %w", err)
			}
			ttl = d
		}
		var v any
		if err := json.Unmarshal([]byte(args[1]), &v); err != nil {
			// Not JSON; store the argument as a string.
			v = args[1]
		}
		if _, raw := s.Codec().(codec.Raw); raw {
			v = args[1]
		}
		return s.Set(args[0], v, ttl)

	case "get":
		if err := need(args, 1, "<key>"); err != nil {
			return err
		}
		if _, raw := s.Codec().(codec.Raw); raw {
			data, ok, err := s.GetRaw(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%q not found", args[0])
			}
			os.Stdout.Write(data)
			fmt.Println()
			return nil
		}
		var v any
		ok, err := s.Get(args[0], &v)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q not found", args[0])
		}
		return printJSON(v)

	case "del":
		if err := need(args, 1, "<key>"); err != nil {
			return err
		}
		ok, err := s.Delete(args[0])
		if err != nil {
			return err
		}
		fmt.Println(ok)
		return nil

	case "ttl":
		if err := need(args, 1, "<key>"); err != nil {
			return err
		}
		ttl, ok, err := s.TTL(args[0])
		switch {
		case err != nil:
			return err
		case !ok:
			return fmt.Errorf("%q not found", args[0])
		case ttl == store.NoExpiry:
			fmt.Println("none")
		default:
			fmt.Println(ttl)
		}
		return nil

	case "keys":
		keys, err := s.Keys()
		if err != nil {
			return err
		}
		printLines(keys)
		return nil

	case "prefix":
		prefix := ""
		if len(args) > 0 {
			prefix = args[0]
		}
		keys, err := s.StartsWith(prefix)
		if err != nil {
			return err
		}
		printLines(keys)
		return nil

	case "contains":
		keys, err := s.Contains(args...)
		if err != nil {
			return err
		}
		printLines(keys)
		return nil

	case "compact":
		st, err := s.Compact()
		if err != nil {
			return err
		}
		return printJSON(st)

	case "cleanup":
		n, err := s.Cleanup()
		if err != nil {
			return err
		}
		fmt.Printf("removed %d expired keys\n", n)
		return nil

	case "prune":
		n, err := s.PruneTrie()
		if err != nil {
			return err
		}
		fmt.Printf("freed %d trie nodes\n", n)
		return nil

	case "stats":
		st, err := s.Stats()
		if err != nil {
			return err
		}
		return printJSON(st)

	case "export":
		if err := need(args, 1, "<file>"); err != nil {
			return err
		}
		f, err := os.Create(args[0])
		if err != nil {
			return err
		}
		n, err := dump.Export(s, f, zstd.SpeedDefault)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		logger.Info().Int("entries", n).Str("file", args[0]).Msg("exported")
		fmt.Printf("exported %d entries to %s\n", n, args[0])
		return nil

	case "import":
		if err := need(args, 1, "<file>"); err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		st, err := dump.Import(s, f, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("imported %d entries (%d already expired)\n", st.Imported, st.Expired)
		return nil
	}
	return fmt.Errorf("unknown command (want one of: %s)", strings.Join(commands, ", "))
}

var commands = []string{
	"set", "get", "del", "ttl", "keys", "prefix", "contains",
	"compact", "cleanup", "prune", "stats", "export", "import", "drop",
}

func printLines(lines []string) {
	for _, l := range lines {
		fmt.Println(l)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
