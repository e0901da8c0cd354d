package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	logging "github.com/ipfs/go-log/v2"
	"github.com/ipld/go-car"
	kvstore "github.com/ipld/go-kvstore"
	"github.com/ipld/go-kvstore/store"
	"github.com/ipld/go-kvstore/store/primary"
	"github.com/ipld/go-kvstore/store/types"
)

var log = logging.Logger("kvstore/cmd")

// command is a parsed invocation that runs against an open store.
type command struct {
	name      string
	args      []string
	dir       string
	cacheSize int
	out       io.Writer
}

func main() {
	cfg := LoadConfig()

	var (
		dir        string
		keyCodec   string
		valueCodec string
		cacheSize  int
		logLevel   string
	)
	flag.StringVar(&dir, "dir", cfg.Dir, "store directory (KVSTORE_DIR)")
	flag.StringVar(&keyCodec, "key", cfg.KeyCodec, "key codec: "+codecNames)
	flag.StringVar(&valueCodec, "value", cfg.ValueCodec, "value codec: "+codecNames)
	flag.IntVar(&cacheSize, "cache", cfg.CacheSize, "value cache capacity")
	flag.StringVar(&logLevel, "log-level", cfg.LogLevel, "log level")
	flag.Usage = usage
	flag.Parse()

	if err := logging.SetLogLevelRegex("kvstore.*", logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "invalid log level:", err)
		os.Exit(2)
	}
	if dir == "" {
		fmt.Fprintln(os.Stderr, "missing dir")
		os.Exit(2)
	}
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cmd := command{
		name:      flag.Arg(0),
		args:      flag.Args()[1:],
		dir:       dir,
		cacheSize: cacheSize,
		out:       os.Stdout,
	}

	var err error
	if cmd.name == "import-car" {
		err = importCar(context.Background(), cmd)
	} else {
		err = dispatch(keyCodec, valueCodec, cmd)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `usage: %s [flags] <command> [args]

commands:
  stats              show store statistics
  keys               list all keys
  get <key>          print the value stored under key
  put <key> <value>  store a value
  delete <key>       remove a key
  verify             read back every value and check the value log
  import-car <file>  import blocks from a CAR file into a block store

flags:
`, filepath.Base(os.Args[0]))
	flag.PrintDefaults()
}

func wantArgs(cmd command, n int) error {
	if len(cmd.args) != n {
		return fmt.Errorf("%s takes %d argument(s), got %d", cmd.name, n, len(cmd.args))
	}
	return nil
}

func runCommand[K comparable, V any](key field[K], value field[V], cmd command) (err error) {
	s, err := store.Open(cmd.dir, key.codec, value.codec, store.CacheSize(cmd.cacheSize))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	switch cmd.name {
	case "stats":
		return printStats(s, cmd.out)
	case "keys":
		it, err := s.Keys()
		if err != nil {
			return err
		}
		for {
			k, err := it.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.out, key.format(k))
		}
	case "get":
		if err := wantArgs(cmd, 1); err != nil {
			return err
		}
		k, err := key.parse(cmd.args[0])
		if err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}
		v, found, err := s.Get(k)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", types.ErrKeyNotFound, cmd.args[0])
		}
		fmt.Fprintln(cmd.out, value.format(v))
		return nil
	case "put":
		if err := wantArgs(cmd, 2); err != nil {
			return err
		}
		k, err := key.parse(cmd.args[0])
		if err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}
		v, err := value.parse(cmd.args[1])
		if err != nil {
			return fmt.Errorf("invalid value: %w", err)
		}
		return s.Put(k, v)
	case "delete":
		if err := wantArgs(cmd, 1); err != nil {
			return err
		}
		k, err := key.parse(cmd.args[0])
		if err != nil {
			return fmt.Errorf("invalid key: %w", err)
		}
		removed, err := s.Remove(k)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("%w: %s", types.ErrKeyNotFound, cmd.args[0])
		}
		return nil
	case "verify":
		return verify(s, cmd.out)
	}
	return fmt.Errorf("unknown command %q", cmd.name)
}

func printStats[K comparable, V any](s *store.Store[K, V], out io.Writer) error {
	st, err := s.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Type:           ", s.TypeTag())
	fmt.Fprintln(out, "Keys:           ", st.Keys)
	fmt.Fprintln(out, "Garbage records:", st.GarbageRecords)
	fmt.Fprintln(out, "Value log size: ", st.ValueLogSize)
	fmt.Fprintln(out, "Index size:     ", st.IndexSize)
	fmt.Fprintln(out, "Free list size: ", st.FreeListSize)
	return nil
}

// verify reads every live value back through the store, then scans the value
// log to check that every record is either live or accounted as garbage.
func verify[K comparable, V any](s *store.Store[K, V], out io.Writer) error {
	it, err := s.Keys()
	if err != nil {
		return err
	}
	var bad int
	for {
		k, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if _, _, err = s.Get(k); err != nil {
			log.Errorw("Unreadable value", "key", k, "err", err)
			bad++
		}
	}
	if err = s.Flush(); err != nil {
		return err
	}
	st, err := s.Stats()
	if err != nil {
		return err
	}

	records, err := countRecords(filepath.Join(s.Dir(), store.DataFileName))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Records:        ", records)
	fmt.Fprintln(out, "Live keys:      ", st.Keys)
	fmt.Fprintln(out, "Garbage records:", st.GarbageRecords)
	fmt.Fprintln(out, "Unreadable:     ", bad)

	if bad != 0 {
		return fmt.Errorf("%d values could not be read", bad)
	}
	if records != int64(st.Keys)+st.GarbageRecords {
		return fmt.Errorf("value log holds %d records, expected %d live and %d garbage",
			records, st.Keys, st.GarbageRecords)
	}
	return nil
}

func countRecords(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	iter := primary.NewIterator(f)
	var n int64
	for {
		_, _, err := iter.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("value log scan stopped after %d records: %w", n, err)
		}
		n++
	}
}

func importCar(ctx context.Context, cmd command) (err error) {
	if err = wantArgs(cmd, 1); err != nil {
		return err
	}
	f, err := os.Open(cmd.args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	cr, err := car.NewCarReader(f)
	if err != nil {
		return fmt.Errorf("cannot read car header: %w", err)
	}

	bs, err := kvstore.OpenBlockstore(cmd.dir, store.CacheSize(cmd.cacheSize))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := bs.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	var n int
	for {
		blk, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("cannot read block %d: %w", n, err)
		}
		if err = bs.Put(ctx, blk); err != nil {
			return err
		}
		n++
	}
	log.Infow("Imported car file", "file", cmd.args[0], "blocks", n, "roots", len(cr.Header.Roots))
	fmt.Fprintf(cmd.out, "imported %d blocks\n", n)
	return nil
}
