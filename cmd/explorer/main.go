// Command explorer prints merged heap profile flamegraphs from a bucket.
//
// Selections are read from stdin, one "<pid> <timestamp>" per line. Entering
// a new selection while the previous one is still loading discards the
// previous result.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/peterbourgon/ff/v3"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"

	"github.com/heapflame/heapflame/internal/callsite"
	"github.com/heapflame/heapflame/internal/heapprofile"
	"github.com/heapflame/heapflame/internal/logutil"
	"github.com/heapflame/heapflame/internal/selection"
)

// selectionCacheSize bounds what is kept per selection across a session.
const selectionCacheSize = 16

type arguments struct {
	bucketURL  string
	visible    time.Duration
	resolution time.Duration
	logLevel   string
}

func parseArgs() (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("explorer", flag.ExitOnError)
	fs.StringVar(&args.bucketURL, "bucket-url", "file:///var/lib/heapflame/profiles", "bucket holding heap profiles")
	fs.DurationVar(&args.visible, "visible", time.Second, "visible time range")
	fs.DurationVar(&args.resolution, "resolution", time.Millisecond, "time covered by one pixel")
	fs.StringVar(&args.logLevel, "log-level", "info", "log level")

	return &args, ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("HEAPFLAME"),
	)
}

func parseSelection(line string) (selection.Key, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return selection.Key{}, fmt.Errorf("expected \"<pid> <timestamp>\", got %q", line)
	}
	pid, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return selection.Key{}, err
	}
	ts, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return selection.Key{}, err
	}
	return selection.Key{PID: pid, Timestamp: ts}, nil
}

// minSizeFetcher remembers the merge threshold of recently fetched
// selections, derived from the size of their root.
type minSizeFetcher struct {
	store      selection.Fetcher
	visible    time.Duration
	resolution time.Duration
	minSizes   *lru.Cache[selection.Key, int64]
}

func (f *minSizeFetcher) Fetch(ctx context.Context, key selection.Key) ([]callsite.Callsite, error) {
	callsites, err := f.store.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	f.minSizes.Add(key, callsite.MinSize(callsite.RootSize(callsites), f.visible, f.resolution))
	return callsites, nil
}

func (f *minSizeFetcher) minSize(ctx context.Context, key selection.Key) (int64, error) {
	if minSize, ok := f.minSizes.Get(key); ok {
		return minSize, nil
	}
	callsites, err := f.store.Fetch(ctx, key)
	if err != nil {
		return 0, err
	}
	minSize := callsite.MinSize(callsite.RootSize(callsites), f.visible, f.resolution)
	f.minSizes.Add(key, minSize)
	return minSize, nil
}

func run(ctx context.Context, args *arguments, in io.Reader, out io.Writer, bucket *blob.Bucket) error {
	cache, err := selection.NewCache(heapprofile.Store{Bucket: bucket}, selectionCacheSize)
	if err != nil {
		return err
	}
	minSizes, err := lru.New[selection.Key, int64](selectionCacheSize)
	if err != nil {
		return err
	}
	fetcher := &minSizeFetcher{
		store:      cache,
		visible:    args.visible,
		resolution: args.resolution,
		minSizes:   minSizes,
	}

	var outMu sync.Mutex
	controller := selection.NewController(fetcher, func(r selection.Result) {
		outMu.Lock()
		defer outMu.Unlock()
		fmt.Fprintf(out, "# pid %d at %d, min size %d\n", r.Key.PID, r.Key.Timestamp, r.MinSize)
		printTree(out, r.Callsites)
	})
	defer controller.Close()

	var wg sync.WaitGroup
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, err := parseSelection(line)
		if err != nil {
			log.Error().Err(err).Msg("invalid selection")
			continue
		}
		controller.Select(key)

		wg.Add(1)
		go func(key selection.Key) {
			defer wg.Done()
			minSize, err := fetcher.minSize(ctx, key)
			if err == nil {
				_, err = controller.Load(ctx, key, minSize)
			}
			switch {
			case err == nil:
			case errors.Is(err, selection.ErrStale):
				log.Debug().Str("selection", key.String()).Msg("selection changed before its flamegraph was ready")
			default:
				log.Error().Err(err).Str("selection", key.String()).Msg("couldn't load flamegraph")
			}
		}(key)
	}
	wg.Wait()

	return scanner.Err()
}

func main() {
	args, err := parseArgs()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	if err := logutil.ConfigureLogger(args.logLevel); err != nil {
		log.Fatal().Err(err).Msg("error configuring the logger")
	}

	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, args.bucketURL)
	if err != nil {
		log.Fatal().Err(err).Msg("couldn't open bucket")
	}
	defer bucket.Close()

	if err := run(ctx, args, os.Stdin, os.Stdout, bucket); err != nil {
		log.Fatal().Err(err).Msg("couldn't read selections")
	}
}
