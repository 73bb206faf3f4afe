package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kjk/arraystore/codec"
	"github.com/kjk/arraystore/container"
	"github.com/kjk/arraystore/log"
)

var (
	flgPretty  = flag.Bool("pretty", false, "pretty-print JSON")
	flgVerbose = flag.Bool("v", false, "verbose logging")
	flgCodecs  = flag.Bool("codecs", false, "list supported codecs")
	flgCompact = flag.Bool("compact", false, "compact files before printing info")
	flgLogDir  = flag.String("log-dir", "", "also write logs, errors and events to daily files in this directory")
	usage      = `
arrayinfo [-pretty] [-v] [-compact] [-log-dir <dir>] <file>...

Prints information about datasets in container files as JSON.
`
)

func printInfo(path string) error {
	if *flgCompact {
		timeStart := time.Now()
		before, after, err := container.Compact(path)
		if err != nil {
			return err
		}
		log.Logf("compacted '%s' from %d to %d bytes\n", path, before, after)
		log.EventWithDuration("arrayinfo.compact", time.Since(timeStart), "path", path, "before", before, "after", after)
	}
	log.Verbosef("opening '%s'\n", path)
	f, err := container.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info := f.Info()
	d, err := info.JSON(*flgPretty)
	if err != nil {
		return err
	}
	log.Verbosef("'%s': %d datasets, %d bytes\n", path, len(info.Datasets), info.Size)
	os.Stdout.Write(d)
	if !*flgPretty {
		fmt.Println()
	}
	return nil
}

func run(args []string) int {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.CommandLine.Parse(args)
	// stdout is for JSON
	log.Stdout = os.Stderr
	log.Verbose = *flgVerbose

	if *flgCodecs {
		fmt.Println(strings.Join(codec.Names(), "\n"))
		return 0
	}

	paths := flag.Args()
	if len(paths) == 0 {
		flag.Usage()
		return 2
	}
	if *flgLogDir != "" {
		if err := os.MkdirAll(*flgLogDir, 0755); err != nil {
			log.Logf("%s\n", err)
			return 1
		}
		log.Init(&log.Config{Dir: *flgLogDir})
		defer log.Close()
	}
	nFailed := 0
	for _, path := range paths {
		err := printInfo(path)
		if log.IfErrf(err, "'%s': %s", path, err) {
			nFailed++
		}
	}
	if nFailed > 0 {
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:]))
}
