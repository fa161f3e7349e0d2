// Command lascat inspects, validates and processes LAS point cloud files
// and directories of them.
//
// Usage:
//
//	lascat [glog flags] <command> [flags] <path>
//
// Commands:
//
//	info      print header summaries of a file or directory
//	check     validate a file and report issues
//	query     extract the points inside a box or circle
//	retile    rewrite a catalog as square tiles
//	treetops  detect tree tops across a catalog
//
// Shared settings are read from LASCAT_WORKERS, LASCAT_HEADER_CACHE and
// LASCAT_CACHE_BYTES, or from a .env file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/golang/glog"
)

const usage = `usage: lascat [glog flags] <command> [flags] <path>

commands:
  info      print header summaries of a file or directory
  check     validate a file and report issues
  query     extract the points inside a box or circle
  retile    rewrite a catalog as square tiles
  treetops  detect tree tops across a catalog
`

// errIssues marks a check that completed but found errors.
var errIssues = errors.New("validation found errors")

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	defer glog.Flush()

	cfg, err := loadConfig()
	if err != nil {
		glog.Exitf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errIssues) || errors.Is(err, flag.ErrHelp) {
			glog.Flush()
			os.Exit(1)
		}
		glog.Exitf("%v", err)
	}
}

func run(ctx context.Context, cfg config, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("no command given, want one of info|check|query|retile|treetops")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case "info":
		return cmdInfo(ctx, cfg, args, out)
	case "check":
		return cmdCheck(args, out)
	case "query":
		return cmdQuery(args, out)
	case "retile":
		return cmdRetile(ctx, cfg, args, out)
	case "treetops":
		return cmdTreeTops(ctx, cfg, args, out)
	case "help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("unrecognized command %q, want one of info|check|query|retile|treetops", cmd)
	}
}
