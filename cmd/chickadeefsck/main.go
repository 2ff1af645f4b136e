// Command chickadeefsck checks (and optionally repairs via journal
// replay) a chkfs image, per spec.md §4.7/§6.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/mpucholblasco/chkfs"
)

func main() {
	var (
		verbose bool
		replay  bool
	)
	pflag.BoolVarP(&verbose, "verbose", "V", false, "print each check as it runs")
	pflag.BoolVarP(&replay, "replay", "r", false, "replay the journal before checking")
	pflag.Parse()

	var f *os.File
	var err error
	args := pflag.Args()
	if len(args) == 0 {
		f = os.Stdin
	} else {
		f, err = os.OpenFile(args[0], openFlags(replay), 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chickadeefsck: %s\n", err)
			os.Exit(1)
		}
		defer f.Close()
	}

	var disk *chkfs.Disk
	if replay {
		disk = chkfs.NewDisk(f, f)
	} else {
		disk = chkfs.NewDisk(f, nil)
	}
	c := chkfs.NewChecker(disk)
	c.Verbose = verbose

	if err := c.Check(replay); err != nil {
		fmt.Fprintf(os.Stderr, "chickadeefsck: %s\n", err)
		os.Exit(1)
	}

	for _, w := range c.Warnings() {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range c.Errors() {
		fmt.Printf("error: %s\n", e)
	}

	if !c.OK() {
		fmt.Printf("chickadeefsck: %d errors, %d warnings\n", len(c.Errors()), len(c.Warnings()))
		os.Exit(1)
	}
	fmt.Printf("chickadeefsck: ok (%d warnings)\n", len(c.Warnings()))
}

func openFlags(replay bool) int {
	if replay {
		return os.O_RDWR
	}
	return os.O_RDONLY
}

