// Command mkchickadeefs builds a fresh chkfs image from a boot sector and
// a list of input files, per spec.md §4.6/§6.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mpucholblasco/chkfs"
)

func main() {
	var (
		nblocks    uint32
		ninodes    uint32
		firstData  uint32
		bootPath   string
		outPath    string
		nswap      uint32
		njournal   uint32
	)

	pflag.Uint32VarP(&nblocks, "blocks", "b", 1024, "total number of blocks in the image")
	pflag.Uint32VarP(&ninodes, "inodes", "i", 64, "number of inodes")
	pflag.Uint32VarP(&firstData, "first-data", "f", 0, "first data block (ignored: the data area always starts right after the inode table)")
	pflag.StringVarP(&bootPath, "boot-sector", "s", "", "path to a boot sector file (<=510 bytes)")
	pflag.StringVarP(&outPath, "output", "o", "", "output image path")
	pflag.Uint32Var(&nswap, "swap", 8, "number of swap blocks")
	pflag.Uint32Var(&njournal, "journal", 64, "number of journal blocks")
	pflag.Parse()

	if outPath == "" {
		fmt.Fprintln(os.Stderr, "mkchickadeefs: -o output path is required")
		os.Exit(1)
	}

	b := chkfs.NewBuilder(nblocks, ninodes, nswap, njournal)

	if bootPath != "" {
		data, err := os.ReadFile(bootPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkchickadeefs: reading boot sector: %s\n", err)
			os.Exit(1)
		}
		b.BootSector = data
	}

	for _, arg := range pflag.Args() {
		hostPath, name, _ := strings.Cut(arg, ":")
		if name == "" {
			name = baseName(hostPath)
		}
		data, err := os.ReadFile(hostPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mkchickadeefs: reading %s: %s\n", hostPath, err)
			os.Exit(1)
		}
		if err := b.Add(name, data); err != nil {
			fmt.Fprintf(os.Stderr, "mkchickadeefs: adding %s: %s\n", name, err)
			os.Exit(1)
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkchickadeefs: creating %s: %s\n", outPath, err)
		os.Exit(1)
	}
	defer out.Close()

	if err := b.Finalize(out); err != nil {
		fmt.Fprintf(os.Stderr, "mkchickadeefs: %s\n", err)
		os.Exit(1)
	}

	fmt.Printf("mkchickadeefs: wrote %s (%d blocks, %d inodes)\n", outPath, nblocks, ninodes)
}

func baseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}
