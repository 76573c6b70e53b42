// Command inspect dumps the feedsync key layout of a Pebble store for
// offline debugging.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

func main() {
	var (
		path   string
		prefix string
		values bool
	)
	flag.StringVar(&path, "path", "", "pebble store path (e.g. ./.feedsync/store)")
	flag.StringVar(&prefix, "prefix", "conv:", "key prefix to scan")
	flag.BoolVar(&values, "values", false, "print document bodies too")
	flag.Parse()
	if path == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}

	db, err := pebble.Open(path, &pebble.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	lower := []byte(prefix)
	upper := append(append([]byte(nil), lower...), 0xff)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		fmt.Fprintf(os.Stderr, "iterator failed: %v\n", err)
		os.Exit(1)
	}
	defer iter.Close()

	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		if values {
			fmt.Printf("%s\t%s\n", iter.Key(), iter.Value())
		} else {
			fmt.Printf("%s\n", iter.Key())
		}
		n++
	}
	if err := iter.Error(); err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d keys\n", n)
}
